package acpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// WatchURL converts an http(s) base URL into the watch WebSocket URL of a session.
func WatchURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/sessions/" + sessionID + "/watch"
	return u.String(), nil
}

// Watch streams every event of the session's runs to fn until ctx is done or the
// server closes the connection.
func (c *Client) Watch(ctx context.Context, sessionID string, fn EventFunc) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	addr, err := WatchURL(c.baseURL, sessionID)
	if err != nil {
		return domain.NewFrameworkError(nil, "invalid server url", err)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			return c.statusError(resp)
		}
		return c.transportError(ctx, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return c.transportError(ctx, err)
		}
		var evt domain.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.WithError(err).Warn("dropping malformed watch event")
			continue
		}
		fn(evt)
	}
}
