package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"agents":[{"name":"echo","description":"Echoes","tags":["builtin"]}]}`)
	})
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i, word := range []string{"hello", " world"} {
			evt := domain.Event{Type: domain.EventTypeMessagePart, RunID: "r1", Seq: i + 1, Update: &domain.Update{Seq: i + 1, Text: word}}
			data, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
		}
		done := domain.Event{Type: domain.EventTypeRunCompleted, RunID: "r1", Run: &domain.Run{
			RunID:  "r1",
			Status: domain.RunStatusCompleted,
			Output: []domain.Message{domain.NewMessage(domain.RoleAssistant, "hello world")},
		}}
		data, _ := json.Marshal(done)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", done.Type, data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAgentsCommand(t *testing.T) {
	srv := fakeServer(t)
	out, err := execute(t, "agents", "--url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "builtin")
}

func TestRunCommandStreamsUpdates(t *testing.T) {
	srv := fakeServer(t)
	out, err := execute(t, "run", "--url", srv.URL, "echo", "hello", "world")
	require.NoError(t, err)
	assert.Contains(t, out, "hello world")
}

func TestRunCommandUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := execute(t, "run", "--url", url, "echo", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}
