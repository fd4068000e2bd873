package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/acp/internal/agent"
	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/policy"
	"github.com/xiaot623/gogo/acp/internal/registry"
	"github.com/xiaot623/gogo/acp/internal/service"
	"github.com/xiaot623/gogo/acp/tests/helpers"
)

type mapCatalog map[string]*registry.Handler

func (c mapCatalog) Get(name string) (*registry.Handler, bool) {
	h, ok := c[name]
	return h, ok
}

func (c mapCatalog) List() []domain.AgentDescriptor {
	var out []domain.AgentDescriptor
	for _, h := range c {
		out = append(out, h.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	reg := registry.NewRegistry()
	catalog := mapCatalog{}
	add := func(a agent.Agent, meta registry.Metadata) {
		h, err := reg.Build(a, meta)
		require.NoError(t, err)
		catalog[h.Descriptor.Name] = h
	}
	add(agent.NewEchoAgent("echo", nil), registry.Metadata{Tags: []string{"demo"}})
	add(agent.NewEchoAgent("off", nil), registry.Metadata{Metadata: map[string]any{"disabled": true}})
	add(agent.NewFuncAgent("panicky", "", func(context.Context, domain.Input, agent.Emitter) (*domain.RunOutput, error) {
		panic("boom")
	}), registry.Metadata{})

	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	cfg := config.Default()
	svc := service.New(helpers.NewTestSQLiteStore(t), catalog, cfg, engine, nil)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return NewHandler(svc, nil, cfg)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorBody {
	t.Helper()
	var body domain.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestListAndGetAgents(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	require.NoError(t, h.ListAgents(e.NewContext(httptest.NewRequest(http.MethodGet, "/agents", nil), rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	var list domain.AgentsListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Agents, 3)
	assert.Equal(t, "echo", list.Agents[0].Name)
	assert.Equal(t, []string{"demo"}, list.Agents[0].Tags)

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/agents/ghost", nil), rec)
	c.SetParamNames("name")
	c.SetParamValues("ghost")
	require.NoError(t, h.GetAgent(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, domain.ErrorCodeNotFound, body.Code)
	assert.Equal(t, "ghost", body.Data["agent_name"])
}

func TestCreateRunSync(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"echo","input":[{"role":"user","parts":[{"content":"hi there"}]}]}`), rec)
	require.NoError(t, h.CreateRun(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, "hi there", run.OutputText())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/runs/"+run.RunID+"/events?after_seq=2", nil), rec)
	c.SetParamNames("run_id")
	c.SetParamValues(run.RunID)
	require.NoError(t, h.GetRunEvents(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var events domain.EventsListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.NotEmpty(t, events.Events)
	assert.Equal(t, 3, events.Events[0].Seq)
}

func TestCreateRunStream(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/agents/echo/runs", `{"input":[{"role":"user","parts":[{"content":"a b c"}]}]}`)
	req.Header.Set(echo.HeaderAccept, "text/event-stream")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("echo")
	require.NoError(t, h.CreateRun(c))

	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	var types []domain.EventType
	var texts []string
	for _, frame := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n") {
		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2)
		var evt domain.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &evt))
		assert.Equal(t, "event: "+string(evt.Type), lines[0])
		types = append(types, evt.Type)
		if evt.Update != nil {
			texts = append(texts, evt.Update.Text)
		}
	}
	assert.Equal(t, []string{"a", " b", " c"}, texts)
	assert.Equal(t, domain.EventTypeRunCreated, types[0])
	assert.Equal(t, domain.EventTypeRunCompleted, types[len(types)-1])
}

func TestCreateRunStreamUnknownAgent(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"ghost","mode":"stream","input":[{"role":"user","parts":[{"content":"x"}]}]}`), rec)
	require.NoError(t, h.CreateRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ghost", decodeError(t, rec).Data["agent_name"])
}

func TestCreateRunValidationAndPolicy(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	require.NoError(t, h.CreateRun(e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":`), rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	require.NoError(t, h.CreateRun(e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"echo","input":[]}`), rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrorCodeInvalidInput, decodeError(t, rec).Code)

	rec = httptest.NewRecorder()
	require.NoError(t, h.CreateRun(e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"off","input":[{"role":"user","parts":[{"content":"x"}]}]}`), rec)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, domain.ErrorCodeForbidden, decodeError(t, rec).Code)
}

func TestCreateRunPanicBecomesFailedRun(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	require.NoError(t, h.CreateRun(e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"panicky","input":[{"role":"user","parts":[{"content":"x"}]}]}`), rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, run.Error.Message, "boom")

	rec = httptest.NewRecorder()
	require.NoError(t, h.CreateRun(e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"echo","input":[{"role":"user","parts":[{"content":"ok"}]}]}`), rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAsyncRunAndCancel(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	require.NoError(t, h.CreateRun(e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"echo","mode":"async","session_id":"s1","input":[{"role":"user","parts":[{"content":"later"}]}]}`), rec)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	getRun := func(id string) (int, domain.Run) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/runs/"+id, nil), rec)
		c.SetParamNames("run_id")
		c.SetParamValues(id)
		require.NoError(t, h.GetRun(c))
		var got domain.Run
		_ = json.Unmarshal(rec.Body.Bytes(), &got)
		return rec.Code, got
	}
	require.Eventually(t, func() bool {
		code, got := getRun(run.RunID)
		return code == http.StatusOK && got.Status == domain.RunStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/runs/"+id+"/cancel", nil), rec)
		c.SetParamNames("run_id")
		c.SetParamValues(id)
		require.NoError(t, h.CancelRun(c))
		return rec
	}
	assert.Equal(t, http.StatusConflict, cancel(run.RunID).Code)

	rec = cancel("run_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "run_missing", decodeError(t, rec).Data["run_id"])

	code, _ := getRun("run_missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetSessionMessages(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	for _, text := range []string{"one", "two"} {
		rec := httptest.NewRecorder()
		require.NoError(t, h.CreateRun(e.NewContext(jsonRequest(http.MethodPost, "/runs", `{"agent_name":"echo","session_id":"s1","input":[{"role":"user","parts":[{"content":"`+text+`"}]}]}`), rec)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/sessions/s1/messages?limit=3", nil), rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	require.NoError(t, h.GetSessionMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.MessagesListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.HasMore)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "two", resp.Messages[2].Message.Text())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/sessions/s1/messages?limit=x", nil), rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	require.NoError(t, h.GetSessionMessages(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
