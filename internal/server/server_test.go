package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/acp/internal/adapter/acpclient"
	"github.com/xiaot623/gogo/acp/internal/agent"
	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/discovery"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/registry"
	"github.com/xiaot623/gogo/acp/tests/helpers"
)

type customBot struct{}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.RunTimeout = 5 * time.Second
	opts = append([]Option{WithStore(helpers.NewTestSQLiteStore(t)), WithRegistry(registry.NewRegistry())}, opts...)
	s, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return s
}

// startServer serves s on a random local port until the test ends.
func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)
	return url
}

func TestRegisterStateMachine(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, StateUnconfigured, s.State())

	desc, err := s.Register(agent.NewEchoAgent("echo", nil), WithTags("demo"), WithMetadata(map[string]any{"owner": "qa"}))
	require.NoError(t, err)
	assert.Equal(t, "echo", desc.Name)
	assert.Equal(t, []string{"demo"}, desc.Tags)
	assert.Equal(t, "qa", desc.Metadata["owner"])
	assert.False(t, desc.RegisteredAt.IsZero())
	assert.Equal(t, StateRegistering, s.State())

	_, err = s.Register(agent.NewEchoAgent("echo", nil))
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	renamed, err := s.Register(agent.NewEchoAgent("echo", nil), WithName("echo-2"))
	require.NoError(t, err)
	assert.Equal(t, "echo-2", renamed.Name)

	_, err = s.Register(agent.NewFuncAgent("", "nameless", nil))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	names := []string{}
	for _, d := range s.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"echo", "echo-2"}, names)
}

func TestRegisterMissingFactory(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Register(customBot{})
	var missing *registry.MissingFactoryError
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, err.Error(), "server.customBot")
}

func TestRegisterWithCustomFactory(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.RegisterFactory(registry.TypeTag(customBot{}), func(instance any, meta registry.Metadata) (*registry.Handler, error) {
		return &registry.Handler{
			Descriptor: domain.AgentDescriptor{Name: "custom", Description: "adapted"},
			Run: func(ctx context.Context, input domain.Input, emit agent.Emitter) (*domain.RunOutput, error) {
				return domain.TextOutput("custom says " + input.LastUserText()), nil
			},
		}, nil
	}))
	s := newTestServer(t, WithRegistry(reg))

	desc, err := s.Register(customBot{})
	require.NoError(t, err)
	assert.Equal(t, "custom", desc.Name)

	url := startServer(t, s)
	res, err := acpclient.New(url, "custom").Run(context.Background(), domain.Prompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "custom says hi", res.Text())
}

func TestRegisterAfterServeFails(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Register(agent.NewEchoAgent("echo", nil))
	require.NoError(t, err)

	url := startServer(t, s)
	assert.Equal(t, StateServing, s.State())

	_, err = s.Register(agent.NewEchoAgent("late", nil))
	assert.ErrorIs(t, err, ErrServerStarted)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, s.ServeListener(context.Background(), ln), ErrServerStarted)

	agents, err := acpclient.New(url, "echo").ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
}

func TestEndToEndClientAndServer(t *testing.T) {
	s := newTestServer(t)
	s.MustRegister(agent.NewEchoAgent("echo", nil))
	s.MustRegister(agent.NewFuncAgent("slow", "waits", func(ctx context.Context, input domain.Input, emit agent.Emitter) (*domain.RunOutput, error) {
		if err := agent.EmitText(ctx, emit, "working"); err != nil {
			return nil, err
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	s.MustRegister(agent.NewFuncAgent("broken", "fails", func(context.Context, domain.Input, agent.Emitter) (*domain.RunOutput, error) {
		panic("broken agent")
	}))
	url := startServer(t, s)
	ctx := context.Background()

	client := acpclient.New(url, "echo", acpclient.WithSessionID("sess-e2e"))
	var updates []string
	terminal := 0
	res, err := client.Run(ctx, domain.Prompt("one two three four"),
		acpclient.OnUpdate(func(u domain.Update) { updates = append(updates, u.Text) }),
		acpclient.OnEvent(func(e domain.Event) {
			if e.Type.Terminal() {
				terminal++
			}
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", " two", " three", " four"}, updates)
	assert.Equal(t, 1, terminal)
	assert.Equal(t, "one two three four", res.Text())

	assert.NoError(t, client.CheckAgentExists(ctx))
	err = acpclient.New(url, "ghost").CheckAgentExists(ctx)
	var agentErr *domain.AgentError
	require.True(t, errors.As(err, &agentErr))
	assert.Equal(t, "ghost", agentErr.Agent)

	_, err = acpclient.New(url, "ghost").Run(ctx, domain.Prompt("hi"))
	require.True(t, errors.As(err, &agentErr))

	_, err = acpclient.New(url, "broken").Run(ctx, domain.Prompt("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFramework)
	assert.Contains(t, err.Error(), "broken agent")

	runIDs := make(chan string, 1)
	p := acpclient.New(url, "slow").Start(ctx, domain.Prompt("wait"), acpclient.OnUpdate(func(u domain.Update) {
		select {
		case runIDs <- "started":
		default:
		}
	}), acpclient.OnEvent(func(e domain.Event) {
		if e.Type == domain.EventTypeRunCreated {
			select {
			case runIDs <- e.RunID:
			default:
			}
		}
	}))
	runID := <-runIDs
	p.Cancel()
	_, err = p.Wait()
	assert.ErrorIs(t, err, domain.ErrAborted)

	require.Eventually(t, func() bool {
		run, err := client.GetRun(ctx, runID)
		return err == nil && run.Status == domain.RunStatusCancelled
	}, 5*time.Second, 20*time.Millisecond)

	// The listener survived the panic and the aborted stream.
	res, err = client.Run(ctx, domain.Prompt("still here"))
	require.NoError(t, err)
	assert.Equal(t, "still here", res.Text())
}

func TestSelfRegistration(t *testing.T) {
	registrar := discovery.NewMemoryRegistrar()
	cfg := config.Default()
	cfg.SelfRegister = true
	cfg.ServerName = "acp-test"

	s, err := New(context.Background(), cfg,
		WithStore(helpers.NewTestSQLiteStore(t)),
		WithRegistry(registry.NewRegistry()),
		WithRegistrar(registrar),
	)
	require.NoError(t, err)
	s.MustRegister(agent.NewEchoAgent("echo", nil))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		recs, _ := registrar.Discover(context.Background(), "acp-test")
		return len(recs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	recs, _ := registrar.Discover(context.Background(), "acp-test")
	assert.Equal(t, []string{"echo"}, recs[0].Agents)
	assert.Equal(t, "http://"+ln.Addr().String(), recs[0].URL)

	cancel()
	require.NoError(t, <-done)
	recs, _ = registrar.Discover(context.Background(), "")
	assert.Empty(t, recs)
	assert.Equal(t, StateStopped, s.State())
}

func TestHealthReportsState(t *testing.T) {
	s := newTestServer(t)
	s.MustRegister(agent.NewEchoAgent("echo", nil))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"registering"`)
	assert.Contains(t, rec.Body.String(), `"agents":1`)
}

func TestWatchSessionReceivesRunEvents(t *testing.T) {
	s := newTestServer(t)
	s.MustRegister(agent.NewEchoAgent("echo", nil))
	url := startServer(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := acpclient.New(url, "echo", acpclient.WithSessionID("watched"))
	events := make(chan domain.Event, 64)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- client.Watch(ctx, "watched", func(e domain.Event) { events <- e })
	}()

	// Broadcasts are dropped until the watcher is registered, so retry the run until one is seen.
	var seen []domain.EventType
	require.Eventually(t, func() bool {
		if _, err := client.Run(context.Background(), domain.Prompt("ping pong")); err != nil {
			return false
		}
		for {
			select {
			case e := <-events:
				seen = append(seen, e.Type)
				if e.Type == domain.EventTypeRunCompleted {
					return true
				}
			case <-time.After(200 * time.Millisecond):
				return false
			}
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Contains(t, seen, domain.EventTypeMessagePart)

	cancel()
	select {
	case err := <-watchDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestServeWithUnreachableEtcd(t *testing.T) {
	prev := registerTimeout
	registerTimeout = 200 * time.Millisecond
	t.Cleanup(func() { registerTimeout = prev })

	cfg := config.Default()
	cfg.SelfRegister = true
	cfg.EtcdEndpoints = []string{"127.0.0.1:1"}
	s, err := New(context.Background(), cfg,
		WithStore(helpers.NewTestSQLiteStore(t)),
		WithRegistry(registry.NewRegistry()),
	)
	require.NoError(t, err)
	s.MustRegister(agent.NewEchoAgent("echo", nil))

	start := time.Now()
	url := startServer(t, s)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateServing, s.State())

	// Still serving once the registration attempt has given up.
	time.Sleep(2 * registerTimeout)
	res, err := acpclient.New(url, "echo").Run(context.Background(), domain.Prompt("up"))
	require.NoError(t, err)
	assert.Equal(t, "up", res.Text())
}
