package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termhost/internal/client"
	"github.com/GriffinCanCode/termhost/internal/command"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/protocol"
	"github.com/GriffinCanCode/termhost/internal/registry"
	"github.com/GriffinCanCode/termhost/internal/terminal"
)

// echoProcess writes every input back as output.
type echoProcess struct {
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (p *echoProcess) Read(b []byte) (int, error) {
	select {
	case data := <-p.out:
		return copy(b, data), nil
	case <-p.done:
		return 0, io.EOF
	}
}

func (p *echoProcess) Write(b []byte) (int, error) {
	p.out <- append([]byte(nil), b...)
	return len(b), nil
}

func (p *echoProcess) Pid() int              { return 4242 }
func (p *echoProcess) Resize(int, int) error { return nil }
func (p *echoProcess) Close() error          { return nil }

func (p *echoProcess) Wait() (int, error) {
	<-p.done
	return 0, nil
}

func (p *echoProcess) Kill() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type echoSpawner struct{}

func (echoSpawner) Spawn(terminal.SpawnSpec) (terminal.Process, error) {
	return &echoProcess{out: make(chan []byte, 16), done: make(chan struct{})}, nil
}

// memBacking keeps sessions alive in memory.
type memBacking struct{}

func (memBacking) Probe(context.Context) error { return nil }

func (memBacking) AttachCommand(_, _ string, c command.Candidate) command.Candidate { return c }

func (memBacking) KillSession(context.Context, string) error { return nil }

func (memBacking) ListSessions(context.Context) ([]string, error) { return nil, nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Backing.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.CORS.Origins = []string{"*"}
	return cfg
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerWith(t, Dependencies{})
}

func newTestServerWith(t *testing.T, deps Dependencies) (*Server, *httptest.Server) {
	t.Helper()
	deps.Spawner = echoSpawner{}
	deps.Logger = logging.NewNop()
	srv, err := NewServer(testConfig(), deps)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.Terminals().Shutdown(context.Background())
	})
	return srv, ts
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Terminal.OrphanTimeout = -time.Second

	_, err := NewServer(cfg, Dependencies{Logger: logging.NewNop()})
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, "termhost"},
		{"/health", http.StatusOK, "healthy"},
		{"/terminals", http.StatusOK, `"count":0`},
		{"/terminals/missing", http.StatusNotFound, "not found"},
		{"/metrics", http.StatusOK, "termhost_"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, string(body), tt.wantBody)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}

func TestSyncWithoutBackingIsSkipped(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/terminals/sync", "application/json", strings.NewReader(`{"active_ids":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var result terminal.SyncResult
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, result.Skipped)
}

// TestEndToEnd drives a terminal from the client registry through the
// WebSocket link to the manager and back.
func TestEndToEnd(t *testing.T) {
	srv, ts := newTestServer(t)

	var mu sync.Mutex
	var received strings.Builder
	reg := registry.New(registry.Config{FrameInterval: time.Millisecond})
	t.Cleanup(reg.Close)

	created := make(chan protocol.Message, 1)
	reg.RegisterHandler("t1", func(msg protocol.Message) {
		switch msg.Type {
		case protocol.TypeCreated:
			created <- msg
		case protocol.TypeOutput:
			mu.Lock()
			received.WriteString(msg.Data)
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, err := client.Dial(ctx, url, reg, client.Options{})
	require.NoError(t, err)
	go func() { _ = c.Run(ctx) }()

	require.NoError(t, c.Create("t1", "/tmp", 80, 24))
	select {
	case msg := <-created:
		assert.Equal(t, "t1", msg.TerminalID)
		assert.False(t, msg.Reattached)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal was not created")
	}
	assert.True(t, srv.Terminals().Exists("t1"))

	require.NoError(t, c.Input("t1", []byte("echo hi\n")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received.String() == "echo hi\n"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.CloseTerminal("t1"))
	require.Eventually(t, func() bool { return !srv.Terminals().Exists("t1") }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
}

// dialRecorder connects a client whose handler for id collects output and
// reports create acknowledgements.
func dialRecorder(t *testing.T, ts *httptest.Server, id string) (*client.Client, chan protocol.Message, func() string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	var mu sync.Mutex
	var received strings.Builder
	reg := registry.New(registry.Config{FrameInterval: time.Millisecond})
	t.Cleanup(reg.Close)

	created := make(chan protocol.Message, 1)
	reg.RegisterHandler(id, func(msg protocol.Message) {
		switch msg.Type {
		case protocol.TypeCreated:
			created <- msg
		case protocol.TypeOutput:
			mu.Lock()
			received.WriteString(msg.Data)
			mu.Unlock()
		}
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, err := client.Dial(ctx, url, reg, client.Options{})
	require.NoError(t, err)
	go func() { _ = c.Run(ctx) }()

	return c, created, func() string {
		mu.Lock()
		defer mu.Unlock()
		return received.String()
	}
}

func TestBackedTerminalReattachRepaintsScreen(t *testing.T) {
	srv, ts := newTestServerWith(t, Dependencies{Backing: memBacking{}})

	first, created, output := dialRecorder(t, ts, "t1")
	require.NoError(t, first.Create("t1", "/tmp", 80, 24))
	select {
	case msg := <-created:
		assert.False(t, msg.Reattached)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal was not created")
	}
	require.NoError(t, first.Input("t1", []byte("prompt$ ")))
	require.Eventually(t, func() bool { return output() == "prompt$ " }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return srv.Terminals().Owner("t1") == nil }, 2*time.Second, 5*time.Millisecond)
	require.True(t, srv.Terminals().Exists("t1"))

	second, created, output := dialRecorder(t, ts, "t1")
	defer second.Close()
	require.NoError(t, second.Create("t1", "/tmp", 80, 24))
	select {
	case msg := <-created:
		assert.True(t, msg.Reattached)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal was not reattached")
	}
	require.Eventually(t, func() bool { return output() == "prompt$ " }, 2*time.Second, 5*time.Millisecond)
}
