package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/protocol"
	"github.com/GriffinCanCode/termhost/internal/terminal"
)

type fakeTerminals struct {
	mu        sync.Mutex
	live      map[string]*terminal.Info
	owners    map[string]terminal.Owner
	createErr error
	writes    []string
	closed    []string
	synced    [][]string
	orphaned  chan terminal.Owner
}

func newFakeTerminals() *fakeTerminals {
	return &fakeTerminals{
		live:     map[string]*terminal.Info{},
		owners:   map[string]terminal.Owner{},
		orphaned: make(chan terminal.Owner, 4),
	}
}

func (f *fakeTerminals) Create(_ context.Context, id, cwd string, cols, rows int) (*terminal.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	info := &terminal.Info{ID: id, Cwd: cwd, Cols: cols, Rows: rows}
	f.live[id] = info
	return info, nil
}

func (f *fakeTerminals) Attach(id string, owner terminal.Owner) (*terminal.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.live[id]
	if !ok {
		return nil, terminal.ErrNotFound
	}
	_, reattached := f.owners[id]
	f.owners[id] = owner
	out := *info
	out.Reattached = reattached
	return &out, nil
}

func (f *fakeTerminals) OrphanForClient(owner terminal.Owner) int {
	f.orphaned <- owner
	return 0
}

func (f *fakeTerminals) Close(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	if _, ok := f.live[id]; !ok {
		return terminal.ErrNotFound
	}
	delete(f.live, id)
	return nil
}

func (f *fakeTerminals) Resize(id string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.live[id]; ok {
		info.Cols, info.Rows = cols, rows
	}
	return nil
}

func (f *fakeTerminals) Write(id string, from terminal.Owner, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[id] != from {
		return terminal.ErrNotOwner
	}
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeTerminals) SyncActiveTerminals(_ context.Context, ids []string) terminal.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, ids)
	return terminal.SyncResult{}
}

func (f *fakeTerminals) owner(id string) terminal.Owner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[id]
}

func startServer(t *testing.T, terms Terminals, origins ...string) (*Handler, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handler := NewHandler(terms, Config{Origins: origins, DefaultCwd: "/home/test"}).
		WithMetrics(monitoring.NewMetrics())
	router := gin.New()
	router.GET("/ws", handler.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return handler, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func receive(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func TestCreateAcknowledges(t *testing.T) {
	terms := newFakeTerminals()
	_, url := startServer(t, terms, "*")
	conn := dial(t, url)

	send(t, conn, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 80, Rows: 24})

	msg := receive(t, conn)
	assert.Equal(t, protocol.TypeCreated, msg.Type)
	assert.Equal(t, "t1", msg.TerminalID)
	assert.Equal(t, "/home/test", msg.Cwd)
	assert.Equal(t, 80, msg.Cols)
	assert.False(t, msg.Reattached)
	assert.NotNil(t, terms.owner("t1"))
}

func TestCreateGeneratesID(t *testing.T) {
	terms := newFakeTerminals()
	_, url := startServer(t, terms, "*")
	conn := dial(t, url)

	send(t, conn, protocol.Message{Type: protocol.TypeCreate, Cols: 80, Rows: 24})

	msg := receive(t, conn)
	assert.Equal(t, protocol.TypeCreated, msg.Type)
	assert.True(t, strings.HasPrefix(msg.TerminalID, "term_"))
}

func TestReattachFromNewConnection(t *testing.T) {
	terms := newFakeTerminals()
	_, url := startServer(t, terms, "*")

	first := dial(t, url)
	send(t, first, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 80, Rows: 24})
	receive(t, first)
	firstOwner := terms.owner("t1")

	second := dial(t, url)
	send(t, second, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 100, Rows: 30})
	msg := receive(t, second)

	assert.True(t, msg.Reattached)
	assert.Equal(t, 100, msg.Cols)
	assert.NotSame(t, firstOwner, terms.owner("t1"))
}

func TestCreateFailureSendsError(t *testing.T) {
	terms := newFakeTerminals()
	terms.createErr = errors.New("no shell found")
	_, url := startServer(t, terms, "*")
	conn := dial(t, url)

	send(t, conn, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 80, Rows: 24})

	msg := receive(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Equal(t, "t1", msg.TerminalID)
	assert.Contains(t, msg.Error, "no shell found")
}

func TestInputRequiresOwnership(t *testing.T) {
	terms := newFakeTerminals()
	_, url := startServer(t, terms, "*")

	owner := dial(t, url)
	send(t, owner, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 80, Rows: 24})
	receive(t, owner)
	send(t, owner, protocol.Message{Type: protocol.TypeInput, TerminalID: "t1", Data: "ls\n"})

	other := dial(t, url)
	send(t, other, protocol.Message{Type: protocol.TypeInput, TerminalID: "t1", Data: "rm\n"})
	msg := receive(t, other)
	assert.Equal(t, protocol.TypeError, msg.Type)

	require.Eventually(t, func() bool {
		terms.mu.Lock()
		defer terms.mu.Unlock()
		return len(terms.writes) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ls\n"}, terms.writes)
}

func TestDeliverReachesClient(t *testing.T) {
	terms := newFakeTerminals()
	_, url := startServer(t, terms, "*")
	conn := dial(t, url)

	send(t, conn, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 80, Rows: 24})
	receive(t, conn)

	terms.owner("t1").Deliver(protocol.Output("t1", "hello"))
	terms.owner("t1").Deliver(protocol.Exit("t1", 0))

	out := receive(t, conn)
	assert.Equal(t, protocol.TypeOutput, out.Type)
	assert.Equal(t, "hello", out.Data)
	exit := receive(t, conn)
	assert.Equal(t, protocol.TypeExit, exit.Type)
}

func TestDisconnectOrphansOwnedTerminals(t *testing.T) {
	terms := newFakeTerminals()
	handler, url := startServer(t, terms, "*")
	conn := dial(t, url)

	send(t, conn, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 80, Rows: 24})
	receive(t, conn)
	owner := terms.owner("t1")
	require.NoError(t, conn.Close())

	select {
	case orphaned := <-terms.orphaned:
		assert.Same(t, owner, orphaned)
	case <-time.After(2 * time.Second):
		t.Fatal("terminals were not orphaned on disconnect")
	}
	require.Eventually(t, func() bool { return handler.Connections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCloseAndSync(t *testing.T) {
	terms := newFakeTerminals()
	_, url := startServer(t, terms, "*")
	conn := dial(t, url)

	send(t, conn, protocol.Message{Type: protocol.TypeCreate, TerminalID: "t1", Cols: 80, Rows: 24})
	receive(t, conn)
	send(t, conn, protocol.Message{Type: protocol.TypeClose, TerminalID: "t1"})
	send(t, conn, protocol.Message{Type: protocol.TypeSync, ActiveIDs: []string{"t2"}})
	// Closing an unknown terminal is not reported.
	send(t, conn, protocol.Message{Type: protocol.TypeClose, TerminalID: "missing"})

	require.Eventually(t, func() bool {
		terms.mu.Lock()
		defer terms.mu.Unlock()
		return len(terms.closed) == 2 && len(terms.synced) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"t2"}, terms.synced[0])
}

func TestUnknownMessageType(t *testing.T) {
	_, url := startServer(t, newFakeTerminals(), "*")
	conn := dial(t, url)

	send(t, conn, protocol.Message{Type: "pty:bogus", TerminalID: "t1"})

	msg := receive(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Error, "pty:bogus")
}

func TestMalformedMessageErrorNamesTerminal(t *testing.T) {
	_, url := startServer(t, newFakeTerminals(), "*")
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"terminalId":"t1","cols":80}`)))
	msg := receive(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Equal(t, "t1", msg.TerminalID)
	assert.Contains(t, msg.Error, "type is required")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	msg = receive(t, conn)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Empty(t, msg.TerminalID)
}

func TestRejectsDisallowedOrigin(t *testing.T) {
	_, url := startServer(t, newFakeTerminals(), "https://console.example.com")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
