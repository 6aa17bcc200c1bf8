package ws

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/api/middleware"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/protocol"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/terminal"
)

// Terminals is the subset of the terminal manager driven by connections.
type Terminals interface {
	Create(ctx context.Context, id, cwd string, cols, rows int) (*terminal.Info, error)
	Attach(id string, owner terminal.Owner) (*terminal.Info, error)
	OrphanForClient(owner terminal.Owner) int
	Close(ctx context.Context, id string) error
	Resize(id string, cols, rows int) error
	Write(id string, from terminal.Owner, data []byte) error
	SyncActiveTerminals(ctx context.Context, activeIDs []string) terminal.SyncResult
}

// Config configures a Handler.
type Config struct {
	// Origins lists browser origins allowed to connect. "*" allows any.
	Origins []string
	// DefaultCwd is used when pty:create carries no cwd.
	DefaultCwd string
	Logger     *zap.Logger
}

// Handler manages WebSocket connections
type Handler struct {
	terminals  Terminals
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	upgrader   websocket.Upgrader
	defaultCwd string

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(terminals Terminals, cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultCwd == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DefaultCwd = home
		}
	}

	origins := cfg.Origins
	return &Handler{
		terminals:  terminals,
		logger:     cfg.Logger,
		defaultCwd: cfg.DefaultCwd,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(origins, r.Header.Get("Origin"))
			},
		},
		conns: make(map[*Conn]struct{}),
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(id.NewConnectionID().String(), ws, h.logger, h.metrics)
	h.track(conn, true)
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	conn.logger.Info("Client connected", zap.String("remote", c.ClientIP()))

	go conn.writePump()
	h.readPump(c.Request.Context(), conn)

	orphaned := h.terminals.OrphanForClient(conn)
	conn.Close()
	h.track(conn, false)
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
	conn.logger.Info("Client disconnected", zap.Int("orphaned", orphaned))
}

// CloseAll disconnects every client.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Connections returns the number of connected clients.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(c *Conn, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.conns[c] = struct{}{}
	} else {
		delete(h.conns, c)
	}
}

func (h *Handler) readPump(ctx context.Context, conn *Conn) {
	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			conn.Deliver(protocol.Message{
				Type:       protocol.TypeError,
				TerminalID: protocol.TerminalIDOf(data),
				Error:      err.Error(),
			})
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}
		h.dispatch(ctx, conn, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Conn, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeCreate:
		h.handleCreate(ctx, conn, msg)
	case protocol.TypeInput:
		if err := h.terminals.Write(msg.TerminalID, conn, []byte(msg.Data)); err != nil {
			h.sendError(conn, msg.TerminalID, err)
		}
	case protocol.TypeResize:
		if err := h.terminals.Resize(msg.TerminalID, msg.Cols, msg.Rows); err != nil {
			h.sendError(conn, msg.TerminalID, err)
		}
	case protocol.TypeClose:
		if err := h.terminals.Close(ctx, msg.TerminalID); err != nil && !errors.Is(err, terminal.ErrNotFound) {
			h.sendError(conn, msg.TerminalID, err)
		}
	case protocol.TypeSync:
		result := h.terminals.SyncActiveTerminals(ctx, msg.ActiveIDs)
		if result.Skipped {
			conn.logger.Warn("Sync skipped", zap.String("reason", result.Reason))
		}
	default:
		conn.Deliver(protocol.Message{
			Type:       protocol.TypeError,
			TerminalID: msg.TerminalID,
			Error:      "unsupported message type " + msg.Type,
		})
	}
}

// handleCreate reattaches to a live terminal or creates a new one. Either way
// the connection becomes the owner and is acknowledged with pty:created.
func (h *Handler) handleCreate(ctx context.Context, conn *Conn, msg protocol.Message) {
	termID := msg.TerminalID
	if termID == "" {
		termID = id.NewTerminalID().String()
	}

	info, err := h.terminals.Attach(termID, conn)
	switch {
	case err == nil:
		if msg.Cols > 0 && msg.Rows > 0 {
			if rerr := h.terminals.Resize(termID, msg.Cols, msg.Rows); rerr == nil {
				info.Cols, info.Rows = msg.Cols, msg.Rows
			}
		}
	case errors.Is(err, terminal.ErrNotFound):
		cwd := msg.Cwd
		if cwd == "" {
			cwd = h.defaultCwd
		}
		_, err = h.terminals.Create(ctx, termID, cwd, msg.Cols, msg.Rows)
		if err != nil && !errors.Is(err, terminal.ErrExists) {
			h.sendError(conn, termID, err)
			return
		}
		info, err = h.terminals.Attach(termID, conn)
		if err != nil {
			h.sendError(conn, termID, err)
			return
		}
	default:
		h.sendError(conn, termID, err)
		return
	}

	conn.Deliver(protocol.Message{
		Type:       protocol.TypeCreated,
		TerminalID: termID,
		Cols:       info.Cols,
		Rows:       info.Rows,
		Cwd:        info.Cwd,
		Reattached: info.Reattached,
	})
}

func (h *Handler) sendError(conn *Conn, terminalID string, err error) {
	conn.logger.Warn("Request failed", zap.String("terminal_id", terminalID), zap.Error(err))
	conn.Deliver(protocol.Message{
		Type:       protocol.TypeError,
		TerminalID: terminalID,
		Error:      err.Error(),
	})
}
