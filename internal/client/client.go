// Package client is the console end of the transport link. It dials the
// terminal host over WebSocket and feeds every inbound message into a
// registry.Registry.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/protocol"
	"github.com/GriffinCanCode/termhost/internal/registry"
)

const writeWait = 10 * time.Second

// Dispatcher consumes inbound messages.
type Dispatcher interface {
	Dispatch(msg protocol.Message)
}

// Client is a connection to a terminal host.
type Client struct {
	conn     *websocket.Conn
	dispatch Dispatcher
	logger   *zap.Logger

	writeMu sync.Mutex
}

// Options configures Dial.
type Options struct {
	Header http.Header
	Logger *zap.Logger
}

// Dial connects to url and routes inbound messages to d, which is usually a
// *registry.Registry.
func Dial(ctx context.Context, url string, d Dispatcher, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	return &Client{
		conn:     conn,
		dispatch: d,
		logger:   opts.Logger,
	}, nil
}

// Run reads messages until the connection closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed message", zap.Error(err))
			continue
		}
		c.dispatch.Dispatch(msg)
	}
}

// Create asks the host to create, or reattach to, terminalID.
func (c *Client) Create(terminalID, cwd string, cols, rows int) error {
	return c.send(protocol.Message{
		Type:       protocol.TypeCreate,
		TerminalID: terminalID,
		Cwd:        cwd,
		Cols:       cols,
		Rows:       rows,
	})
}

// Input sends keystrokes.
func (c *Client) Input(terminalID string, data []byte) error {
	return c.send(protocol.Message{Type: protocol.TypeInput, TerminalID: terminalID, Data: string(data)})
}

// Resize reports a new window size.
func (c *Client) Resize(terminalID string, cols, rows int) error {
	return c.send(protocol.Message{Type: protocol.TypeResize, TerminalID: terminalID, Cols: cols, Rows: rows})
}

// CloseTerminal terminates terminalID on the host.
func (c *Client) CloseTerminal(terminalID string) error {
	return c.send(protocol.Message{Type: protocol.TypeClose, TerminalID: terminalID})
}

// Sync asks the host to prune backing sessions not in activeIDs.
func (c *Client) Sync(activeIDs []string) error {
	return c.send(protocol.Message{Type: protocol.TypeSync, ActiveIDs: activeIDs})
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

var _ Dispatcher = (*registry.Registry)(nil)
