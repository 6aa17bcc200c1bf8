// Package ws is the server end of the transport link between the terminal
// manager and console clients.
//
// Each WebSocket connection is a terminal.Owner. Terminals created or
// reattached over a connection stream their output to it until another
// connection claims them or the connection drops, at which point the
// manager orphans them.
//
// Message Types (Client → Server):
//   - pty:create: create a terminal, or reattach if the id is still alive
//   - pty:input: keystrokes for an owned terminal
//   - pty:resize: new window size
//   - pty:close: terminate a terminal
//   - pty:sync: prune backing sessions not in activeIds
//
// Message Types (Server → Client):
//   - pty:created: create/reattach acknowledgement
//   - pty:output: terminal output
//   - pty:exit: the process exited on its own
//   - pty:error: a request failed
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, ws.Config{Origins: cfg.CORS.Origins, Logger: log})
//	router.GET("/ws", handler.HandleConnection)
package ws
