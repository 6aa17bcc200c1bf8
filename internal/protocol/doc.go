// Package protocol defines the typed messages exchanged between the terminal
// host and console clients.
//
// Message Types (Client → Server):
//   - pty:create: create a terminal, or reattach when the id is still alive
//   - pty:input: keystrokes for a terminal
//   - pty:resize: new terminal dimensions
//   - pty:close: operator-driven termination
//   - pty:sync: reconcile backing sessions against the active id list
//
// Message Types (Server → Client):
//   - pty:created: create or reattach acknowledged
//   - pty:output: streamed terminal output
//   - pty:exit: the process exited on its own
//   - pty:error: request failed
package protocol
