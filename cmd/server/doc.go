// Package main is the entry point for the termhost server.
//
// termhost launches interactive programs on pseudoterminals and streams them
// to browser consoles over WebSocket. Terminals outlive the connection that
// created them: an orphaned terminal waits for a reattach, and with tmux
// enabled it survives restarts of this server.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -program claude
//
//	# Development mode (colored logs, debug level)
//	./server -dev -tmux=false
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown. Direct terminals are killed,
//     tmux sessions keep running.
package main
