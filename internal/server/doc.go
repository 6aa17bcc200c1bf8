// Package server wires the terminal host together.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, request ids, logging, CORS, rate limiting, metrics)
//   - Command resolver and optional tmux persistence backing
//   - Terminal manager and the WebSocket transport
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Build the resolver, backing and terminal manager
//  4. Optionally prune stale backing sessions
//  5. Setup HTTP routes and middleware
//  6. Start HTTP server
//  7. Graceful shutdown on signal: clients are disconnected and terminals
//     detached, backed sessions keep running
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg, server.Dependencies{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Run()
//	...
//	srv.Shutdown(ctx)
package server
