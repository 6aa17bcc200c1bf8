// Package http provides the REST surface of the terminal host.
//
// Endpoints:
//   - Health: / and /health
//   - Terminals: GET /terminals, GET /terminals/:id, DELETE /terminals/:id
//   - Scrollback: GET /terminals/:id/scrollback
//   - Reconciliation: POST /terminals/sync {"active_ids": [...]}
//
// Errors are returned as {"error": "..."}: 400 for invalid input, 404 for an
// unknown terminal and 500 otherwise.
//
// Example Usage:
//
//	handlers := http.NewHandlers(manager, wsHandler)
//	router.GET("/terminals", handlers.ListTerminals)
//	router.DELETE("/terminals/:id", handlers.CloseTerminal)
package http
