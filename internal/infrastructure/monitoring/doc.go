/*
Package monitoring provides Prometheus metrics for the terminal host.

# Overview

Metrics cover the HTTP surface, the terminal lifecycle (created, orphaned,
killed, natural exits), backing reconciliation, and the WebSocket transport.
Each Metrics value owns a private registry.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	manager := terminal.NewManager(opts).WithMetrics(metrics)
*/
package monitoring
