// Package logging builds the zap loggers used across the daemon.
//
// Production mode writes JSON; development mode writes colored console
// output at debug level. Subsystems take a named child:
//
//	log := logging.NewDefault()
//	mgr := terminal.NewManager(terminal.Options{Logger: log.Component("terminal")})
//
// Lifecycle events carry terminal_id, session and owner fields.
package logging
