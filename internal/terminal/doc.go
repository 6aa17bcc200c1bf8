// Package terminal manages long-running interactive processes attached to
// pseudoterminals on behalf of console clients.
//
// Each terminal id maps to at most one live process. A process is spawned
// either directly on a PTY or, when a persistence backing is configured and
// orphans are tolerated, through a tmux attach-or-create invocation so the
// program outlives this host.
//
// Lifecycle:
//
//	Create ──► Owned ──OrphanForClient──► Orphaned ──timeout──► Removed
//	             ▲                            │
//	             └──────── SetOwner ──────────┘
//
// Close removes a terminal from any state. A natural process exit fires the
// OnPtyDied callback exactly once and removes the record. Removed is final:
// creating the same id again starts a fresh record.
//
// Ownership is compared by identity. OrphanForClient only affects terminals
// whose current owner is the given connection, so a stale disconnect cannot
// touch a terminal another connection has since claimed.
//
// Example Usage:
//
//	mgr := terminal.NewManager(terminal.Options{
//		Program:       "claude",
//		OrphanTimeout: 5 * time.Minute,
//		Backing:       backing.NewTmux(backing.Config{}, nil, logger),
//		Prefix:        "termhost",
//	})
//	mgr.SetOnPtyDied(func(id string, code int) { ... })
//
//	info, err := mgr.Create(ctx, "t1", "/home/dev/project", 120, 40)
//	mgr.SetOwner("t1", conn)
//	mgr.OrphanForClient(conn)   // on disconnect
//	mgr.Close(ctx, "t1")        // operator close
package terminal
