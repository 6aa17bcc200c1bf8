package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/GriffinCanCode/termhost/internal/command"
	"github.com/GriffinCanCode/termhost/internal/protocol"
)

var (
	// ErrNotFound is returned for an id with no live terminal.
	ErrNotFound = errors.New("terminal not found")
	// ErrExists is returned when creating an id that is still alive.
	ErrExists = errors.New("terminal already exists")
	// ErrNotOwner is returned when a connection writes to a terminal it does not own.
	ErrNotOwner = errors.New("terminal is owned by another connection")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("terminal manager is shut down")
)

// Owner receives the output and exit messages of the terminals it owns.
// Owners are compared with ==, so implementations must be comparable;
// pointer types give the intended identity semantics.
//
// Deliver may be called with the manager lock held. It must not block and
// must not call back into the manager.
type Owner interface {
	ID() string
	Deliver(msg protocol.Message)
}

// Process is a running child attached to a PTY.
type Process interface {
	io.ReadWriter
	Pid() int
	Resize(cols, rows int) error
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// Close releases the PTY master.
	Close() error
}

// SpawnSpec describes a process to start on a PTY.
type SpawnSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Cols    int
	Rows    int
}

// Spawner starts processes on PTYs.
type Spawner interface {
	Spawn(spec SpawnSpec) (Process, error)
}

// Backing keeps processes alive independently of this host.
type Backing interface {
	Probe(ctx context.Context) error
	AttachCommand(session, cwd string, c command.Candidate) command.Candidate
	KillSession(ctx context.Context, session string) error
	ListSessions(ctx context.Context) ([]string, error)
}

// Resolver maps a logical program name to candidates.
type Resolver interface {
	Resolve(name string) []command.Candidate
}

// Timer is the subset of *time.Timer the manager uses.
type Timer interface {
	Stop() bool
}

// Info is the public representation of a terminal
type Info struct {
	ID         string     `json:"id"`
	Cwd        string     `json:"cwd"`
	Cols       int        `json:"cols"`
	Rows       int        `json:"rows"`
	Command    string     `json:"command"`
	Pid        int        `json:"pid"`
	Session    string     `json:"session,omitempty"`
	Backed     bool       `json:"backed"`
	Owner      string     `json:"owner,omitempty"`
	OrphanedAt *time.Time `json:"orphaned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Reattached bool       `json:"-"`
}

// SyncResult reports a reconciliation pass.
type SyncResult struct {
	Pruned  []string `json:"pruned"`
	Kept    []string `json:"kept"`
	Skipped bool     `json:"skipped"`
	Reason  string   `json:"reason,omitempty"`
}

// Attempt records one failed spawn.
type Attempt struct {
	Command string
	Args    []string
	Err     error
}

// CreateError is returned when no candidate could be spawned.
type CreateError struct {
	TerminalID string
	Attempts   []Attempt
}

func (e *CreateError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		c := command.Candidate{Command: a.Command, Args: a.Args}
		parts = append(parts, fmt.Sprintf("%q: %v", c.String(), a.Err))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("failed to create terminal %s: no command candidates", e.TerminalID)
	}
	return fmt.Sprintf("failed to create terminal %s: %s", e.TerminalID, strings.Join(parts, "; "))
}

// Unwrap returns the error of the last attempt.
func (e *CreateError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

const maxIDLength = 128

// ValidateID checks that id is usable as a terminal id and, unchanged, inside
// a backing session name. '.' and ':' are tmux target separators and are
// rejected rather than rewritten, so distinct ids never share a session.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("terminal id is required")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("terminal id exceeds %d characters", maxIDLength)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_':
		default:
			return fmt.Errorf("terminal id contains invalid character %q", r)
		}
	}
	return nil
}
