package backing

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/command"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/resilience"
)

// ErrUnavailable means the backing tool cannot be used right now.
var ErrUnavailable = errors.New("persistence backing unavailable")

// Runner executes the backing binary and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Config configures the tmux backing.
type Config struct {
	Binary  string
	Socket  string
	Timeout time.Duration
}

// Tmux drives a tmux server as the persistence backing.
type Tmux struct {
	binary  string
	socket  string
	timeout time.Duration
	runner  Runner
	guard   *resilience.Breaker
	logger  *zap.Logger
}

// NewTmux creates a tmux backing. A nil runner uses ExecRunner.
func NewTmux(cfg Config, runner Runner, logger *zap.Logger) *Tmux {
	if cfg.Binary == "" {
		cfg.Binary = "tmux"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tmux{
		binary:  cfg.Binary,
		socket:  cfg.Socket,
		timeout: cfg.Timeout,
		runner:  runner,
		logger:  logger,
	}
	t.guard = resilience.New("tmux", resilience.Settings{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Backing guard state changed",
				zap.String("backing", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return t
}

// Probe checks that tmux runs by asking for its version.
func (t *Tmux) Probe(ctx context.Context) error {
	out, err := t.run(ctx, "-V")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t.logger.Debug("tmux available", zap.String("version", strings.TrimSpace(string(out))))
	return nil
}

// AttachCommand wraps c in a tmux attach-or-create invocation for session.
func (t *Tmux) AttachCommand(session, cwd string, c command.Candidate) command.Candidate {
	args := t.args("new-session", "-A", "-s", session)
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, c.Command)
	args = append(args, c.Args...)
	return command.Candidate{Command: t.binary, Args: args}
}

// KillSession kills session. A session that no longer exists is not an error.
func (t *Tmux) KillSession(ctx context.Context, session string) error {
	_, err := t.run(ctx, "kill-session", "-t", "="+session)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// ListSessions returns every session name on the server. A server that is
// not running has no sessions.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []string
	for _, line := range strings.Split(string(out), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			sessions = append(sessions, name)
		}
	}
	return sessions, nil
}

// run executes one tmux command through the guard. "Not found" answers are
// successful calls to a healthy tmux and do not count against the guard.
func (t *Tmux) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	full := t.args(args...)
	var out []byte
	var notFound error
	err := t.guard.Do(func() error {
		var runErr error
		out, runErr = t.runner.Run(ctx, t.binary, full...)
		if runErr == nil {
			return nil
		}
		wrapped := fmt.Errorf("tmux %s: %w (%s)", strings.Join(args, " "), runErr, strings.TrimSpace(string(out)))
		if isNotFound(wrapped) {
			notFound = wrapped
			return nil
		}
		return wrapped
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return out, err
	}
	if notFound != nil {
		return out, notFound
	}
	return out, nil
}

// args prepends the -L socket flag to isolate from the user's default tmux server.
func (t *Tmux) args(args ...string) []string {
	if strings.TrimSpace(t.socket) == "" {
		return args
	}
	return append([]string{"-L", t.socket}, args...)
}

// isNotFound reports tmux errors that mean the session or server does not exist.
func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "session not found") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to")
}
