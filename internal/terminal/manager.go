package terminal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/backing"
	"github.com/GriffinCanCode/termhost/internal/command"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/protocol"
)

const (
	readBufferSize   = 32 * 1024
	drainGracePeriod = time.Second

	defaultScrollback = 256 * 1024

	// maxDimension is the largest size a PTY window can carry.
	maxDimension = math.MaxUint16
)

// Options configures a Manager.
type Options struct {
	// Program is the logical program handed to the resolver.
	Program string
	// OrphanTimeout is the grace period before an orphaned direct terminal is
	// killed. Zero kills on orphan and disables the backing.
	OrphanTimeout time.Duration
	// MaxLifetime is the hard ceiling an orphaned backed terminal may run
	// unattended. Zero disables it.
	MaxLifetime time.Duration
	// ScrollbackBytes bounds the per-terminal reattach buffer.
	ScrollbackBytes int
	// Prefix scopes backing session names to this application.
	Prefix string
	// Identity, when set, replaces the working directory in session names.
	Identity string
	// Env is added to every spawned process.
	Env []string

	Backing  Backing
	Spawner  Spawner
	Resolver Resolver
	Logger   *zap.Logger

	// LookPath and AfterFunc are replaced in tests.
	LookPath  func(file string) (string, error)
	AfterFunc func(d time.Duration, f func()) Timer
}

// Terminal is the server-side record of one live process.
type Terminal struct {
	ID        string
	Cwd       string
	Cols      int
	Rows      int
	Command   command.Candidate
	Session   string
	CreatedAt time.Time

	proc       Process
	owner      Owner
	orphanedAt time.Time
	timer      Timer
	timerGen   uint64
	scrollback *Scrollback
	attached   bool // has had an owner at least once
	pruning    bool // a sync is killing the backing session
	exited     bool
	exitCode   int
	readDone   chan struct{}
}

func (t *Terminal) info() Info {
	i := Info{
		ID:        t.ID,
		Cwd:       t.Cwd,
		Cols:      t.Cols,
		Rows:      t.Rows,
		Command:   t.Command.String(),
		Pid:       t.proc.Pid(),
		Session:   t.Session,
		Backed:    t.Session != "",
		CreatedAt: t.CreatedAt,
	}
	if t.owner != nil {
		i.Owner = t.owner.ID()
	}
	if !t.orphanedAt.IsZero() {
		at := t.orphanedAt
		i.OrphanedAt = &at
	}
	return i
}

// Manager owns one PTY process per terminal id.
type Manager struct {
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu        sync.Mutex
	terminals map[string]*Terminal     // Protected by mu
	pending   map[string]bool          // ids being spawned, protected by mu
	releasing map[string]chan struct{} // ids being killed, protected by mu
	onDied    func(id string, exitCode int)
	shutdown  bool
}

// NewManager creates a terminal manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Spawner == nil {
		opts.Spawner = NewPTYSpawner()
	}
	if opts.Resolver == nil {
		opts.Resolver = command.NewResolver("linux", "")
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.ScrollbackBytes == 0 {
		opts.ScrollbackBytes = defaultScrollback
	}
	if opts.Prefix == "" {
		opts.Prefix = "termhost"
	}

	return &Manager{
		opts:      opts,
		logger:    opts.Logger,
		terminals: make(map[string]*Terminal),
		pending:   make(map[string]bool),
		releasing: make(map[string]chan struct{}),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// SetOnPtyDied registers the callback fired once per natural process exit.
func (m *Manager) SetOnPtyDied(fn func(id string, exitCode int)) {
	m.mu.Lock()
	m.onDied = fn
	m.mu.Unlock()
}

// Create resolves the configured program and spawns it for id. No record is
// kept when every candidate fails.
func (m *Manager) Create(ctx context.Context, id, cwd string, cols, rows int) (*Info, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := validSize(cols, rows); err != nil {
		return nil, err
	}

	// A terminal still being killed is gone; wait for the kill to finish so
	// the new process never attaches to the dying session.
	m.mu.Lock()
	for {
		done, ok := m.releasing[id]
		if !ok {
			break
		}
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
	}
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	if _, ok := m.terminals[id]; ok || m.pending[id] {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	m.pending[id] = true
	m.mu.Unlock()

	t, err := m.spawn(ctx, id, cwd, cols, rows)

	m.mu.Lock()
	delete(m.pending, id)
	if err != nil {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.IncSpawnFailures()
		}
		m.logger.Error("Failed to create terminal", zap.String("terminal_id", id), zap.Error(err))
		return nil, err
	}
	if m.shutdown {
		m.mu.Unlock()
		m.release(ctx, t, "shutdown")
		return nil, ErrShutdown
	}
	m.terminals[id] = t
	info := t.info()
	count := len(m.terminals)
	m.mu.Unlock()

	go m.readLoop(t)
	go m.waitLoop(t)

	if m.metrics != nil {
		mode := "direct"
		if t.Session != "" {
			mode = "backed"
		}
		m.metrics.IncTerminalsCreated(mode)
		m.metrics.SetTerminalsActive(count)
	}
	m.logger.Info("Terminal created",
		zap.String("terminal_id", id),
		zap.String("command", t.Command.String()),
		zap.String("session", t.Session),
		zap.String("cwd", cwd),
		zap.Int("pid", info.Pid),
	)
	return &info, nil
}

func (m *Manager) spawn(ctx context.Context, id, cwd string, cols, rows int) (*Terminal, error) {
	candidates := m.opts.Resolver.Resolve(m.opts.Program)
	failure := &CreateError{TerminalID: id}

	newTerminal := func(proc Process, c command.Candidate, session string) *Terminal {
		return &Terminal{
			ID:         id,
			Cwd:        cwd,
			Cols:       cols,
			Rows:       rows,
			Command:    c,
			Session:    session,
			CreatedAt:  time.Now(),
			proc:       proc,
			scrollback: NewScrollback(m.opts.ScrollbackBytes),
			readDone:   make(chan struct{}),
		}
	}

	if m.backingUsable(ctx) && len(candidates) > 0 {
		session := backing.SessionName(m.opts.Prefix, m.scope(cwd), id)
		target := m.firstInstalled(candidates)
		attach := m.opts.Backing.AttachCommand(session, cwd, target)

		proc, err := m.opts.Spawner.Spawn(m.spec(attach, cwd, cols, rows))
		if err == nil {
			return newTerminal(proc, target, session), nil
		}
		failure.Attempts = append(failure.Attempts, Attempt{Command: attach.Command, Args: attach.Args, Err: err})
		m.recordBackingFailure("attach")
		m.logger.Warn("Backed spawn failed, falling back to direct",
			zap.String("terminal_id", id),
			zap.String("session", session),
			zap.Error(err),
		)
	}

	for _, c := range candidates {
		proc, err := m.opts.Spawner.Spawn(m.spec(c, cwd, cols, rows))
		if err != nil {
			failure.Attempts = append(failure.Attempts, Attempt{Command: c.Command, Args: c.Args, Err: err})
			m.logger.Debug("Candidate failed to spawn", zap.String("command", c.String()), zap.Error(err))
			continue
		}
		return newTerminal(proc, c, ""), nil
	}

	return nil, failure
}

func (m *Manager) spec(c command.Candidate, cwd string, cols, rows int) SpawnSpec {
	return SpawnSpec{
		Command: c.Command,
		Args:    c.Args,
		Dir:     cwd,
		Env:     m.opts.Env,
		Cols:    cols,
		Rows:    rows,
	}
}

// backingUsable reports whether new terminals should go through the backing.
// A failed probe is not fatal: the terminal is spawned directly.
func (m *Manager) backingUsable(ctx context.Context) bool {
	if m.opts.Backing == nil || m.opts.OrphanTimeout <= 0 {
		return false
	}
	if err := m.opts.Backing.Probe(ctx); err != nil {
		m.recordBackingFailure("probe")
		m.logger.Warn("Persistence backing unavailable", zap.Error(err))
		return false
	}
	return true
}

// firstInstalled picks the first candidate found on PATH. The backing always
// launches, so availability has to be checked before handing it a command.
func (m *Manager) firstInstalled(candidates []command.Candidate) command.Candidate {
	for _, c := range candidates {
		if _, err := m.opts.LookPath(c.Command); err == nil {
			return c
		}
	}
	return candidates[0]
}

func (m *Manager) scope(cwd string) string {
	if m.opts.Identity != "" {
		return m.opts.Identity
	}
	return cwd
}

// SetOwner gives owner exclusive ownership of id and cancels any orphan timer.
func (m *Manager) SetOwner(id string, owner Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.terminals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.owner == owner {
		return nil
	}

	m.stopTimer(t)
	t.owner = owner
	t.orphanedAt = time.Time{}
	if owner != nil {
		t.attached = true
	}
	m.logger.Debug("Terminal owner set", zap.String("terminal_id", id), zap.String("owner", ownerID(owner)))
	return nil
}

// Attach makes owner the owner of id and replays retained output to a new
// owner ahead of any live output.
func (m *Manager) Attach(id string, owner Owner) (*Info, error) {
	if owner == nil {
		return nil, fmt.Errorf("owner is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.terminals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// The current owner already received everything; only a new owner gets
	// a replay.
	if t.owner != owner {
		m.stopTimer(t)
		t.owner = owner
		t.orphanedAt = time.Time{}

		if replay := t.scrollback.Bytes(); len(replay) > 0 {
			owner.Deliver(protocol.Output(t.ID, string(replay)))
		}
	}
	reattached := t.attached
	t.attached = true

	info := t.info()
	info.Reattached = reattached
	m.logger.Debug("Terminal attached",
		zap.String("terminal_id", id),
		zap.String("owner", owner.ID()),
		zap.Bool("reattached", reattached),
	)
	return &info, nil
}

// Owner returns the current owner of id, or nil.
func (m *Manager) Owner(id string) Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.terminals[id]; ok {
		return t.owner
	}
	return nil
}

// OrphanForClient detaches every terminal owned by owner. Backed terminals
// keep running; direct ones get a grace-period timer, or are killed at once
// when the timeout is zero. Terminals owned by anyone else are untouched.
func (m *Manager) OrphanForClient(owner Owner) int {
	if owner == nil {
		return 0
	}

	m.mu.Lock()
	var immediate []*Terminal
	var releases []chan struct{}
	orphaned := 0
	now := time.Now()
	for id, t := range m.terminals {
		if t.owner != owner {
			continue
		}
		orphaned++
		t.owner = nil
		t.orphanedAt = now

		switch {
		case t.Session != "":
			if m.opts.MaxLifetime > 0 {
				m.startTimer(t, m.opts.MaxLifetime, "max_lifetime")
			}
		case m.opts.OrphanTimeout <= 0:
			delete(m.terminals, id)
			immediate = append(immediate, t)
			releases = append(releases, m.beginRelease(id))
		default:
			m.startTimer(t, m.opts.OrphanTimeout, "orphan_timeout")
		}
	}
	count := len(m.terminals)
	m.mu.Unlock()

	for i, t := range immediate {
		m.release(context.Background(), t, "orphan_timeout")
		m.endRelease(t.ID, releases[i])
	}
	if m.metrics != nil && orphaned > 0 {
		for i := 0; i < orphaned; i++ {
			m.metrics.IncTerminalsOrphaned()
		}
		m.metrics.SetTerminalsActive(count)
	}
	if orphaned > 0 {
		m.logger.Info("Orphaned terminals for client",
			zap.String("owner", owner.ID()),
			zap.Int("orphaned", orphaned),
			zap.Int("killed", len(immediate)),
		)
	}
	return orphaned
}

// startTimer must be called with mu held.
func (m *Manager) startTimer(t *Terminal, d time.Duration, reason string) {
	m.stopTimer(t)
	t.timerGen++
	gen := t.timerGen
	t.timer = m.opts.AfterFunc(d, func() { m.expire(t, gen, reason) })
}

// stopTimer must be called with mu held.
func (m *Manager) stopTimer(t *Terminal) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerGen++
}

// expire kills t if it is still the current, unowned record for its id and
// the firing timer was not superseded.
func (m *Manager) expire(t *Terminal, gen uint64, reason string) {
	m.mu.Lock()
	if m.terminals[t.ID] != t || t.owner != nil || t.timerGen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.terminals, t.ID)
	t.timer = nil
	done := m.beginRelease(t.ID)
	count := len(m.terminals)
	m.mu.Unlock()
	defer m.endRelease(t.ID, done)

	m.logger.Info("Orphaned terminal expired",
		zap.String("terminal_id", t.ID),
		zap.String("reason", reason),
		zap.Duration("orphaned_for", time.Since(t.orphanedAt)),
	)
	m.release(context.Background(), t, reason)
	if m.metrics != nil {
		m.metrics.SetTerminalsActive(count)
	}
}

// Close terminates id on operator request. The record is removed even if the
// kill fails. An id unknown to this instance still has matching backing
// sessions killed, which covers sessions left by a previous run.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.terminals[id]
	var done chan struct{}
	if ok {
		delete(m.terminals, id)
		m.stopTimer(t)
		t.owner = nil
		done = m.beginRelease(id)
	}
	count := len(m.terminals)
	m.mu.Unlock()

	if !ok {
		if m.closeStaleSessions(ctx, id) > 0 {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.release(ctx, t, "close")
	m.endRelease(id, done)
	if m.metrics != nil {
		m.metrics.SetTerminalsActive(count)
	}
	m.logger.Info("Terminal closed", zap.String("terminal_id", id), zap.String("session", t.Session))
	return nil
}

func (m *Manager) closeStaleSessions(ctx context.Context, id string) int {
	if m.opts.Backing == nil {
		return 0
	}
	sessions, err := m.opts.Backing.ListSessions(ctx)
	if err != nil {
		m.recordBackingFailure("list")
		return 0
	}
	killed := 0
	for _, s := range sessions {
		if !backing.MatchesTerminal(m.opts.Prefix, s, id) {
			continue
		}
		if err := m.opts.Backing.KillSession(ctx, s); err != nil {
			m.recordBackingFailure("kill")
			m.logger.Warn("Failed to kill stale session", zap.String("session", s), zap.Error(err))
			continue
		}
		killed++
	}
	return killed
}

// beginRelease marks id as being killed until endRelease. Create for id waits
// meanwhile. Must be called with mu held.
func (m *Manager) beginRelease(id string) chan struct{} {
	done := make(chan struct{})
	m.releasing[id] = done
	return done
}

func (m *Manager) endRelease(id string, done chan struct{}) {
	m.mu.Lock()
	if m.releasing[id] == done {
		delete(m.releasing, id)
	}
	m.mu.Unlock()
	close(done)
}

// release kills a terminal that has already been removed from the map.
func (m *Manager) release(ctx context.Context, t *Terminal, reason string) {
	if t.Session != "" && reason != "shutdown" {
		if err := m.opts.Backing.KillSession(ctx, t.Session); err != nil {
			m.recordBackingFailure("kill")
			m.logger.Warn("Failed to kill backing session",
				zap.String("terminal_id", t.ID),
				zap.String("session", t.Session),
				zap.Error(err),
			)
		}
	}
	if err := t.proc.Kill(); err != nil {
		m.logger.Debug("Kill failed", zap.String("terminal_id", t.ID), zap.Error(err))
	}
	if m.metrics != nil && reason != "shutdown" {
		m.metrics.IncTerminalsKilled(reason)
	}
}

// SyncActiveTerminals kills every backing session carrying this application's
// prefix whose terminal id is not in activeIDs. Sessions this instance never
// created are included. A failed listing skips the pass.
func (m *Manager) SyncActiveTerminals(ctx context.Context, activeIDs []string) SyncResult {
	result := SyncResult{Pruned: []string{}, Kept: []string{}}
	if m.opts.Backing == nil {
		result.Skipped = true
		result.Reason = "no persistence backing configured"
		return result
	}

	sessions, err := m.opts.Backing.ListSessions(ctx)
	if err != nil {
		m.recordBackingFailure("list")
		m.logger.Warn("Skipping backing reconciliation", zap.Error(err))
		result.Skipped = true
		result.Reason = err.Error()
		return result
	}

	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	for _, s := range sessions {
		if !backing.Owns(m.opts.Prefix, s) {
			continue
		}
		if m.sessionActive(s, active) {
			result.Kept = append(result.Kept, s)
			continue
		}

		// A local attach client stays recorded but is marked so that its exit
		// while the session is killed is not reported as a natural death.
		m.mu.Lock()
		var local *Terminal
		for _, t := range m.terminals {
			if t.Session == s {
				local = t
				local.pruning = true
				break
			}
		}
		m.mu.Unlock()

		if err := m.opts.Backing.KillSession(ctx, s); err != nil {
			m.recordBackingFailure("kill")
			m.logger.Warn("Failed to prune backing session", zap.String("session", s), zap.Error(err))
			if local != nil {
				m.abortPrune(local)
			}
			continue
		}
		if local != nil {
			m.finishPrune(local)
		}
		result.Pruned = append(result.Pruned, s)
	}

	if m.metrics != nil {
		m.metrics.AddSessionsPruned(len(result.Pruned))
		m.metrics.SetTerminalsActive(m.Count())
	}
	m.logger.Info("Backing sessions reconciled",
		zap.Int("pruned", len(result.Pruned)),
		zap.Int("kept", len(result.Kept)),
	)
	return result
}

// finishPrune drops a local record whose backing session was killed.
func (m *Manager) finishPrune(t *Terminal) {
	m.mu.Lock()
	current := m.terminals[t.ID] == t
	var done chan struct{}
	if current {
		delete(m.terminals, t.ID)
		m.stopTimer(t)
		t.owner = nil
		done = m.beginRelease(t.ID)
	}
	m.mu.Unlock()

	if !current {
		return
	}
	if err := t.proc.Kill(); err != nil {
		m.logger.Debug("Kill failed", zap.String("terminal_id", t.ID), zap.Error(err))
	}
	m.endRelease(t.ID, done)
}

// abortPrune returns a record to normal after a failed kill. If the process
// exited in the meantime the exit is reported as it would have been.
func (m *Manager) abortPrune(t *Terminal) {
	m.mu.Lock()
	t.pruning = false
	if !t.exited || m.terminals[t.ID] != t {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.reportExit(t)
}

func (m *Manager) sessionActive(session string, active map[string]bool) bool {
	for id := range active {
		if backing.MatchesTerminal(m.opts.Prefix, session, id) {
			return true
		}
	}
	return false
}

// Resize forwards a new size to the process. Unknown ids are ignored.
func (m *Manager) Resize(id string, cols, rows int) error {
	if err := validSize(cols, rows); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.terminals[id]
	if !ok {
		return nil
	}
	if err := t.proc.Resize(cols, rows); err != nil {
		return fmt.Errorf("failed to resize terminal %s: %w", id, err)
	}
	t.Cols = cols
	t.Rows = rows
	return nil
}

// Write sends input to id. A non-nil from must be the current owner.
func (m *Manager) Write(id string, from Owner, data []byte) error {
	m.mu.Lock()
	t, ok := m.terminals[id]
	if ok && from != nil && t.owner != from {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOwner, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := t.proc.Write(data); err != nil {
		return fmt.Errorf("failed to write to terminal %s: %w", id, err)
	}
	return nil
}

// Scrollback returns the retained output of id.
func (m *Manager) Scrollback(id string) ([]byte, error) {
	m.mu.Lock()
	t, ok := m.terminals[id]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.scrollback.Bytes(), nil
}

// Get returns a snapshot of id.
func (m *Manager) Get(id string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.terminals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info := t.info()
	return &info, nil
}

// Exists reports whether id has a live record.
func (m *Manager) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.terminals[id]
	return ok
}

// List returns all live terminals, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.terminals))
	for _, t := range m.terminals {
		out = append(out, t.info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live terminals.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.terminals)
}

// Shutdown stops all timers and detaches every terminal. Direct processes are
// killed; backed sessions keep running for the next instance to reattach.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.shutdown = true
	all := make([]*Terminal, 0, len(m.terminals))
	for id, t := range m.terminals {
		m.stopTimer(t)
		all = append(all, t)
		delete(m.terminals, id)
	}
	m.mu.Unlock()

	for _, t := range all {
		m.release(ctx, t, "shutdown")
	}
	if m.metrics != nil {
		m.metrics.SetTerminalsActive(0)
	}
	m.logger.Info("Terminal manager shut down", zap.Int("detached", len(all)))
}

// readLoop pumps PTY output to the current owner and the scrollback.
func (m *Manager) readLoop(t *Terminal) {
	defer close(t.readDone)

	buf := make([]byte, readBufferSize)
	var carry []byte
	for {
		n, err := t.proc.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			var complete []byte
			complete, carry = splitUTF8(chunk)
			if len(complete) > 0 {
				m.emit(t, complete)
			}
		}
		if err != nil {
			if len(carry) > 0 {
				m.emit(t, carry)
			}
			return
		}
	}
}

// emit records and forwards one chunk. Both happen under mu so Attach sees
// every chunk either in its replay or as live output, never both.
func (m *Manager) emit(t *Terminal, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminals[t.ID] != t {
		return
	}
	t.scrollback.Write(data)
	if t.owner != nil {
		t.owner.Deliver(protocol.Output(t.ID, string(data)))
	}
}

// splitUTF8 returns the longest prefix of b that does not end inside a
// multi-byte rune, and the remaining bytes.
func splitUTF8(b []byte) ([]byte, []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		rest := append([]byte(nil), b[i:]...)
		return b[:i], rest
	}
	return b, nil
}

// waitLoop reaps the process. A process that exits while its record is still
// current died on its own; anything else was removed by the host first.
func (m *Manager) waitLoop(t *Terminal) {
	code, err := t.proc.Wait()
	if err != nil {
		m.logger.Debug("Wait failed", zap.String("terminal_id", t.ID), zap.Error(err))
	}

	// Let the reader drain what the process wrote before exiting.
	select {
	case <-t.readDone:
	case <-time.After(drainGracePeriod):
	}
	_ = t.proc.Close()

	m.mu.Lock()
	t.exited = true
	t.exitCode = code
	// A pruning sync decides the outcome once its kill returns.
	if t.pruning {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.reportExit(t)
}

// reportExit removes t, if it is still current, and notifies its owner and
// the death callback.
func (m *Manager) reportExit(t *Terminal) {
	m.mu.Lock()
	natural := m.terminals[t.ID] == t
	var owner Owner
	var onDied func(string, int)
	if natural {
		delete(m.terminals, t.ID)
		m.stopTimer(t)
		owner = t.owner
		t.owner = nil
		onDied = m.onDied
	}
	code := t.exitCode
	count := len(m.terminals)
	m.mu.Unlock()

	if !natural {
		return
	}

	m.logger.Info("Terminal exited",
		zap.String("terminal_id", t.ID),
		zap.Int("exit_code", code),
		zap.String("session", t.Session),
	)
	if m.metrics != nil {
		m.metrics.IncNaturalExits()
		m.metrics.SetTerminalsActive(count)
	}
	if owner != nil {
		owner.Deliver(protocol.Exit(t.ID, code))
	}
	if onDied != nil {
		onDied(t.ID, code)
	}
}

func validSize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > maxDimension || rows > maxDimension {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	return nil
}

func (m *Manager) recordBackingFailure(op string) {
	if m.metrics != nil {
		m.metrics.IncBackingFailures(op)
	}
}

func ownerID(o Owner) string {
	if o == nil {
		return ""
	}
	return o.ID()
}

// IsNotFound reports whether err means the terminal does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
