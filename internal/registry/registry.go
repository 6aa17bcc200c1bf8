package registry

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/termhost/internal/protocol"
)

// Default limits
const (
	DefaultTerminalLimit    = 256 * 1024
	DefaultGlobalLimit      = 8 * 1024 * 1024
	DefaultFlushThreshold   = 64 * 1024
	DefaultFrameInterval    = 16 * time.Millisecond
	DefaultActivityInterval = 2 * time.Second
)

// Handler receives messages for one terminal.
type Handler func(msg protocol.Message)

// ActivityNotifier is told when output arrives for a terminal nobody is
// watching.
type ActivityNotifier interface {
	MarkActivity(terminalID string)
}

// Timer is the subset of *time.Timer the registry uses.
type Timer interface {
	Stop() bool
}

// Config configures a Registry. Zero values select the defaults.
type Config struct {
	TerminalLimit    int
	GlobalLimit      int
	FlushThreshold   int
	FrameInterval    time.Duration
	ActivityInterval time.Duration

	Notifier ActivityNotifier
	Logger   *zap.Logger

	// Fallback receives messages that name no terminal, such as errors for
	// requests the server could not parse.
	Fallback Handler

	// AfterFunc and Now are replaced in tests.
	AfterFunc func(d time.Duration, f func()) Timer
	Now       func() time.Time
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Handlers          int   `json:"handlers"`
	BufferedTerminals int   `json:"buffered_terminals"`
	BufferedBytes     int   `json:"buffered_bytes"`
	PendingTerminals  int   `json:"pending_terminals"`
	TruncatedBytes    int64 `json:"truncated_bytes"`
	Evictions         int64 `json:"evictions"`
}

type offlineBuffer struct {
	messages []protocol.Message
	bytes    int
}

// Registry routes terminal messages to the handler currently attached for
// each terminal, buffering output while none is attached and coalescing
// bursts into frame-sized deliveries.
//
// Handlers run while the registry lock is held and must not call back into
// the registry.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*strings.Builder
	offline  map[string]*offlineBuffer
	order    []string // offline buffer insertion order
	total    int
	limiters map[string]*rate.Limiter
	frame    Timer
	closed   bool

	truncated int64
	evictions int64
}

// New creates a registry.
func New(cfg Config) *Registry {
	if cfg.TerminalLimit <= 0 {
		cfg.TerminalLimit = DefaultTerminalLimit
	}
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = DefaultGlobalLimit
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.ActivityInterval <= 0 {
		cfg.ActivityInterval = DefaultActivityInterval
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*strings.Builder),
		offline:  make(map[string]*offlineBuffer),
		limiters: make(map[string]*rate.Limiter),
	}
}

// RegisterHandler attaches fn to id, replacing any previous handler. Buffered
// messages are replayed to fn in arrival order before it returns.
func (r *Registry) RegisterHandler(id string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || fn == nil {
		return
	}

	r.handlers[id] = fn

	if buf, ok := r.offline[id]; ok {
		r.dropOffline(id)
		for _, msg := range buf.messages {
			fn(msg)
		}
		r.logger.Debug("Replayed offline buffer",
			zap.String("terminal_id", id),
			zap.Int("messages", len(buf.messages)),
			zap.Int("bytes", buf.bytes),
		)
	}
	r.flushLocked(id)
}

// UnregisterHandler detaches the handler for id. Unflushed coalesced output
// is discarded; the offline buffer is kept for the next handler.
func (r *Registry) UnregisterHandler(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
	delete(r.pending, id)
}

// HasHandler reports whether id has a handler attached.
func (r *Registry) HasHandler(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	return ok
}

// Dispatch routes one inbound message. Messages without a terminal id go to
// Config.Fallback.
func (r *Registry) Dispatch(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if msg.TerminalID == "" {
		if r.cfg.Fallback != nil {
			r.cfg.Fallback(msg)
		}
		return
	}

	id := msg.TerminalID
	fn, attached := r.handlers[id]

	switch {
	case attached && msg.IsOutput():
		r.coalesceLocked(id, msg.Data)
	case attached:
		r.flushLocked(id)
		fn(msg)
	case msg.IsOutput():
		r.bufferLocked(id, msg)
		r.markActivityLocked(id)
	default:
		r.bufferLocked(id, msg)
	}
}

// ClearBuffer forgets everything held for id. Call it when a terminal is
// closed for good.
func (r *Registry) ClearBuffer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropOffline(id)
	delete(r.pending, id)
	delete(r.limiters, id)
}

// Close stops the frame scheduler and drops all state. Later calls are
// ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frame != nil {
		r.frame.Stop()
		r.frame = nil
	}
	r.closed = true
	r.handlers = make(map[string]Handler)
	r.pending = make(map[string]*strings.Builder)
	r.offline = make(map[string]*offlineBuffer)
	r.limiters = make(map[string]*rate.Limiter)
	r.order = nil
	r.total = 0
}

// Stats returns current buffer usage.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Handlers:          len(r.handlers),
		BufferedTerminals: len(r.offline),
		BufferedBytes:     r.total,
		PendingTerminals:  len(r.pending),
		TruncatedBytes:    r.truncated,
		Evictions:         r.evictions,
	}
}

// Buffered returns a copy of the offline messages held for id.
func (r *Registry) Buffered(id string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.offline[id]
	if !ok {
		return nil
	}
	return append([]protocol.Message(nil), buf.messages...)
}

func (r *Registry) coalesceLocked(id, data string) {
	b, ok := r.pending[id]
	if !ok {
		b = &strings.Builder{}
		r.pending[id] = b
	}
	b.WriteString(data)

	if b.Len() >= r.cfg.FlushThreshold {
		r.flushLocked(id)
		return
	}
	if r.frame == nil {
		r.frame = r.cfg.AfterFunc(r.cfg.FrameInterval, r.onFrame)
	}
}

func (r *Registry) onFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frame = nil
	if r.closed {
		return
	}
	for id := range r.pending {
		r.flushLocked(id)
	}
}

// flushLocked delivers pending coalesced output for id as one message.
func (r *Registry) flushLocked(id string) {
	b, ok := r.pending[id]
	if !ok {
		return
	}
	delete(r.pending, id)

	fn, attached := r.handlers[id]
	if !attached || b.Len() == 0 {
		return
	}
	fn(protocol.Output(id, b.String()))
}

// bufferLocked queues msg for a detached terminal. Output beyond the
// per-terminal limit is truncated. Exceeding the global limit evicts whole
// buffers, oldest first.
func (r *Registry) bufferLocked(id string, msg protocol.Message) {
	buf, ok := r.offline[id]
	if !ok {
		buf = &offlineBuffer{}
		r.offline[id] = buf
		r.order = append(r.order, id)
	}

	if !msg.IsOutput() {
		buf.messages = append(buf.messages, msg)
		return
	}

	room := r.cfg.TerminalLimit - buf.bytes
	data := msg.Data
	if len(data) > room {
		kept := truncateUTF8(data, room)
		r.truncated += int64(len(data) - len(kept))
		data = kept
	}
	if data == "" {
		return
	}

	msg.Data = data
	buf.messages = append(buf.messages, msg)
	buf.bytes += len(data)
	r.total += len(data)

	for r.total > r.cfg.GlobalLimit && len(r.order) > 0 {
		victim := r.order[0]
		r.evictions++
		r.logger.Debug("Evicting offline buffer",
			zap.String("terminal_id", victim),
			zap.Int("bytes", r.offline[victim].bytes),
			zap.Int("total", r.total),
		)
		r.dropOffline(victim)
	}
}

func (r *Registry) dropOffline(id string) {
	buf, ok := r.offline[id]
	if !ok {
		return
	}
	r.total -= buf.bytes
	delete(r.offline, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) markActivityLocked(id string) {
	if r.cfg.Notifier == nil {
		return
	}
	lim, ok := r.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(r.cfg.ActivityInterval), 1)
		r.limiters[id] = lim
	}
	if lim.AllowN(r.cfg.Now(), 1) {
		r.cfg.Notifier.MarkActivity(id)
	}
}

// truncateUTF8 returns the longest prefix of s no longer than n bytes that
// does not split a rune.
func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
