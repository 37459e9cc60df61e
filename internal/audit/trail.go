package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsgate/jitterm/internal/infrastructure/logging"
	"github.com/opsgate/jitterm/internal/shared/id"
)

// Action tags for audit events.
const (
	ActionSessionCreated      = "SESSION_CREATED"
	ActionAgentSessionCreated = "AGENT_SESSION_CREATED"
	ActionCommandExecuted     = "COMMAND_EXECUTED"
	ActionSessionTerminated   = "SESSION_TERMINATED"
	ActionConfigUpdated       = "CONFIG_UPDATED"
	ActionSystemShutdown      = "SYSTEM_SHUTDOWN"
)

// DefaultRingSize is the number of events retained for queries.
const DefaultRingSize = 1000

// Actor identifies who performed an action.
type Actor struct {
	UserID  string `json:"user_id,omitempty"`
	Name    string `json:"name,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// Event is an immutable audit record.
type Event struct {
	ID        id.EventID             `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Actor     Actor                  `json:"actor"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Query filters events from the in-memory ring.
type Query struct {
	ActorID string
	Action  string
	Since   *time.Time
	Until   *time.Time
}

// Trail is the process-wide append-only audit log.
type Trail struct {
	mu   sync.RWMutex
	ring []Event
	pos  int
	full bool

	fileMu sync.Mutex
	file   *os.File
	logger *logging.Logger
	nowFn  func() time.Time // injectable clock for testing
}

// Option configures a Trail.
type Option func(*Trail)

// WithRingSize overrides the in-memory ring capacity.
func WithRingSize(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.ring = make([]Event, n)
		}
	}
}

// WithNowFunc overrides the clock. Useful in tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(t *Trail) {
		t.nowFn = fn
	}
}

// New opens (creating if needed) the durable audit file and returns a Trail.
// An empty path disables durable appends; events then live only in the ring.
func New(path string, logger *logging.Logger, opts ...Option) (*Trail, error) {
	t := &Trail{
		ring:   make([]Event, DefaultRingSize),
		logger: logger,
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		t.file = file
	}

	return t, nil
}

// Record assigns an ID and timestamp and appends the event to the ring and
// the durable file. It never fails; file errors are logged.
func (t *Trail) Record(action string, actor Actor, detail map[string]interface{}) Event {
	event := Event{
		ID:        id.NewEventID(),
		Timestamp: t.nowFn().UTC(),
		Action:    action,
		Actor:     actor,
		Detail:    detail,
	}

	t.mu.Lock()
	t.ring[t.pos] = event
	t.pos = (t.pos + 1) % len(t.ring)
	if t.pos == 0 {
		t.full = true
	}
	t.mu.Unlock()

	t.append(event)

	return event
}

// append writes the event as one JSON line to the durable file.
func (t *Trail) append(event Event) {
	if t.file == nil {
		return
	}

	line, err := json.Marshal(event)
	if err != nil {
		t.logger.Error("Failed to encode audit event", zap.Error(err), zap.String("action", event.Action))
		return
	}
	line = append(line, '\n')

	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if _, err := t.file.Write(line); err != nil {
		t.logger.Error("Failed to append audit event", zap.Error(err), zap.String("action", event.Action))
	}
}

// Query returns ring events matching the filters, newest first.
func (t *Trail) Query(q Query) []Event {
	t.mu.RLock()
	events := t.snapshot()
	t.mu.RUnlock()

	matched := make([]Event, 0, len(events))
	for _, event := range events {
		if q.Action != "" && event.Action != q.Action {
			continue
		}
		if q.ActorID != "" && event.Actor.UserID != q.ActorID && event.Actor.AgentID != q.ActorID {
			continue
		}
		if q.Since != nil && event.Timestamp.Before(*q.Since) {
			continue
		}
		if q.Until != nil && event.Timestamp.After(*q.Until) {
			continue
		}
		matched = append(matched, event)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	return matched
}

// snapshot returns ring contents in chronological order. Caller holds t.mu.
func (t *Trail) snapshot() []Event {
	if !t.full {
		out := make([]Event, t.pos)
		copy(out, t.ring[:t.pos])
		return out
	}

	out := make([]Event, len(t.ring))
	copy(out, t.ring[t.pos:])
	copy(out[len(t.ring)-t.pos:], t.ring[:t.pos])
	return out
}

// Close closes the durable file.
func (t *Trail) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}
