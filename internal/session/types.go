package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/opsgate/jitterm/internal/shared/id"
	"github.com/opsgate/jitterm/internal/terminal"
)

// Sentinel errors surfaced by session-altering operations. The route layer
// maps these to specific user-visible reasons.
var (
	ErrNotFound             = errors.New("session not found")
	ErrInactive             = errors.New("session is not active")
	ErrQuotaExceeded        = errors.New("concurrent session limit reached")
	ErrDisabled             = errors.New("terminal access is disabled")
	ErrProductionDisallowed = errors.New("terminal access is not allowed in production")
)

// OwnerKind distinguishes human-operator sessions from agent-driven ones.
type OwnerKind string

const (
	OwnerHuman OwnerKind = "human"
	OwnerAgent OwnerKind = "agent"
)

// Owner is a tagged variant: a human operator (UserID, Name) or an
// autonomous agent (AgentID, Task, Restrictions). Lifecycle rules are
// identical for both; the kind only affects log headers and audit actions.
type Owner struct {
	Kind         OwnerKind
	UserID       string
	Name         string
	AgentID      string
	Task         string
	Restrictions []string
}

// HumanOwner builds a human session owner.
func HumanOwner(userID, name string) Owner {
	return Owner{Kind: OwnerHuman, UserID: userID, Name: name}
}

// AgentOwner builds an agent session owner.
func AgentOwner(agentID, task string, restrictions []string) Owner {
	return Owner{Kind: OwnerAgent, AgentID: agentID, Task: task, Restrictions: restrictions}
}

// IsAgent reports whether the owner is an autonomous agent.
func (o Owner) IsAgent() bool {
	return o.Kind == OwnerAgent
}

// ID returns the identity used for quota accounting and audit actors.
func (o Owner) ID() string {
	if o.IsAgent() {
		return o.AgentID
	}
	return o.UserID
}

// Message kinds on the transport endpoint protocol.
const (
	// Inbound
	MessageInput  = "input"
	MessageResize = "resize"

	// Outbound
	MessageOutput        = "output"
	MessageCommandLogged = "command_logged"
	MessageSessionUpdate = "session_update"
	MessageSessionExpire = "session_expired"
)

// Message is the transport-agnostic frame exchanged with endpoints.
type Message struct {
	Type    string   `json:"type"`
	Data    string   `json:"data,omitempty"`
	Command string   `json:"command,omitempty"`
	Session *Summary `json:"session,omitempty"`
	Cols    int      `json:"cols,omitempty"`
	Rows    int      `json:"rows,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Endpoint is a bidirectional message channel attached to at most one
// session. The manager only pushes outbound messages; inbound routing is the
// transport's concern. Close is called with a terminal reason when the
// session ends; endpoint-side errors must not affect session liveness.
type Endpoint interface {
	ID() id.EndpointID
	Send(msg Message) error
	Close(reason string) error
}

// Process is the handle to one PTY-backed shell. Satisfied by
// *terminal.Process; faked in tests.
type Process interface {
	Shell() string
	Write(data []byte) error
	Resize(cols, rows int) error
	Kill() error
	Output() <-chan []byte
	Exit() <-chan terminal.ExitStatus
}

// Spawner creates the shell process for a new session.
type Spawner func(spec terminal.Spec) (Process, error)

// Summary is the external representation of a session.
type Summary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	UserName     string    `json:"user_name,omitempty"`
	AgentID      string    `json:"agent_id,omitempty"`
	Task         string    `json:"task,omitempty"`
	IsAgent      bool      `json:"is_agent"`
	StartedAt    time.Time `json:"started_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
	CommandCount int       `json:"command_count"`
	Endpoints    int       `json:"endpoints"`
}

// Session is one live PTY-backed terminal grant. The expiry timestamp is
// fixed at creation; activity never extends it.
type Session struct {
	ID        id.SessionID
	Owner     Owner
	StartedAt time.Time
	ExpiresAt time.Time

	proc       Process
	sink       *Sink
	scrollback *Scrollback

	mu           sync.Mutex
	active       bool
	lastActivity time.Time
	commandCount int
	lineBuf      []byte
	endpoints    map[id.EndpointID]Endpoint
}

// Summary snapshots the session state.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ID:           s.ID.String(),
		IsAgent:      s.Owner.IsAgent(),
		StartedAt:    s.StartedAt,
		ExpiresAt:    s.ExpiresAt,
		LastActivity: s.lastActivity,
		IsActive:     s.active,
		CommandCount: s.commandCount,
		Endpoints:    len(s.endpoints),
	}
	if s.Owner.IsAgent() {
		sum.AgentID = s.Owner.AgentID
		sum.Task = s.Owner.Task
	} else {
		sum.UserID = s.Owner.UserID
		sum.UserName = s.Owner.Name
	}
	return sum
}

// isActiveAt reports whether the session counts as live at the given time.
func (s *Session) isActiveAt(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && now.Before(s.ExpiresAt)
}

// expiredAt reports whether the session is active but past its expiry.
func (s *Session) expiredAt(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && now.After(s.ExpiresAt)
}

// IsActive reports whether the session has not been terminated.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// deactivate marks the session terminated. Returns false if it already was,
// making the termination routine idempotent.
func (s *Session) deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.active = false
	return true
}

// touch updates the last-activity timestamp.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// bufferOutput appends a PTY chunk to the scrollback and snapshots the
// attachment set under one lock. Attach takes its replay snapshot and
// inserts the endpoint under the same lock, so a chunk lands either in the
// replay or in this snapshot's fan-out, never both.
func (s *Session) bufferOutput(chunk []byte, now time.Time) []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = now
	s.scrollback.Write(chunk)

	eps := make([]Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		eps = append(eps, ep)
	}
	return eps
}

// attachedEndpoints returns a snapshot of the attachment set, so callers can
// send without holding the session lock.
func (s *Session) attachedEndpoints() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	eps := make([]Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		eps = append(eps, ep)
	}
	return eps
}

// scanCommands consumes input, returning each completed line. A line is
// complete at every CR or LF; blank lines are not commands.
func (s *Session) scanCommands(data []byte) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var commands []string
	for _, b := range data {
		if b == '\r' || b == '\n' {
			command := strings.TrimSpace(string(s.lineBuf))
			s.lineBuf = s.lineBuf[:0]
			if command != "" {
				s.commandCount++
				commands = append(commands, command)
			}
			continue
		}
		s.lineBuf = append(s.lineBuf, b)
	}
	return commands
}

// CommandCount returns the number of completed input lines so far.
func (s *Session) CommandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandCount
}
