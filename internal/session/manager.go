package session

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsgate/jitterm/internal/audit"
	"github.com/opsgate/jitterm/internal/infrastructure/logging"
	"github.com/opsgate/jitterm/internal/infrastructure/monitoring"
	"github.com/opsgate/jitterm/internal/shared/id"
	"github.com/opsgate/jitterm/internal/terminal"
)

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 60 * time.Second

// Termination triggers, used for audit detail and metrics labels.
const (
	triggerExplicit    = "explicit"
	triggerExpired     = "expired"
	triggerProcessExit = "process_exit"
	triggerShutdown    = "shutdown"
)

// CreateOptions control session creation.
type CreateOptions struct {
	TimeoutMinutes int // 0 means the configured default
	Shell          string
	WorkingDir     string
	Cols           int
	Rows           int
}

// Manager creates, terminates, and multiplexes terminal sessions. It owns
// the registry, drives the audit trail and per-session log sinks, and runs
// the expiry sweep.
type Manager struct {
	registry *Registry
	settings *SettingsStore
	trail    *audit.Trail
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	spawn         Spawner
	defaultShell  string
	sweepInterval time.Duration
	inProduction  bool
	nowFn         func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSpawner overrides how shell processes are started. Used in tests.
func WithSpawner(spawn Spawner) ManagerOption {
	return func(m *Manager) { m.spawn = spawn }
}

// WithDefaultShell sets the shell used when a create request names none.
// An empty value defers to the process environment.
func WithDefaultShell(shell string) ManagerOption {
	return func(m *Manager) { m.defaultShell = shell }
}

// WithSweepInterval overrides the expiry sweep interval.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithProductionFlag marks the process as running in production, which
// gates creation on the allow-in-production setting.
func WithProductionFlag(inProduction bool) ManagerOption {
	return func(m *Manager) { m.inProduction = inProduction }
}

// WithNowFunc overrides the clock. Used in tests.
func WithNowFunc(fn func() time.Time) ManagerOption {
	return func(m *Manager) { m.nowFn = fn }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(metrics *monitoring.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a session manager with its own registry.
func NewManager(settings Settings, trail *audit.Trail, logger *logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		settings: NewSettingsStore(settings),
		trail:    trail,
		logger:   logger,
		spawn: func(spec terminal.Spec) (Process, error) {
			return terminal.Start(spec)
		},
		sweepInterval: DefaultSweepInterval,
		nowFn:         time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the expiry sweep.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.started = true
		go m.sweepLoop()
	})
}

// Stop halts the sweep and terminates every live session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.started {
			close(m.stopCh)
			<-m.doneCh
		}

		for _, s := range m.registry.List() {
			if err := m.terminate(s, audit.Actor{Name: "system"}, "Server shutting down", triggerShutdown); err != nil && err != ErrNotFound {
				m.logger.Error("Failed to terminate session on shutdown", zap.String("session_id", s.ID.String()), zap.Error(err))
			}
		}

		m.record(audit.ActionSystemShutdown, audit.Actor{Name: "system"}, nil)
	})
}

// Settings returns the current runtime settings.
func (m *Manager) Settings() Settings {
	return m.settings.Get()
}

// UpdateSettings validates and applies a partial settings update,
// provisions a changed log directory, and audits the change with a
// before/after diff.
func (m *Manager) UpdateSettings(update SettingsUpdate, actor audit.Actor) (Settings, error) {
	before, after, err := m.settings.Apply(update)
	if err != nil {
		return before, err
	}

	if after.LogDir != before.LogDir {
		if mkErr := os.MkdirAll(after.LogDir, 0o755); mkErr != nil {
			m.logger.Warn("Failed to provision log directory", zap.String("dir", after.LogDir), zap.Error(mkErr))
		}
	}

	m.record(audit.ActionConfigUpdated, actor, Diff(before, after))
	return after, nil
}

// Create spawns a shell under a PTY, opens the session log sink, registers
// the session, and audits the grant. A spawn failure leaves no trace: no
// registry entry, no log file, no success audit event.
func (m *Manager) Create(owner Owner, opts CreateOptions) (Summary, error) {
	settings := m.settings.Get()

	if !settings.Enabled {
		return Summary{}, ErrDisabled
	}
	if m.inProduction && !settings.AllowInProduction {
		return Summary{}, ErrProductionDisallowed
	}

	now := m.nowFn()
	if err := m.registry.Reserve(owner.ID(), settings.MaxSessionsPerUser, now); err != nil {
		return Summary{}, err
	}

	timeout := opts.TimeoutMinutes
	if timeout <= 0 {
		timeout = settings.DefaultTimeoutMin
	}
	if timeout > settings.MaxTimeoutMin {
		timeout = settings.MaxTimeoutMin
	}

	sessionID := id.NewSessionID()

	shell := opts.Shell
	if shell == "" {
		shell = m.defaultShell
	}

	proc, err := m.spawn(terminal.Spec{
		Shell:      shell,
		WorkingDir: opts.WorkingDir,
		Cols:       opts.Cols,
		Rows:       opts.Rows,
		Env:        sessionEnv(sessionID, owner),
	})
	if err != nil {
		m.registry.Release(owner.ID())
		return Summary{}, fmt.Errorf("failed to spawn shell: %w", err)
	}

	session := &Session{
		ID:           sessionID,
		Owner:        owner,
		StartedAt:    now,
		ExpiresAt:    now.Add(time.Duration(timeout) * time.Minute),
		proc:         proc,
		scrollback:   NewScrollback(DefaultScrollbackSize),
		active:       true,
		lastActivity: now,
		endpoints:    make(map[id.EndpointID]Endpoint),
	}

	sink, err := OpenSink(settings.LogDir, session, proc.Shell(), m.logger)
	if err != nil {
		// The grant itself proceeds; only its durable record is degraded.
		m.logger.Warn("Failed to open session log sink", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	session.sink = sink

	m.registry.Commit(session)

	go m.pumpOutput(session)
	go m.watchExit(session)

	action := audit.ActionSessionCreated
	kind := "human"
	if owner.IsAgent() {
		action = audit.ActionAgentSessionCreated
		kind = "agent"
	}
	m.record(action, actorFor(owner), map[string]interface{}{
		"session_id":      sessionID.String(),
		"timeout_minutes": timeout,
		"expires_at":      session.ExpiresAt.UTC().Format(time.RFC3339),
	})

	if m.metrics != nil {
		m.metrics.SessionsCreated.WithLabelValues(kind).Inc()
		m.metrics.SessionsActive.Set(float64(len(m.ListActive(""))))
	}

	m.logger.Info("Terminal session created",
		zap.String("session_id", sessionID.String()),
		zap.String("owner", owner.ID()),
		zap.Bool("agent", owner.IsAgent()),
		zap.Int("timeout_minutes", timeout),
	)

	return session.Summary(), nil
}

// Attach adds an endpoint to a session, replays recent output, and pushes a
// state snapshot. Endpoint failures later on remove only that endpoint.
func (m *Manager) Attach(sessionID id.SessionID, ep Endpoint) error {
	session, ok := m.registry.Get(sessionID)
	if !ok {
		return ErrNotFound
	}

	// Snapshot and insert under one lock, pairing with bufferOutput: output
	// pumped before the insert is covered by the replay, output after by the
	// live fan-out.
	session.mu.Lock()
	if !session.active {
		session.mu.Unlock()
		return ErrInactive
	}
	replay := session.scrollback.Bytes()
	session.endpoints[ep.ID()] = ep
	session.mu.Unlock()

	if m.metrics != nil {
		m.metrics.EndpointsAttached.Inc()
	}

	if len(replay) > 0 {
		m.sendTo(session, ep, Message{Type: MessageOutput, Data: string(replay)})
	}
	summary := session.Summary()
	m.sendTo(session, ep, Message{Type: MessageSessionUpdate, Session: &summary})

	m.logger.Debug("Endpoint attached",
		zap.String("session_id", sessionID.String()),
		zap.String("endpoint_id", ep.ID().String()),
	)
	return nil
}

// Detach removes an endpoint from a session. The session stays alive; an
// orphaned session runs until expiry or explicit termination.
func (m *Manager) Detach(sessionID id.SessionID, endpointID id.EndpointID) {
	session, ok := m.registry.Get(sessionID)
	if !ok {
		return
	}

	session.mu.Lock()
	_, present := session.endpoints[endpointID]
	delete(session.endpoints, endpointID)
	session.mu.Unlock()

	if present && m.metrics != nil {
		m.metrics.EndpointsAttached.Dec()
	}
}

// Input forwards raw input bytes to the session's PTY and scans for
// completed command lines.
func (m *Manager) Input(sessionID id.SessionID, data string) error {
	session, ok := m.registry.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	if !session.IsActive() {
		return ErrInactive
	}

	if err := session.proc.Write([]byte(data)); err != nil {
		return fmt.Errorf("failed to write to PTY: %w", err)
	}

	now := m.nowFn()
	session.touch(now)
	if m.metrics != nil {
		m.metrics.InputBytes.Add(float64(len(data)))
	}

	for _, command := range session.scanCommands([]byte(data)) {
		m.commandCompleted(session, command, now)
	}
	return nil
}

// Resize changes the PTY geometry.
func (m *Manager) Resize(sessionID id.SessionID, cols, rows int) error {
	session, ok := m.registry.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	return session.proc.Resize(cols, rows)
}

// Terminate ends a session explicitly. The second call for the same ID
// fails with ErrNotFound.
func (m *Manager) Terminate(sessionID id.SessionID, actor audit.Actor, reason string) error {
	session, ok := m.registry.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	return m.terminate(session, actor, reason, triggerExplicit)
}

// Get returns a summary for a registered session.
func (m *Manager) Get(sessionID id.SessionID) (Summary, error) {
	session, ok := m.registry.Get(sessionID)
	if !ok {
		return Summary{}, ErrNotFound
	}
	return session.Summary(), nil
}

// ListActive returns summaries of sessions that are active and not yet past
// expiry, optionally filtered by owner ID.
func (m *Manager) ListActive(ownerID string) []Summary {
	now := m.nowFn()

	summaries := make([]Summary, 0)
	for _, s := range m.registry.List() {
		if !s.isActiveAt(now) {
			continue
		}
		if ownerID != "" && s.Owner.ID() != ownerID {
			continue
		}
		summaries = append(summaries, s.Summary())
	}
	return summaries
}

// LogPath returns the session log file location for download by the route
// layer, or an error for IDs that were never valid.
func (m *Manager) LogPath(sessionID id.SessionID) (string, error) {
	if !id.IsValid(id.SessionPrefix, sessionID.String()) {
		return "", ErrNotFound
	}
	return LogFilePath(m.settings.Get().LogDir, sessionID), nil
}

// Audit queries the audit trail.
func (m *Manager) Audit(q audit.Query) []audit.Event {
	return m.trail.Query(q)
}

// terminate is the single idempotent finalization routine all triggers
// converge on: notify and close endpoints, kill the process, finalize the
// log sink, audit, deregister.
func (m *Manager) terminate(session *Session, actor audit.Actor, reason string, trigger string) error {
	if !session.deactivate() {
		return ErrNotFound
	}

	session.mu.Lock()
	endpoints := make([]Endpoint, 0, len(session.endpoints))
	for _, ep := range session.endpoints {
		endpoints = append(endpoints, ep)
	}
	session.endpoints = make(map[id.EndpointID]Endpoint)
	commandCount := session.commandCount
	session.mu.Unlock()

	for _, ep := range endpoints {
		if err := ep.Send(Message{Type: MessageSessionExpire, Reason: reason}); err != nil {
			m.logger.Debug("Failed to notify endpoint of termination", zap.Error(err))
		}
		if err := ep.Close(reason); err != nil {
			m.logger.Debug("Failed to close endpoint", zap.Error(err))
		}
		if m.metrics != nil {
			m.metrics.EndpointsAttached.Dec()
		}
	}

	if err := session.proc.Kill(); err != nil {
		m.logger.Warn("Failed to kill session process",
			zap.String("session_id", session.ID.String()), zap.Error(err))
	}

	now := m.nowFn()
	duration := now.Sub(session.StartedAt)
	session.sink.Finalize(now, reason, commandCount, duration)

	m.record(audit.ActionSessionTerminated, actor, map[string]interface{}{
		"session_id":       session.ID.String(),
		"reason":           reason,
		"trigger":          trigger,
		"command_count":    commandCount,
		"duration_seconds": int(duration.Seconds()),
	})

	m.registry.Remove(session.ID)

	if m.metrics != nil {
		m.metrics.SessionsTerminated.WithLabelValues(trigger).Inc()
		m.metrics.SessionsActive.Set(float64(len(m.ListActive(""))))
	}

	m.logger.Info("Terminal session terminated",
		zap.String("session_id", session.ID.String()),
		zap.String("reason", reason),
		zap.Int("command_count", commandCount),
	)
	return nil
}

// pumpOutput fans PTY output to every attached endpoint in arrival order,
// feeding the scrollback and, when command logging is enabled, the sink.
func (m *Manager) pumpOutput(session *Session) {
	for chunk := range session.proc.Output() {
		now := m.nowFn()
		endpoints := session.bufferOutput(chunk, now)

		if m.settings.Get().LogCommands {
			session.sink.WriteOutput(now, chunk)
		}
		if m.metrics != nil {
			m.metrics.OutputBytes.Add(float64(len(chunk)))
		}

		msg := Message{Type: MessageOutput, Data: string(chunk)}
		for _, ep := range endpoints {
			m.sendTo(session, ep, msg)
		}
	}
}

// watchExit turns an unexpected process exit into a termination trigger.
func (m *Manager) watchExit(session *Session) {
	status := <-session.proc.Exit()

	reason := fmt.Sprintf("Process exited (%s)", status)
	if err := m.terminate(session, audit.Actor{Name: "system"}, reason, triggerProcessExit); err != nil && err != ErrNotFound {
		m.logger.Error("Failed to finalize exited session",
			zap.String("session_id", session.ID.String()), zap.Error(err))
	}
}

// sweepLoop periodically terminates sessions past their expiry. Errors are
// logged, never raised, so one bad session cannot halt the sweep.
func (m *Manager) sweepLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.nowFn()
	for _, s := range m.registry.List() {
		if !s.expiredAt(now) {
			continue
		}
		if err := m.terminate(s, audit.Actor{Name: "system"}, "Session expired", triggerExpired); err != nil && err != ErrNotFound {
			m.logger.Error("Sweep failed to terminate expired session",
				zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	}
}

// commandCompleted records a finished input line: sink, audit, metrics, and
// a command_logged notification to attached endpoints.
func (m *Manager) commandCompleted(session *Session, command string, now time.Time) {
	session.sink.WriteCommand(now, command)

	m.record(audit.ActionCommandExecuted, actorFor(session.Owner), map[string]interface{}{
		"session_id": session.ID.String(),
		"command":    command,
	})

	if m.metrics != nil {
		m.metrics.CommandsTotal.Inc()
	}

	m.broadcast(session, Message{Type: MessageCommandLogged, Command: command})
}

// broadcast sends a message to every attached endpoint; endpoints that fail
// are detached without disturbing the rest.
func (m *Manager) broadcast(session *Session, msg Message) {
	for _, ep := range session.attachedEndpoints() {
		m.sendTo(session, ep, msg)
	}
}

func (m *Manager) sendTo(session *Session, ep Endpoint, msg Message) {
	if err := ep.Send(msg); err != nil {
		m.logger.Debug("Endpoint send failed, detaching",
			zap.String("session_id", session.ID.String()),
			zap.String("endpoint_id", ep.ID().String()),
			zap.Error(err))
		m.Detach(session.ID, ep.ID())
		ep.Close("Transport error")
	}
}

func (m *Manager) record(action string, actor audit.Actor, detail map[string]interface{}) {
	m.trail.Record(action, actor, detail)
	if m.metrics != nil {
		m.metrics.RecordAuditEvent(action)
	}
}

// actorFor converts a session owner into an audit actor.
func actorFor(owner Owner) audit.Actor {
	if owner.IsAgent() {
		return audit.Actor{AgentID: owner.AgentID, Name: owner.Task}
	}
	return audit.Actor{UserID: owner.UserID, Name: owner.Name}
}

// sessionEnv seeds the shell environment with session and owner identity.
func sessionEnv(sessionID id.SessionID, owner Owner) map[string]string {
	env := map[string]string{
		"JIT_SESSION_ID": sessionID.String(),
	}
	if owner.IsAgent() {
		env["JIT_AGENT_ID"] = owner.AgentID
		env["JIT_AGENT_TASK"] = owner.Task
		if len(owner.Restrictions) > 0 {
			env["JIT_RESTRICTIONS"] = strings.Join(owner.Restrictions, ",")
		}
	} else {
		env["JIT_USER"] = owner.UserID
		env["JIT_USER_NAME"] = owner.Name
	}
	return env
}
