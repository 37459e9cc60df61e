package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsgate/jitterm/internal/infrastructure/logging"
	"github.com/opsgate/jitterm/internal/shared/id"
)

// Sink is the append-only per-session log file: a human-readable header,
// timestamped [OUTPUT] and [COMMAND] lines, and a finalization block.
// Append failures are reported to the service logger and never interrupt
// the session. All methods are safe on a nil receiver, so a sink that
// failed to open degrades to a no-op.
type Sink struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *logging.Logger
}

// LogFilePath returns the log file location for a session ID.
func LogFilePath(dir string, sessionID id.SessionID) string {
	return filepath.Join(dir, sessionID.String()+".log")
}

// OpenSink creates the session log file and writes its header. The header
// content differs for agent and human sessions.
func OpenSink(dir string, s *Session, shell string, logger *logging.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to provision log directory: %w", err)
	}

	path := LogFilePath(dir, s.ID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	sink := &Sink{file: file, path: path, logger: logger}
	sink.writeHeader(s, shell)
	return sink, nil
}

func (k *Sink) writeHeader(s *Session, shell string) {
	var b strings.Builder
	b.WriteString("==== JIT Terminal Session ====\n")
	fmt.Fprintf(&b, "Session: %s\n", s.ID)
	if s.Owner.IsAgent() {
		fmt.Fprintf(&b, "Agent:   %s\n", s.Owner.AgentID)
		fmt.Fprintf(&b, "Task:    %s\n", s.Owner.Task)
		if len(s.Owner.Restrictions) > 0 {
			fmt.Fprintf(&b, "Restrictions: %s\n", strings.Join(s.Owner.Restrictions, ", "))
		}
	} else {
		fmt.Fprintf(&b, "User:    %s (%s)\n", s.Owner.UserID, s.Owner.Name)
	}
	fmt.Fprintf(&b, "Started: %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Expires: %s\n", s.ExpiresAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Shell:   %s\n", shell)
	b.WriteString("==============================\n")

	k.append(b.String())
}

// Path returns the log file location.
func (k *Sink) Path() string {
	if k == nil {
		return ""
	}
	return k.path
}

// WriteOutput appends a timestamped [OUTPUT] line with raw PTY output.
func (k *Sink) WriteOutput(ts time.Time, data []byte) {
	if k == nil {
		return
	}
	k.append(fmt.Sprintf("%s [OUTPUT] %s\n", ts.UTC().Format(time.RFC3339Nano), data))
}

// WriteCommand appends a timestamped [COMMAND] line for a completed input line.
func (k *Sink) WriteCommand(ts time.Time, command string) {
	if k == nil {
		return
	}
	k.append(fmt.Sprintf("%s [COMMAND] %s\n", ts.UTC().Format(time.RFC3339Nano), command))
}

// Finalize appends the end-of-session block and closes the file.
func (k *Sink) Finalize(end time.Time, reason string, commandCount int, duration time.Duration) {
	if k == nil {
		return
	}

	var b strings.Builder
	b.WriteString("==== Session ended ====\n")
	fmt.Fprintf(&b, "Ended:    %s\n", end.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Reason:   %s\n", reason)
	fmt.Fprintf(&b, "Commands: %d\n", commandCount)
	fmt.Fprintf(&b, "Duration: %ds\n", int(duration.Seconds()))
	b.WriteString("=======================\n")
	k.append(b.String())

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.file != nil {
		k.file.Close()
		k.file = nil
	}
}

func (k *Sink) append(s string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.file == nil {
		return
	}
	if _, err := k.file.WriteString(s); err != nil {
		k.logger.Warn("Session log append failed", zap.String("path", k.path), zap.Error(err))
	}
}
