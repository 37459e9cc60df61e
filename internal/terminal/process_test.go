package terminal

import (
	"os"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no shell available")
	}
	return "/bin/sh"
}

func collectUntil(t *testing.T, p *Process, want string, timeout time.Duration) string {
	t.Helper()
	var b strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-p.Output():
			if !ok {
				return b.String()
			}
			b.Write(chunk)
			if strings.Contains(b.String(), want) {
				return b.String()
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %q, have %q", want, b.String())
		}
	}
}

func TestProcessRoundTrip(t *testing.T) {
	shell := requireShell(t)

	p, err := Start(Spec{Shell: shell, WorkingDir: "/tmp", Env: map[string]string{"PS1": "$ "}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Kill()

	if p.Shell() != shell {
		t.Errorf("Expected shell %s, got %s", shell, p.Shell())
	}

	if err := p.Write([]byte("echo round-trip-marker\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	collectUntil(t, p, "round-trip-marker", 5*time.Second)
}

func TestProcessEnvInjection(t *testing.T) {
	shell := requireShell(t)

	p, err := Start(Spec{Shell: shell, Env: map[string]string{"JIT_SESSION_ID": "sess_test_env"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Kill()

	if err := p.Write([]byte("echo id=$JIT_SESSION_ID\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	collectUntil(t, p, "id=sess_test_env", 5*time.Second)
}

func TestProcessExitDelivered(t *testing.T) {
	shell := requireShell(t)

	p, err := Start(Spec{Shell: shell})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := p.Write([]byte("exit 3\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case status := <-p.Exit():
		if status.Code != 3 {
			t.Errorf("Expected exit code 3, got %+v", status)
		}
		if !strings.Contains(status.String(), "exit code 3") {
			t.Errorf("Unexpected status string %q", status.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Exit status never delivered")
	}

	if err := p.Write([]byte("x")); err == nil {
		t.Error("Write after exit should fail")
	}
}

func TestProcessKill(t *testing.T) {
	shell := requireShell(t)

	p, err := Start(Spec{Shell: shell})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	select {
	case status := <-p.Exit():
		if status.Signal == "" && status.Code == 0 {
			t.Errorf("Expected a signal or nonzero code, got %+v", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Exit status never delivered after kill")
	}

	// Idempotent on a dead process
	if err := p.Kill(); err != nil {
		t.Errorf("Second kill should be a no-op, got %v", err)
	}
}

func TestProcessResize(t *testing.T) {
	shell := requireShell(t)

	p, err := Start(Spec{Shell: shell, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Kill()

	if err := p.Resize(132, 43); err != nil {
		t.Errorf("Resize failed: %v", err)
	}
}

func TestDefaultsApplied(t *testing.T) {
	shell := requireShell(t)
	t.Setenv("SHELL", shell)

	p, err := Start(Spec{})
	if err != nil {
		t.Fatalf("Start with empty spec failed: %v", err)
	}
	defer p.Kill()

	if p.Shell() != shell {
		t.Errorf("Expected $SHELL fallback %s, got %s", shell, p.Shell())
	}
}
