package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

const (
	defaultCols = 80
	defaultRows = 24

	readBufSize = 4096
)

// Spec describes the shell process to spawn.
type Spec struct {
	Shell      string
	WorkingDir string
	Cols       int
	Rows       int
	Env        map[string]string
}

// ExitStatus describes how the shell process ended.
type ExitStatus struct {
	Code   int
	Signal string
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("signal %s", e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Process is one interactive shell running under a PTY.
type Process struct {
	shell string
	cmd   *exec.Cmd
	ptmx  *os.File

	output chan []byte
	exit   chan ExitStatus

	mu     sync.Mutex
	closed bool
}

// Start spawns the shell with a PTY and begins pumping output.
func Start(spec Spec) (*Process, error) {
	shell := spec.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	workingDir := spec.WorkingDir
	if workingDir == "" {
		workingDir = os.Getenv("HOME")
		if workingDir == "" {
			workingDir = "/tmp"
		}
	}

	cols := spec.Cols
	if cols <= 0 {
		cols = defaultCols
	}
	rows := spec.Rows
	if rows <= 0 {
		rows = defaultRows
	}

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	p := &Process{
		shell:  shell,
		cmd:    cmd,
		ptmx:   ptmx,
		output: make(chan []byte, 64),
		exit:   make(chan ExitStatus, 1),
	}

	go p.readOutput()
	go p.monitor()

	return p, nil
}

// Shell returns the shell binary the process was started with.
func (p *Process) Shell() string {
	return p.shell
}

// Output returns the channel carrying merged stdout/stderr from the PTY.
// The channel is closed after the process exits and the PTY drains.
func (p *Process) Output() <-chan []byte {
	return p.output
}

// Exit returns the channel that delivers the exit status exactly once.
func (p *Process) Exit() <-chan ExitStatus {
	return p.exit
}

// Write forwards raw bytes to the PTY's input. It does not wait for echo.
func (p *Process) Write(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return fmt.Errorf("process is closed")
	}

	_, err := p.ptmx.Write(data)
	return err
}

// Resize changes the PTY geometry.
func (p *Process) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("process is closed")
	}

	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Kill sends a best-effort kill signal to the shell. Cleanup happens in the
// monitor goroutine once the process actually exits.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// readOutput continuously reads from the PTY and forwards chunks until the
// PTY is closed.
func (p *Process) readOutput() {
	defer close(p.output)

	buf := make([]byte, readBufSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.output <- chunk
		}
		if err != nil {
			// EOF or EIO once the slave side is gone
			return
		}
	}
}

// monitor waits for the process to exit, closes the PTY, and signals exit
// exactly once.
func (p *Process) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.ptmx.Close()

	status := ExitStatus{}
	if state := p.cmd.ProcessState; state != nil {
		status.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	} else if err != nil {
		status.Code = -1
	}

	p.exit <- status
	close(p.exit)
}
