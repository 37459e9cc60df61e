// Package terminal wraps a single interactive shell process running under a
// pseudo-terminal.
//
// A Process merges the shell's stdout/stderr through the PTY and delivers it
// on a channel, in the order the OS delivers it. Exit is signaled exactly
// once on a separate channel with the exit code and terminating signal. The
// session manager owns the Process and is the sole consumer of both
// channels.
package terminal
