// Package session implements the JIT terminal session core: the registry of
// live sessions, the manager that creates and terminates them, transport
// endpoint attach/detach with output fan-out, the per-session log sink, and
// the expiry sweep.
//
// A session owns exactly one PTY-backed shell process and one log sink, both
// destroyed when the session terminates. Sessions are terminal once
// terminated; a new grant requires a new session. Expiry is absolute (fixed
// at creation) and enforced only by the periodic sweep, keeping the
// input/output hot path free of deadline checks.
package session
