// Command server runs the JIT terminal session service: PTY-backed shell
// sessions granted just-in-time, multiplexed over WebSocket endpoints, with
// per-session logs and a process-wide audit trail.
package main
