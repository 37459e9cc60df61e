// Package ws bridges WebSocket connections to terminal sessions.
//
// Each accepted connection becomes one transport endpoint attached to
// exactly one session: inbound input and resize frames are routed to the
// session manager, and the manager pushes output, command_logged,
// session_update, and session_expired frames back. A connection whose
// session is missing or terminated is closed with a specific reason at
// attach time rather than a generic error.
package ws
