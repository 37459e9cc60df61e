// Package audit records security-relevant lifecycle events.
//
// Every event is kept in a fixed-capacity in-memory ring (oldest evicted
// first) for queries, and appended as one JSON object per line to a shared
// durable file for offline inspection. File append failures are logged and
// never propagate into session lifecycle.
package audit
