// Package id provides centralized ID generation for the session service.
//
// IDs are ULIDs with type-specific prefixes (sess_*, evt_*, ep_*), so they
// are lexicographically sortable by creation time and readable in logs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a terminal session.
type SessionID string

// EventID identifies an audit event.
type EventID string

// EndpointID identifies an attached transport endpoint.
type EndpointID string

const (
	SessionPrefix  = "sess"
	EventPrefix    = "evt"
	EndpointPrefix = "ep"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewEventID generates a new audit event ID.
func NewEventID() EventID {
	return EventID(Default().GenerateWithPrefix(EventPrefix))
}

// NewEndpointID generates a new endpoint ID.
func NewEndpointID() EndpointID {
	return EndpointID(Default().GenerateWithPrefix(EndpointPrefix))
}

func (id SessionID) String() string  { return string(id) }
func (id EventID) String() string    { return string(id) }
func (id EndpointID) String() string { return string(id) }

// IsValid checks whether id has the exact form <prefix>_<ULID>. The prefix
// must match byte for byte and the remainder must parse as a ULID, so IDs
// used to derive file paths cannot smuggle separator bytes.
func IsValid(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok || len(rest) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}
