package session

import (
	"sync"
	"testing"
	"time"

	"github.com/opsgate/jitterm/internal/shared/id"
)

func activeSession(owner Owner, now time.Time) *Session {
	return &Session{
		ID:        id.NewSessionID(),
		Owner:     owner,
		StartedAt: now,
		ExpiresAt: now.Add(time.Hour),
		active:    true,
		endpoints: make(map[id.EndpointID]Endpoint),
	}
}

func TestRegistryReserveCommit(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	if err := r.Reserve("alice", 2, now); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	s := activeSession(HumanOwner("alice", "Alice"), now)
	r.Commit(s)

	if got, ok := r.Get(s.ID); !ok || got != s {
		t.Fatal("Committed session not retrievable")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Len())
	}
}

func TestRegistryQuotaCountsPending(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	if err := r.Reserve("alice", 2, now); err != nil {
		t.Fatalf("First reserve failed: %v", err)
	}
	if err := r.Reserve("alice", 2, now); err != nil {
		t.Fatalf("Second reserve failed: %v", err)
	}
	if err := r.Reserve("alice", 2, now); err != ErrQuotaExceeded {
		t.Fatalf("Expected ErrQuotaExceeded with two slots in flight, got %v", err)
	}
}

func TestRegistryQuotaCountsActive(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.Reserve("alice", 1, now)
	r.Commit(activeSession(HumanOwner("alice", "Alice"), now))

	if err := r.Reserve("alice", 1, now); err != ErrQuotaExceeded {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}

	// A different owner has an independent quota
	if err := r.Reserve("bob", 1, now); err != nil {
		t.Fatalf("Reserve for other owner failed: %v", err)
	}
}

func TestRegistryReleaseFreesSlot(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.Reserve("alice", 1, now)
	r.Release("alice")

	if err := r.Reserve("alice", 1, now); err != nil {
		t.Fatalf("Expected reserve to succeed after release, got %v", err)
	}
}

func TestRegistryTerminatedSessionsDoNotCount(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.Reserve("alice", 1, now)
	s := activeSession(HumanOwner("alice", "Alice"), now)
	r.Commit(s)
	s.deactivate()

	if err := r.Reserve("alice", 1, now); err != nil {
		t.Fatalf("Terminated session must not count toward quota, got %v", err)
	}
}

func TestRegistryExpiredSessionsDoNotCount(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.Reserve("alice", 1, now)
	s := activeSession(HumanOwner("alice", "Alice"), now)
	s.ExpiresAt = now.Add(-time.Minute)
	r.Commit(s)

	if err := r.Reserve("alice", 1, now); err != nil {
		t.Fatalf("Expired session must not count toward quota, got %v", err)
	}
}

func TestRegistryConcurrentReserve(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	max := 3

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Reserve("alice", max, now); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != max {
		t.Errorf("Expected exactly %d grants under contention, got %d", max, granted)
	}
}
