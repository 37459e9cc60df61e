package session

import (
	"testing"
	"time"

	"github.com/opsgate/jitterm/internal/shared/id"
)

func TestScanCommands(t *testing.T) {
	cases := []struct {
		name  string
		input []string
		want  []string
	}{
		{"single newline", []string{"ls -la\n"}, []string{"ls -la"}},
		{"carriage return", []string{"pwd\r"}, []string{"pwd"}},
		{"crlf is one command", []string{"whoami\r\n"}, []string{"whoami"}},
		{"partial then completion", []string{"git sta", "tus\n"}, []string{"git status"}},
		{"blank lines skipped", []string{"\n\n   \r\n"}, nil},
		{"multi-line paste", []string{"a\nb\nc\n"}, []string{"a", "b", "c"}},
		{"surrounding whitespace trimmed", []string{"  echo hi  \n"}, []string{"echo hi"}},
		{"no terminator", []string{"pending"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Session{}
			var got []string
			for _, chunk := range tc.input {
				got = append(got, s.scanCommands([]byte(chunk))...)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("Expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("Command %d: expected %q, got %q", i, tc.want[i], got[i])
				}
			}
			if s.CommandCount() != len(tc.want) {
				t.Errorf("Expected count %d, got %d", len(tc.want), s.CommandCount())
			}
		})
	}
}

func TestOwnerIdentity(t *testing.T) {
	human := HumanOwner("alice", "Alice")
	if human.IsAgent() || human.ID() != "alice" {
		t.Errorf("Unexpected human owner: %+v", human)
	}

	agent := AgentOwner("agent-7", "audit disks", []string{"read-only"})
	if !agent.IsAgent() || agent.ID() != "agent-7" {
		t.Errorf("Unexpected agent owner: %+v", agent)
	}
}

func TestSummaryShapes(t *testing.T) {
	now := time.Now()

	human := activeSession(HumanOwner("alice", "Alice"), now)
	hs := human.Summary()
	if hs.UserID != "alice" || hs.UserName != "Alice" || hs.IsAgent || hs.AgentID != "" {
		t.Errorf("Unexpected human summary: %+v", hs)
	}

	agent := activeSession(AgentOwner("agent-7", "audit disks", nil), now)
	as := agent.Summary()
	if as.AgentID != "agent-7" || as.Task != "audit disks" || !as.IsAgent || as.UserID != "" {
		t.Errorf("Unexpected agent summary: %+v", as)
	}
}

func TestSessionLiveness(t *testing.T) {
	now := time.Now()
	s := activeSession(HumanOwner("alice", "Alice"), now)

	if !s.isActiveAt(now) {
		t.Error("Fresh session should be active")
	}
	if s.expiredAt(now) {
		t.Error("Fresh session should not be expired")
	}

	past := now.Add(2 * time.Hour)
	if s.isActiveAt(past) {
		t.Error("Session past expiry should not count as active")
	}
	if !s.expiredAt(past) {
		t.Error("Session past expiry should be sweepable")
	}

	if !s.deactivate() {
		t.Fatal("First deactivate must succeed")
	}
	if s.deactivate() {
		t.Fatal("Second deactivate must report already-terminated")
	}
	if s.expiredAt(past) {
		t.Error("Terminated session is not sweepable")
	}
}

func TestAttachedEndpointsSnapshot(t *testing.T) {
	s := activeSession(HumanOwner("alice", "Alice"), time.Now())

	ep := newFakeEndpoint()
	s.mu.Lock()
	s.endpoints[ep.ID()] = ep
	s.mu.Unlock()

	eps := s.attachedEndpoints()
	if len(eps) != 1 || eps[0].ID() != ep.ID() {
		t.Fatalf("Unexpected snapshot: %v", eps)
	}

	// Mutating the session afterwards must not affect the snapshot
	s.mu.Lock()
	s.endpoints = make(map[id.EndpointID]Endpoint)
	s.mu.Unlock()
	if len(eps) != 1 {
		t.Error("Snapshot aliased live endpoint map")
	}
}
