package peerstore

import (
	"fmt"
	"testing"
	"time"
)

func TestRegistryAddRetainsHigherReputation(t *testing.T) {
	r, err := NewRegistry("", nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	r.Add(Peer{IdentityKey: "k1", Reputation: 30, LastSeen: time.Now()})
	r.Add(Peer{IdentityKey: "k1", Reputation: 10, LastSeen: time.Now()})
	p, ok := r.Get("k1")
	if !ok {
		t.Fatalf("expected peer to exist")
	}
	if p.Reputation != 30 {
		t.Fatalf("expected reputation to stay at max(30,10)=30, got %d", p.Reputation)
	}
}

func TestRegistryReputationClamped(t *testing.T) {
	r, _ := NewRegistry("", nil)
	r.Add(Peer{IdentityKey: "k1", Reputation: 200, LastSeen: time.Now()})
	p, _ := r.Get("k1")
	if p.Reputation != 100 {
		t.Fatalf("expected reputation clamped to 100, got %d", p.Reputation)
	}
}

func TestRegistryRecordSuccessAndFailure(t *testing.T) {
	r, _ := NewRegistry("", nil)
	r.Add(Peer{IdentityKey: "k1", Reputation: 98, LastSeen: time.Now()})
	r.RecordSuccess("k1")
	r.RecordSuccess("k1")
	p, _ := r.Get("k1")
	if p.Reputation != 100 {
		t.Fatalf("expected reputation capped at 100, got %d", p.Reputation)
	}
	r.RecordFailure("k1")
	p, _ = r.Get("k1")
	if p.Reputation != 95 {
		t.Fatalf("expected reputation 95 after -5, got %d", p.Reputation)
	}
}

func TestRegistryEvictsStale(t *testing.T) {
	r, _ := NewRegistry("", nil)
	r.Add(Peer{IdentityKey: "stale", Reputation: 50, LastSeen: time.Now().Add(-8 * 24 * time.Hour)})
	r.Add(Peer{IdentityKey: "fresh", Reputation: 50, LastSeen: time.Now()})
	if _, ok := r.Get("stale"); ok {
		t.Fatalf("expected stale peer to be evicted")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Fatalf("expected fresh peer to remain")
	}
}

func TestRegistryEvictsOverCapacity(t *testing.T) {
	r, _ := NewRegistry("", nil)
	for i := 0; i < MaxPeers+10; i++ {
		r.Add(Peer{IdentityKey: fmt.Sprintf("k%04d", i), Reputation: i % 101, LastSeen: time.Now()})
	}
	if r.Size() != MaxPeers {
		t.Fatalf("expected size capped at %d, got %d", MaxPeers, r.Size())
	}
}

func TestRegistryByCapability(t *testing.T) {
	r, _ := NewRegistry("", nil)
	r.Add(Peer{IdentityKey: "k1", Capabilities: []string{"echo", "dns_resolve"}, LastSeen: time.Now()})
	r.Add(Peer{IdentityKey: "k2", Capabilities: []string{"echo"}, LastSeen: time.Now()})
	matches := r.ByCapability("dns_resolve")
	if len(matches) != 1 || matches[0].IdentityKey != "k1" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}
