package peerstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// MaxPeers is the capacity cap after which the lowest-reputation peers
	// are evicted (§4.3).
	MaxPeers = 500
	// StaleAfter is the lastSeen age beyond which a peer is dropped on any
	// subsequent mutation.
	StaleAfter = 7 * 24 * time.Hour
	// persistDebounce is how long a mutation waits before the registry is
	// flushed to disk, coalescing bursts of churn into one write.
	persistDebounce = 5 * time.Second
)

// Registry is the PeerRegistry (§4.3). All mutations are serialized by mu;
// reads take a snapshot under the same lock.
type Registry struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger

	byID       map[string]Peer
	pendingWrite bool
	writeTimer   *time.Timer
	closed       bool
}

// NewRegistry constructs a Registry persisted at path. If a file already
// exists there it is loaded synchronously.
func NewRegistry(path string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		path: path,
		log:  log,
		byID: make(map[string]Peer),
	}
	if path == "" {
		return r, nil
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var peers []Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range peers {
		r.byID[p.IdentityKey] = p.clone()
	}
	return nil
}

// Add inserts or merges a peer record. If a record already exists for the
// identity key, the higher reputation is retained and endpoint,
// capabilities, and lastSeen are refreshed from the incoming record.
func (r *Registry) Add(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p = p.clone()
	p.Reputation = clampReputation(p.Reputation)
	if existing, ok := r.byID[p.IdentityKey]; ok {
		if existing.Reputation > p.Reputation {
			p.Reputation = existing.Reputation
		}
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}
	r.byID[p.IdentityKey] = p
	r.afterMutationLocked()
}

// Remove deletes a peer by identity key.
func (r *Registry) Remove(identityKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, identityKey)
	r.afterMutationLocked()
}

// Get returns a peer by identity key.
func (r *Registry) Get(identityKey string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[identityKey]
	return p.clone(), ok
}

// GetByEndpoint returns the first peer advertising the given endpoint.
func (r *Registry) GetByEndpoint(endpoint string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Endpoint == endpoint {
			return p.clone(), true
		}
	}
	return Peer{}, false
}

// All returns every known peer, sorted by identity key for determinism.
func (r *Registry) All() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityKey < out[j].IdentityKey })
	return out
}

// ByCapability returns peers advertising the named capability.
func (r *Registry) ByCapability(name string) []Peer {
	all := r.All()
	out := make([]Peer, 0, len(all))
	for _, p := range all {
		for _, c := range p.Capabilities {
			if c == name {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ByChain returns peers tagged with the given chain.
func (r *Registry) ByChain(tag string) []Peer {
	all := r.All()
	out := make([]Peer, 0, len(all))
	for _, p := range all {
		if p.ChainTag == tag {
			out = append(out, p)
		}
	}
	return out
}

// RecordSuccess bumps reputation by 1 (capped 100) and refreshes lastSeen.
func (r *Registry) RecordSuccess(identityKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[identityKey]
	if !ok {
		return
	}
	p.Reputation = clampReputation(p.Reputation + 1)
	p.LastSeen = time.Now()
	r.byID[identityKey] = p
	r.afterMutationLocked()
}

// RecordFailure reduces reputation by 5 (floor 0).
func (r *Registry) RecordFailure(identityKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[identityKey]
	if !ok {
		return
	}
	p.Reputation = clampReputation(p.Reputation - 5)
	r.byID[identityKey] = p
	r.afterMutationLocked()
}

// Size returns the number of tracked peers.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// afterMutationLocked runs the eviction rules and schedules a debounced
// persist. Caller must hold mu.
func (r *Registry) afterMutationLocked() {
	r.evictStaleLocked()
	r.evictOverCapacityLocked()
	r.schedulePersistLocked()
}

func (r *Registry) evictStaleLocked() {
	threshold := time.Now().Add(-StaleAfter)
	for id, p := range r.byID {
		if p.LastSeen.Before(threshold) {
			delete(r.byID, id)
		}
	}
}

func (r *Registry) evictOverCapacityLocked() {
	if len(r.byID) <= MaxPeers {
		return
	}
	ordered := make([]Peer, 0, len(r.byID))
	for _, p := range r.byID {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Reputation < ordered[j].Reputation })
	excess := len(ordered) - MaxPeers
	for i := 0; i < excess; i++ {
		delete(r.byID, ordered[i].IdentityKey)
	}
}

func (r *Registry) schedulePersistLocked() {
	if r.path == "" || r.closed {
		return
	}
	if r.pendingWrite {
		return
	}
	r.pendingWrite = true
	r.writeTimer = time.AfterFunc(persistDebounce, func() {
		r.mu.Lock()
		r.pendingWrite = false
		snapshot := r.snapshotLocked()
		r.mu.Unlock()
		if err := r.persist(snapshot); err != nil {
			r.log.Warn("peer registry persist failed", slog.String("error", err.Error()))
		}
	})
}

func (r *Registry) snapshotLocked() []Peer {
	out := make([]Peer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityKey < out[j].IdentityKey })
	return out
}

func (r *Registry) persist(peers []Peer) error {
	data, err := json.MarshalIndent(peers, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Flush forces an immediate synchronous persist, bypassing the debounce,
// and marks the registry closed: later mutations schedule no debounced
// write and reach disk only through another Flush. Called on clean
// shutdown and by the discovery daemon at the end of every sweep.
func (r *Registry) Flush() error {
	r.mu.Lock()
	if r.writeTimer != nil {
		r.writeTimer.Stop()
	}
	r.pendingWrite = false
	r.closed = true
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	if r.path == "" {
		return nil
	}
	return r.persist(snapshot)
}
