package jobstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the JobStore (§4.10): a single JSON file holding the full
// job queue, guarded by a mutex and persisted atomically. Structurally
// grounded on peerstore.Registry's load/mutate/atomic-persist shape,
// adapted from list-of-peers to list-of-jobs.
type Store struct {
	path string

	mu   sync.Mutex
	jobs map[string]*Job
}

// New constructs a Store backed by path, loading any existing state.
func New(path string) (*Store, error) {
	s := &Store{path: path, jobs: make(map[string]*Job)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	var jobs []*Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return err
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return nil
}

// Enqueue creates and persists a new pending job.
func (s *Store) Enqueue(in Input) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	j := &Job{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
		Status:           StatusPending,
		Strategy:         in.Strategy,
		Capability:       in.Capability,
		Params:           in.Params,
		MaxSats:          in.MaxSats,
		Priority:         in.Priority,
		PersistResult:    in.PersistResult,
		MemoryKey:        in.MemoryKey,
		MemoryCategory:   in.MemoryCategory,
		SelectedEndpoint: in.SelectedEndpoint,
	}
	j.appendAudit("enqueued", "", nil)
	s.jobs[j.ID] = j
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	clone := *j
	return &clone, nil
}

// Update applies mutate to the job with id and persists the result.
// mutate is responsible for appending its own audit entry.
func (s *Store) Update(id string, mutate func(j *Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	mutate(j)
	j.UpdatedAt = time.Now()
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	clone := *j
	return &clone, nil
}

// Get returns a copy of the job with id.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	clone := *j
	return &clone, true
}

// List returns all jobs, optionally filtered by status, ordered by
// (status lexicographic, priority ascending, createdAt ascending).
func (s *Store) List(status Status) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		clone := *j
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Status != out[k].Status {
			return out[i].Status < out[k].Status
		}
		if out[i].Priority != out[k].Priority {
			return out[i].Priority < out[k].Priority
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// NextPending returns up to limit jobs with status in {pending,
// needs_approval}, ordered by priority (ascending, lower runs first)
// then creation time (ascending, oldest first).
func (s *Store) NextPending(limit int) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*Job, 0)
	for _, j := range s.jobs {
		if j.Status == StatusPending || j.Status == StatusNeedsApproval {
			clone := *j
			pending = append(pending, &clone)
		}
	}
	sort.Slice(pending, func(i, k int) bool {
		if pending[i].Priority != pending[k].Priority {
			return pending[i].Priority < pending[k].Priority
		}
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

func (s *Store) persistLocked() error {
	list := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, j)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].CreatedAt.Before(list[k].CreatedAt) })

	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
