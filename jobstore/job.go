// Package jobstore implements the JobStore (§4.10): a durable,
// file-backed queue of brain jobs with statuses, audit trail, and
// priority ordering.
package jobstore

import "time"

// Status is a Brain job's lifecycle state (§3 Brain job).
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusNeedsApproval  Status = "needs_approval"
)

// Strategy selects how a job is executed (§4.11).
type Strategy string

const (
	StrategyAuto  Strategy = "auto"
	StrategyHire  Strategy = "hire"
	StrategyLocal Strategy = "local"
)

// MemoryStatus tracks the fate of a job's persistResult memory write.
type MemoryStatus string

const (
	MemoryPendingApproval MemoryStatus = "pending_approval"
	MemoryWritten         MemoryStatus = "written"
	MemorySkipped         MemoryStatus = "skipped"
)

// AuditEntry is one ordered entry in a job's audit trail.
type AuditEntry struct {
	Timestamp time.Time      `json:"ts"`
	Action    string         `json:"action"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Job is a Brain job (§3).
type Job struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Status          Status         `json:"status"`
	Strategy        Strategy       `json:"strategy"`
	Capability      string         `json:"capability"`
	Params          map[string]any `json:"params"`
	MaxSats         int64          `json:"maxSats"`
	Priority        int            `json:"priority"`
	Attempts        int            `json:"attempts"`
	SelectedEndpoint string        `json:"selectedEndpoint,omitempty"`
	PersistResult   bool           `json:"persistResult"`
	MemoryKey       string         `json:"memoryKey,omitempty"`
	MemoryCategory  string         `json:"memoryCategory,omitempty"`
	Result          any            `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	MemoryStatus    MemoryStatus   `json:"memoryStatus,omitempty"`
	MemoryTxID      string         `json:"memoryTxid,omitempty"`
	Audit           []AuditEntry   `json:"audit"`
}

// Input is the caller-supplied shape for Enqueue.
type Input struct {
	Strategy       Strategy
	Capability     string
	Params         map[string]any
	MaxSats        int64
	Priority       int
	PersistResult  bool
	MemoryKey      string
	MemoryCategory string
	SelectedEndpoint string
}

func (j *Job) appendAudit(action, reason string, details map[string]any) {
	j.Audit = append(j.Audit, AuditEntry{Timestamp: time.Now(), Action: action, Reason: reason, Details: details})
}
