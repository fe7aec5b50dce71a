package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BSVanon/ClawSats-sub000/jobstore"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	"github.com/BSVanon/ClawSats-sub000/policy"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

// MemoryWriter is the external on-chain memory-write collaborator
// (out of scope per §1; consumed through this narrow interface).
type MemoryWriter interface {
	WriteMemory(ctx context.Context, key, category string, value any) (txid string, err error)
}

// Router is the TaskRouter (§4.11).
type Router struct {
	Jobs    *jobstore.Store
	Policy  *policy.Store
	Peers   *peerstore.Registry
	Events  *policy.EventLog
	Memory  MemoryWriter
	Log     *slog.Logger

	caller    *capCaller
	localPort int
}

// NewRouter constructs a Router. localPort is the node's own HTTP
// port, used to build the http://127.0.0.1:<port>/call/<cap> URL for
// the "local" execution strategy.
func NewRouter(jobs *jobstore.Store, pol *policy.Store, peers *peerstore.Registry, events *policy.EventLog, gw wallet.Gateway, mem MemoryWriter, log *slog.Logger, localPort int) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		Jobs: jobs, Policy: pol, Peers: peers, Events: events, Memory: mem, Log: log,
		caller: newCapCaller(gw, gw.IdentityKey()), localPort: localPort,
	}
}

// paramAliases maps capability -> {fromKey: toKey} for §4.11 normalization.
var paramAliases = map[string]map[string]string{
	"dns_resolve":       {"domain": "hostname"},
	"peer_health_check": {"peer": "endpoint"},
	"fetch_url":         {"endpoint": "url"},
}

func normalizeParams(capability string, params map[string]any) map[string]any {
	aliases, ok := paramAliases[capability]
	if !ok {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if target, aliased := aliases[k]; aliased {
			if _, exists := params[target]; !exists {
				out[target] = v
				continue
			}
		}
		out[k] = v
	}
	return out
}

// pickRemoteCandidate selects a peer advertising capability. It
// prefers a peer matching preferredEndpoint; otherwise the
// lexicographically smallest endpoint among eligible peers.
func pickRemoteCandidate(peers *peerstore.Registry, capability, preferredEndpoint string) (peerstore.Peer, bool) {
	if peers == nil {
		return peerstore.Peer{}, false
	}
	candidates := peers.ByCapability(capability)
	if len(candidates) == 0 {
		return peerstore.Peer{}, false
	}
	if preferredEndpoint != "" {
		for _, p := range candidates {
			if p.Endpoint == preferredEndpoint {
				return p, true
			}
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].Endpoint < candidates[k].Endpoint })
	return candidates[0], true
}

// Run pulls and executes up to policy.maxJobsPerSweep pending/needs-approval
// jobs sequentially (§4.11 Execution).
func (r *Router) Run(ctx context.Context) {
	p := r.Policy.Get()
	pending := r.Jobs.NextPending(p.Decisions.MaxJobsPerSweep)
	for _, j := range pending {
		r.runOne(ctx, j, p)
	}
}

func (r *Router) runOne(ctx context.Context, j *jobstore.Job, p policy.Policy) {
	if j.Status == jobstore.StatusNeedsApproval {
		r.resumeApproved(ctx, j, p)
		return
	}

	if _, err := r.Jobs.Update(j.ID, func(job *jobstore.Job) {
		job.Status = jobstore.StatusRunning
		job.Attempts++
		appendAudit(job, "job-started", "")
	}); err != nil {
		r.Log.Error("failed to mark job running", slog.String("jobId", j.ID), slog.String("error", err.Error()))
		return
	}

	params := normalizeParams(j.Capability, j.Params)
	strategy, endpoint, err := r.resolveStrategy(j, p)
	if err != nil {
		r.failJob(j.ID, err)
		return
	}

	var res callResult
	switch strategy {
	case jobstore.StrategyLocal:
		res, err = r.caller.Call(ctx, fmt.Sprintf("http://127.0.0.1:%d", r.localPort), j.Capability, params, j.MaxSats)
	case jobstore.StrategyHire:
		res, err = r.caller.Call(ctx, endpoint, j.Capability, params, j.MaxSats)
	default:
		err = fmt.Errorf("unresolved strategy %q", strategy)
	}
	if err != nil {
		r.failJob(j.ID, err)
		return
	}

	r.succeedJob(ctx, j.ID, res.Result, p)
}

func (r *Router) resolveStrategy(j *jobstore.Job, p policy.Policy) (jobstore.Strategy, string, error) {
	candidate, hasCandidate := pickRemoteCandidate(r.Peers, j.Capability, j.SelectedEndpoint)
	hireAllowed := p.Decisions.HireEnabled && capabilityAllowed(p.Decisions.AutoHireCapabilities, j.Capability)

	switch j.Strategy {
	case jobstore.StrategyLocal:
		return jobstore.StrategyLocal, "", nil
	case jobstore.StrategyHire:
		if !hireAllowed || !hasCandidate {
			return "", "", fmt.Errorf("hire strategy unavailable: hireEnabled=%v allowlisted=%v candidate=%v", p.Decisions.HireEnabled, capabilityAllowed(p.Decisions.AutoHireCapabilities, j.Capability), hasCandidate)
		}
		return jobstore.StrategyHire, candidate.Endpoint, nil
	case jobstore.StrategyAuto:
		if hasCandidate && hireAllowed {
			return jobstore.StrategyHire, candidate.Endpoint, nil
		}
		return jobstore.StrategyLocal, "", nil
	default:
		return "", "", fmt.Errorf("unknown strategy %q", j.Strategy)
	}
}

func capabilityAllowed(allowlist []string, capability string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, c := range allowlist {
		if c == capability {
			return true
		}
	}
	return false
}

// appendAudit adds one entry to job's audit trail.
func appendAudit(job *jobstore.Job, action, reason string) {
	job.Audit = append(job.Audit, jobstore.AuditEntry{Timestamp: time.Now(), Action: action, Reason: reason})
}

func (r *Router) failJob(jobID string, cause error) {
	if _, err := r.Jobs.Update(jobID, func(job *jobstore.Job) {
		job.Status = jobstore.StatusFailed
		job.Error = cause.Error()
		appendAudit(job, "job-failed", cause.Error())
	}); err != nil {
		r.Log.Error("failed to persist job failure", slog.String("jobId", jobID), slog.String("error", err.Error()))
	}
	if r.Events != nil {
		_ = r.Events.LogEvent("brain", "job-failed", cause.Error(), map[string]any{"jobId": jobID})
	}
}

func (r *Router) succeedJob(ctx context.Context, jobID string, result any, p policy.Policy) {
	j, ok := r.Jobs.Get(jobID)
	if !ok {
		return
	}
	if !j.PersistResult {
		r.completeJob(jobID, result, jobstore.MemorySkipped, "")
		return
	}
	if !p.Decisions.WriteMemoryEnabled {
		r.completeJob(jobID, result, jobstore.MemorySkipped, "")
		return
	}
	if p.Decisions.RequireHumanApprovalForMemory {
		if _, err := r.Jobs.Update(jobID, func(job *jobstore.Job) {
			job.Status = jobstore.StatusNeedsApproval
			job.Result = result
			job.MemoryStatus = jobstore.MemoryPendingApproval
			appendAudit(job, "memory-write-pending-approval", "")
		}); err != nil {
			r.Log.Error("failed to mark job needs-approval", slog.String("jobId", jobID), slog.String("error", err.Error()))
		}
		return
	}
	r.writeMemoryAndComplete(ctx, jobID, result)
}

// resumeApproved handles a job sitting at needs_approval by writing its
// recorded result to memory and completing it. It takes no approval
// input: any needs_approval job reached by Run is written.
func (r *Router) resumeApproved(ctx context.Context, j *jobstore.Job, p policy.Policy) {
	r.writeMemoryAndComplete(ctx, j.ID, j.Result)
}

func (r *Router) writeMemoryAndComplete(ctx context.Context, jobID string, result any) {
	j, ok := r.Jobs.Get(jobID)
	if !ok {
		return
	}
	if r.Memory == nil {
		r.failJob(jobID, fmt.Errorf("no memory writer configured"))
		return
	}
	txid, err := r.Memory.WriteMemory(ctx, j.MemoryKey, j.MemoryCategory, result)
	if err != nil {
		r.failJob(jobID, fmt.Errorf("memory write failed: %w", err))
		return
	}
	r.completeJob(jobID, result, jobstore.MemoryWritten, txid)
}

func (r *Router) completeJob(jobID string, result any, memStatus jobstore.MemoryStatus, txid string) {
	if _, err := r.Jobs.Update(jobID, func(job *jobstore.Job) {
		job.Status = jobstore.StatusCompleted
		job.Result = result
		job.MemoryStatus = memStatus
		job.MemoryTxID = txid
		appendAudit(job, "job-completed", "")
	}); err != nil {
		r.Log.Error("failed to persist job completion", slog.String("jobId", jobID), slog.String("error", err.Error()))
	}
	if r.Events != nil {
		_ = r.Events.LogEvent("brain", "job-completed", "", map[string]any{"jobId": jobID})
	}
}

// RetryFailed resets every failed job matching capability (or all, if
// empty) back to pending so the next sweep retries it.
func (r *Router) RetryFailed(capability string) (int, error) {
	failed := r.Jobs.List(jobstore.StatusFailed)
	n := 0
	for _, j := range failed {
		if capability != "" && !strings.EqualFold(j.Capability, capability) {
			continue
		}
		if _, err := r.Jobs.Update(j.ID, func(job *jobstore.Job) {
			job.Status = jobstore.StatusPending
			job.Error = ""
			appendAudit(job, "retry-requested", "")
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
