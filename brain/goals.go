package brain

import (
	"time"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
	"github.com/BSVanon/ClawSats-sub000/jobstore"
	"github.com/BSVanon/ClawSats-sub000/policy"
)

// fingerprint identifies a goal template for dedup/cooldown purposes:
// capability + canonicalJson(normalizedParams).
func fingerprint(capability string, params map[string]any) (string, error) {
	raw, err := clawcrypto.CanonicalJSON(normalizeParams(capability, params))
	if err != nil {
		return "", err
	}
	return capability + string(raw), nil
}

var activeStatuses = map[jobstore.Status]bool{
	jobstore.StatusPending:       true,
	jobstore.StatusRunning:       true,
	jobstore.StatusNeedsApproval: true,
}

// GenerateGoals walks every enabled policy template and enqueues a job
// for each one that is neither already active nor within its cooldown
// window, emitting a goal-generated audit/event for each enqueue.
func (r *Router) GenerateGoals() error {
	p := r.Policy.Get()
	if !p.Goals.AutoGenerateJobs {
		return nil
	}

	all := r.Jobs.List("")
	byFingerprint := make(map[string][]*jobstore.Job)
	for _, j := range all {
		fp, err := fingerprint(j.Capability, j.Params)
		if err != nil {
			continue
		}
		byFingerprint[fp] = append(byFingerprint[fp], j)
	}

	for _, tmpl := range p.Goals.Templates {
		if tmpl.Enabled != nil && !*tmpl.Enabled {
			continue
		}
		fp, err := fingerprint(tmpl.Capability, tmpl.Params)
		if err != nil {
			continue
		}

		existing := byFingerprint[fp]
		skip := false
		for _, j := range existing {
			if activeStatuses[j.Status] {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if mostRecent := latestByUpdatedAt(existing); mostRecent != nil {
			cooldown := time.Duration(tmpl.EverySeconds) * time.Second
			if cooldown > 0 && time.Since(mostRecent.UpdatedAt) < cooldown {
				continue
			}
		}

		strategy := jobstore.Strategy(tmpl.Strategy)
		if strategy == "" {
			strategy = jobstore.StrategyAuto
		}
		maxSats := tmpl.MaxSats
		if maxSats == 0 {
			maxSats = p.Decisions.AutoHireMaxSats
		}
		j, err := r.Jobs.Enqueue(jobstore.Input{
			Strategy:       strategy,
			Capability:     tmpl.Capability,
			Params:         tmpl.Params,
			MaxSats:        maxSats,
			Priority:       tmpl.Priority,
			PersistResult:  tmpl.PersistResult,
			MemoryKey:      tmpl.MemoryKey,
			MemoryCategory: tmpl.MemoryCategory,
		})
		if err != nil {
			if r.Events != nil {
				_ = r.Events.LogEvent("brain", "goal-generation-failed", err.Error(), map[string]any{"capability": tmpl.Capability})
			}
			continue
		}
		_, _ = r.Jobs.Update(j.ID, func(job *jobstore.Job) {
			appendAudit(job, "goal-generated", "")
		})
		if r.Events != nil {
			_ = r.Events.LogEvent("brain", "goal-generated", "", map[string]any{"jobId": j.ID, "capability": j.Capability})
		}
	}
	return nil
}

func latestByUpdatedAt(jobs []*jobstore.Job) *jobstore.Job {
	var latest *jobstore.Job
	for _, j := range jobs {
		if latest == nil || j.UpdatedAt.After(latest.UpdatedAt) {
			latest = j
		}
	}
	return latest
}
