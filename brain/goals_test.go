package brain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/BSVanon/ClawSats-sub000/jobstore"
	"github.com/BSVanon/ClawSats-sub000/policy"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	dir := t.TempDir()
	jobs, err := jobstore.New(filepath.Join(dir, "jobs.json"))
	if err != nil {
		t.Fatalf("jobstore: %v", err)
	}
	pol, err := policy.Load(filepath.Join(dir, "policy.json"))
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return &Router{Jobs: jobs, Policy: pol}
}

func enableTemplate(t *testing.T, r *Router, tmpl policy.GoalTemplate) {
	t.Helper()
	p := r.Policy.Get()
	p.Goals.AutoGenerateJobs = true
	p.Goals.Templates = append(p.Goals.Templates, tmpl)
	if err := r.Policy.Set(p); err != nil {
		t.Fatalf("set policy: %v", err)
	}
}

func TestGenerateGoalsEnqueuesOncePerCooldown(t *testing.T) {
	r := newTestRouter(t)
	enableTemplate(t, r, policy.GoalTemplate{
		Capability:   "dns_resolve",
		Params:       map[string]any{"hostname": "x.com", "type": "A"},
		EverySeconds: 900,
		Strategy:     "auto",
	})

	if err := r.GenerateGoals(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	pending := r.Jobs.List(jobstore.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("expected one job enqueued, got %d", len(pending))
	}

	if err := r.GenerateGoals(); err != nil {
		t.Fatalf("generate again: %v", err)
	}
	pending = r.Jobs.List(jobstore.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("expected no new job within cooldown, got %d", len(pending))
	}
}

func TestGenerateGoalsSkipsDisabledTemplate(t *testing.T) {
	r := newTestRouter(t)
	disabled := false
	enableTemplate(t, r, policy.GoalTemplate{
		Capability: "echo",
		Params:     map[string]any{},
		Enabled:    &disabled,
	})
	if err := r.GenerateGoals(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(r.Jobs.List("")) != 0 {
		t.Fatalf("expected disabled template to produce no jobs")
	}
}

func TestGenerateGoalsSkipsWhileActiveJobExists(t *testing.T) {
	r := newTestRouter(t)
	enableTemplate(t, r, policy.GoalTemplate{
		Capability:   "echo",
		Params:       map[string]any{"message": "hi"},
		EverySeconds: 1,
	})
	if err := r.GenerateGoals(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := r.GenerateGoals(); err != nil {
		t.Fatalf("generate again immediately: %v", err)
	}
	if len(r.Jobs.List("")) != 1 {
		t.Fatalf("expected the active (pending) job to suppress a second enqueue")
	}
}

func TestGenerateGoalsReenqueuesAfterCooldownExpires(t *testing.T) {
	r := newTestRouter(t)
	enableTemplate(t, r, policy.GoalTemplate{
		Capability:   "echo",
		Params:       map[string]any{"message": "hi"},
		EverySeconds: 1,
	})
	if err := r.GenerateGoals(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	all := r.Jobs.List("")
	if len(all) != 1 {
		t.Fatalf("expected one job")
	}
	if _, err := r.Jobs.Update(all[0].ID, func(j *jobstore.Job) { j.Status = jobstore.StatusCompleted }); err != nil {
		t.Fatalf("update: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)
	if err := r.GenerateGoals(); err != nil {
		t.Fatalf("generate after cooldown: %v", err)
	}
	if len(r.Jobs.List("")) != 2 {
		t.Fatalf("expected a fresh job after cooldown expired, got %d", len(r.Jobs.List("")))
	}
}
