package acceptance

import (
	"context"
	"testing"

	"github.com/agenticops/agentcd/internal/agent"
	"github.com/agenticops/agentcd/internal/audit"
	"github.com/agenticops/agentcd/internal/gate"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/promoter"
	"github.com/agenticops/agentcd/internal/registry"
	"github.com/agenticops/agentcd/internal/rollback"
	"github.com/agenticops/agentcd/internal/signing"
	"github.com/agenticops/agentcd/internal/store"
	"github.com/agenticops/agentcd/internal/verifier"
)

type liveRuntime struct {
	response    string
	updates     int
	lastVersion int
}

func (r *liveRuntime) Invoke(ctx context.Context, agentID, input string) (string, error) {
	return r.response, nil
}

func (r *liveRuntime) UpdateAlias(ctx context.Context, agentID, aliasID string, targetVersion int) error {
	r.updates++
	r.lastVersion = targetVersion
	return nil
}

// The full release path: gates, staging deploy with smoke checks, manual
// approval, production deploy, then an incident rollback. Everything runs
// against the in-memory store with a stubbed runtime.
func TestFullReleaseAndRollbackFlow(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	for _, env := range []models.EnvironmentName{models.EnvStaging, models.EnvProduction} {
		if _, err := memStore.EnsureEnvironment(ctx, env, "alias-"+string(env)); err != nil {
			t.Fatalf("ensure environment: %v", err)
		}
	}

	rt := &liveRuntime{response: "You are 13253 days old."}
	fileStore := audit.NewFileStore(t.TempDir(), signing.NoopSigner{})
	recorder := audit.NewRecorder(fileStore, nil, nil)

	verifiers := func(name models.EnvironmentName) promoter.SmokeVerifier {
		v := verifier.New(rt, "agent-"+string(name))
		v.RetryDelay = 0
		return v
	}
	prom := promoter.New(memStore, gate.NewScanGate(registry.NewMemoryRegistry()), verifiers, recorder, promoter.Config{
		Rules: []gate.ThresholdRule{
			{Metric: "tool_selection", Threshold: 0.95},
			{Metric: "refusal_accuracy", Threshold: 1.0},
		},
		Baseline: agent.Declared(),
		Aliases:  rt,
		AgentIDs: func(name models.EnvironmentName) string { return "agent-" + string(name) },
	})

	run, err := prom.Start(ctx, promoter.StartInput{
		Fingerprint: "agent:a1b2c3",
		Digest:      "sha256:0ff1ce",
		Results:     models.EvaluationResult{"tool_selection": 0.96, "refusal_accuracy": 1.0},
		Scan: models.ScanReport{Findings: []models.Finding{
			{ID: "CVE-2026-5001", Severity: models.SeverityMedium},
		}},
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if run.State != models.RunAwaitingApproval || run.Environment != models.EnvProduction {
		t.Fatalf("expected run parked for production approval, got %s/%s", run.State, run.Environment)
	}

	run, err = prom.Approve(ctx, run.ID, "release-lead")
	if err != nil {
		t.Fatalf("approve run: %v", err)
	}
	if run.State != models.RunDone {
		t.Fatalf("expected run done after approval, got %s (%s)", run.State, run.FailureReason)
	}

	prod, err := memStore.GetEnvironment(ctx, models.EnvProduction)
	if err != nil {
		t.Fatalf("get production: %v", err)
	}
	if prod.AliasVersion != 1 {
		t.Fatalf("production alias at %d, expected 1", prod.AliasVersion)
	}

	// Second release so there is something to roll back from.
	run, err = prom.Start(ctx, promoter.StartInput{
		Fingerprint: "agent:d4e5f6",
		Digest:      "sha256:c0ffee",
		Results:     models.EvaluationResult{"tool_selection": 0.97, "refusal_accuracy": 1.0},
	})
	if err != nil {
		t.Fatalf("start second run: %v", err)
	}
	if run, err = prom.Approve(ctx, run.ID, "release-lead"); err != nil || run.State != models.RunDone {
		t.Fatalf("second release did not complete: %v (%s)", err, run.State)
	}

	controller := rollback.New(memStore, rt, recorder)
	if err := controller.Rollback(ctx, rollback.Request{
		Environment:   models.EnvProduction,
		AgentID:       "agent-production",
		AliasID:       "alias-production",
		TargetVersion: 1,
		Actor:         "ops-oncall",
	}); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	// Two repoints per release, plus the rollback.
	if rt.updates != 5 {
		t.Fatalf("expected 5 alias updates, got %d", rt.updates)
	}
	if rt.lastVersion != 1 {
		t.Fatalf("live alias routes to version %d, expected 1 after rollback", rt.lastVersion)
	}

	prod, err = memStore.GetEnvironment(ctx, models.EnvProduction)
	if err != nil {
		t.Fatalf("get production: %v", err)
	}
	if prod.AliasVersion != 1 || prod.CurrentVersion != 2 {
		t.Fatalf("unexpected production state: alias %d, current %d", prod.AliasVersion, prod.CurrentVersion)
	}

	events, err := fileStore.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	// Two promotions per release, one rollback.
	if len(events) != 5 {
		t.Fatalf("expected 5 audit events, got %d", len(events))
	}
	if err := audit.VerifyChain(events); err != nil {
		t.Fatalf("audit chain broken: %v", err)
	}
	last := events[len(events)-1]
	if last.EventType != audit.EventRollback || last.Actor != "ops-oncall" {
		t.Fatalf("last audit event is %s by %s", last.EventType, last.Actor)
	}
}

// A failing staging smoke check must stop the release before production
// sees anything.
func TestSmokeFailureStopsRelease(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	for _, env := range []models.EnvironmentName{models.EnvStaging, models.EnvProduction} {
		if _, err := memStore.EnsureEnvironment(ctx, env, "alias-"+string(env)); err != nil {
			t.Fatalf("ensure environment: %v", err)
		}
	}

	// The runtime answers without a day count, violating the probe contract.
	rt := &liveRuntime{response: "I cannot help with dates."}
	recorder := audit.NewRecorder(audit.NewFileStore(t.TempDir(), signing.NoopSigner{}), nil, nil)
	verifiers := func(name models.EnvironmentName) promoter.SmokeVerifier {
		v := verifier.New(rt, "agent-"+string(name))
		v.RetryDelay = 0
		return v
	}
	prom := promoter.New(memStore, gate.NewScanGate(registry.NewMemoryRegistry()), verifiers, recorder, promoter.Config{
		Baseline: agent.Declared(),
		Aliases:  rt,
		AgentIDs: func(name models.EnvironmentName) string { return "agent-" + string(name) },
	})

	run, err := prom.Start(ctx, promoter.StartInput{
		Fingerprint: "agent:a1b2c3",
		Digest:      "sha256:0ff1ce",
		Results:     models.EvaluationResult{},
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if run.State != models.RunFailed {
		t.Fatalf("expected failed run, got %s", run.State)
	}
	if run.FailureReason == "" {
		t.Fatal("failure reason missing")
	}

	prod, err := memStore.GetEnvironment(ctx, models.EnvProduction)
	if err != nil {
		t.Fatalf("get production: %v", err)
	}
	if prod.CurrentVersion != 0 {
		t.Fatalf("production touched: version %d", prod.CurrentVersion)
	}
}
