// Package promoter drives the promotion state machine: gate validation,
// ordered environment promotion, post-deploy verification, and the manual
// approval barrier before production.
package promoter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agenticops/agentcd/internal/agent"
	"github.com/agenticops/agentcd/internal/audit"
	"github.com/agenticops/agentcd/internal/gate"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/runtime"
	"github.com/agenticops/agentcd/internal/store"
)

// SmokeVerifier is the post-deploy check the promoter invokes after every
// alias mutation.
type SmokeVerifier interface {
	Verify(ctx context.Context, expected agent.Capabilities) error
}

// VerifierFactory yields the verifier for one environment; each environment
// probes its own runtime identifier.
type VerifierFactory func(name models.EnvironmentName) SmokeVerifier

type Promoter struct {
	store     store.Store
	scanGate  *gate.ScanGate
	rules     []gate.ThresholdRule
	verifiers VerifierFactory
	recorder  *audit.Recorder
	baseline  agent.Capabilities
	aliases   runtime.AliasUpdater
	agentIDs  func(models.EnvironmentName) string

	// approvalTimeout bounds how long a parked run may wait for approval
	// after the staging smoke success. Zero means unbounded; the
	// surrounding orchestration substrate owns the run lifetime then.
	approvalTimeout time.Duration
}

type Config struct {
	Rules           []gate.ThresholdRule
	Baseline        agent.Capabilities
	ApprovalTimeout time.Duration

	// Aliases repoints the live runtime alias after each version
	// assignment, mirroring what the rollback path does in reverse.
	Aliases runtime.AliasUpdater
	// AgentIDs resolves the runtime identifier for an environment. An
	// empty identifier means no live runtime is configured there and
	// the repoint is skipped.
	AgentIDs func(models.EnvironmentName) string
}

func New(st store.Store, scanGate *gate.ScanGate, verifiers VerifierFactory, recorder *audit.Recorder, cfg Config) *Promoter {
	agentIDs := cfg.AgentIDs
	if agentIDs == nil {
		agentIDs = func(models.EnvironmentName) string { return "" }
	}
	return &Promoter{
		store:           st,
		scanGate:        scanGate,
		rules:           cfg.Rules,
		verifiers:       verifiers,
		recorder:        recorder,
		baseline:        cfg.Baseline,
		aliases:         cfg.Aliases,
		agentIDs:        agentIDs,
		approvalTimeout: cfg.ApprovalTimeout,
	}
}

type StartInput struct {
	Fingerprint string
	Digest      string
	Results     models.EvaluationResult
	Scan        models.ScanReport
}

// Start creates a run and drives it as far as the gates and the approval
// barrier allow. A returned run in AwaitingApproval is parked, not failed;
// any gate failure lands it in Failed with the reason persisted.
func (p *Promoter) Start(ctx context.Context, in StartInput) (models.PipelineRun, error) {
	if in.Fingerprint == "" {
		return models.PipelineRun{}, fmt.Errorf("promoter: artifact fingerprint required")
	}
	run, err := p.store.CreateRun(ctx, store.RunInput{Fingerprint: in.Fingerprint, State: models.RunPending})
	if err != nil {
		return models.PipelineRun{}, err
	}

	run, err = p.setState(ctx, run, models.RunValidating, "")
	if err != nil {
		return run, err
	}
	if err := gate.CheckAll(in.Results, p.rules); err != nil {
		return p.fail(ctx, run, err)
	}
	if _, err := p.scanGate.VetAndPublish(ctx, in.Fingerprint, in.Digest, in.Scan); err != nil {
		return p.fail(ctx, run, err)
	}

	return p.advance(ctx, run)
}

// Resume continues a run parked at AwaitingApproval, typically after an
// approval arrived or after a process restart. Runs interrupted mid-gate
// cannot be resumed: their gate inputs were never persisted.
func (p *Promoter) Resume(ctx context.Context, runID uuid.UUID) (models.PipelineRun, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return models.PipelineRun{}, err
	}
	if run.State.Terminal() {
		return run, nil
	}
	if run.State != models.RunAwaitingApproval {
		return run, fmt.Errorf("promoter: run %s in state %s cannot be resumed, start a new pipeline run", run.ID, run.State)
	}
	return p.advance(ctx, run)
}

// Approve records the human release of the approval barrier and resumes
// the run.
func (p *Promoter) Approve(ctx context.Context, runID uuid.UUID, approver string) (models.PipelineRun, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return models.PipelineRun{}, err
	}
	if run.State != models.RunAwaitingApproval {
		return run, fmt.Errorf("promoter: run %s is in state %s, not awaiting approval", run.ID, run.State)
	}
	// An approval arriving after the window closed is as expired as no
	// approval at all.
	if p.approvalTimeout > 0 && run.StagingVerified != nil && time.Since(*run.StagingVerified) > p.approvalTimeout {
		return p.fail(ctx, run,
			fmt.Errorf("approval for %s not supplied within %s of staging verification", run.Environment, p.approvalTimeout))
	}
	if _, err := p.store.CreateApproval(ctx, store.ApprovalInput{
		RunID:       run.ID,
		Environment: run.Environment,
		Approver:    approver,
		ApprovedAt:  time.Now().UTC(),
	}); err != nil {
		return run, err
	}
	log.Printf("[promoter] run %s: %s promotion approved by %s", run.ID, run.Environment, approver)
	return p.advance(ctx, run)
}

// advance walks the run through the remaining environments in rank order.
// Fail fast, no partial fan-out: the first failure stops the walk before
// any later environment is touched.
func (p *Promoter) advance(ctx context.Context, run models.PipelineRun) (models.PipelineRun, error) {
	envs, err := p.store.ListEnvironments(ctx)
	if err != nil {
		return run, err
	}
	if len(envs) == 0 {
		return run, fmt.Errorf("promoter: no environments configured")
	}

	start := 0
	if run.Environment != "" {
		for i, env := range envs {
			if env.Name == run.Environment {
				start = i
			}
		}
	}

	for i := start; i < len(envs); i++ {
		env := envs[i]

		if env.Rank > models.EnvStaging.Rank() {
			stop, err := p.checkApproval(ctx, &run, env.Name)
			if err != nil {
				return run, err
			}
			if stop {
				return run, nil
			}
		}

		run, err = p.promoteAndVerify(ctx, run, env.Name)
		if err != nil {
			return run, err
		}
		if run.State.Terminal() {
			return run, nil
		}
	}

	return p.setState(ctx, run, models.RunDone, "")
}

// checkApproval enforces the approval barrier for one environment. stop is
// true when the walk must not proceed: the run was parked awaiting
// approval, or failed because the approval window expired.
func (p *Promoter) checkApproval(ctx context.Context, run *models.PipelineRun, name models.EnvironmentName) (stop bool, err error) {
	if run.StagingVerified == nil {
		return true, fmt.Errorf("promoter: run %s reached %s without a staging verification timestamp", run.ID, name)
	}
	approval, err := p.store.LatestApproval(ctx, run.ID, name)
	if err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		return true, err
	}
	// An approval only counts when dated after the staging smoke success.
	if err == nil && approval.ApprovedAt.After(*run.StagingVerified) {
		return false, nil
	}

	// No usable approval. Park indefinitely unless the configured
	// approval window has expired.
	if p.approvalTimeout > 0 && time.Since(*run.StagingVerified) > p.approvalTimeout {
		failed, ferr := p.fail(ctx, *run,
			fmt.Errorf("approval for %s not supplied within %s of staging verification", name, p.approvalTimeout))
		*run = failed
		return true, ferr
	}
	updated, uerr := p.park(ctx, *run, name)
	if uerr != nil {
		return true, uerr
	}
	*run = updated
	return true, nil
}

// promoteAndVerify performs one environment's promotion under its lock:
// assign the next version, repoint the alias, then smoke-verify. The lock
// is held across both so an incident rollback cannot interleave.
func (p *Promoter) promoteAndVerify(ctx context.Context, run models.PipelineRun, name models.EnvironmentName) (models.PipelineRun, error) {
	if err := p.store.TryLockEnvironment(ctx, name, run.ID); err != nil {
		return p.fail(ctx, run, err)
	}
	unlock := func() {
		if err := p.store.UnlockEnvironment(ctx, name, run.ID); err != nil {
			log.Printf("[promoter] WARNING: unlock %s: %v", name, err)
		}
	}

	run, err := p.setStateEnv(ctx, run, models.RunPromoting, name)
	if err != nil {
		unlock()
		return run, err
	}

	before, err := p.store.GetEnvironment(ctx, name)
	if err != nil {
		unlock()
		return p.fail(ctx, run, err)
	}
	promoted, err := p.store.RecordPromotion(ctx, name, run.Fingerprint)
	if err != nil {
		unlock()
		return p.fail(ctx, run, err)
	}
	log.Printf("[promoter] run %s: %s promoted to version %d (artifact %s)", run.ID, name, promoted.Version, run.Fingerprint)

	if agentID := p.agentIDs(name); p.aliases != nil && agentID != "" {
		if err := p.aliases.UpdateAlias(ctx, agentID, before.AliasID, promoted.Version); err != nil {
			unlock()
			return p.fail(ctx, run, fmt.Errorf("%s: repoint alias %s: %w", name, before.AliasID, err))
		}
	} else {
		log.Printf("[promoter] WARNING: no live runtime configured for %s, alias repoint skipped", name)
	}

	if err := p.recorder.Record(ctx, &audit.AuditEvent{
		EventType:   audit.EventPromotion,
		Actor:       "pipeline",
		Environment: string(name),
		FromVersion: before.AliasVersion,
		ToVersion:   promoted.Version,
		Fingerprint: run.Fingerprint,
	}); err != nil {
		log.Printf("[promoter] WARNING: audit promotion of %s: %v", name, err)
	}

	run, err = p.setStateEnv(ctx, run, models.RunVerifying, name)
	if err != nil {
		unlock()
		return run, err
	}
	verifyErr := p.verifiers(name).Verify(ctx, p.baseline)
	unlock()
	if verifyErr != nil {
		return p.fail(ctx, run, fmt.Errorf("%s: %w", name, verifyErr))
	}

	if name == models.EnvStaging {
		now := time.Now().UTC()
		run.StagingVerified = &now
		run, err = p.update(ctx, run)
		if err != nil {
			return run, err
		}
	}
	return run, nil
}

func (p *Promoter) setState(ctx context.Context, run models.PipelineRun, state models.RunState, reason string) (models.PipelineRun, error) {
	run.State = state
	run.FailureReason = reason
	return p.update(ctx, run)
}

func (p *Promoter) setStateEnv(ctx context.Context, run models.PipelineRun, state models.RunState, name models.EnvironmentName) (models.PipelineRun, error) {
	run.State = state
	run.Environment = name
	return p.update(ctx, run)
}

func (p *Promoter) park(ctx context.Context, run models.PipelineRun, name models.EnvironmentName) (models.PipelineRun, error) {
	run.State = models.RunAwaitingApproval
	run.Environment = name
	run, err := p.update(ctx, run)
	if err != nil {
		return run, err
	}
	log.Printf("[promoter] run %s parked awaiting approval for %s", run.ID, name)
	return run, nil
}

// fail transitions to the terminal Failed state. The gate error itself is
// not returned: the run object carries the reason and the caller decides
// how to surface it.
func (p *Promoter) fail(ctx context.Context, run models.PipelineRun, cause error) (models.PipelineRun, error) {
	log.Printf("[promoter] run %s failed: %v", run.ID, cause)
	run.State = models.RunFailed
	run.FailureReason = cause.Error()
	return p.update(ctx, run)
}

func (p *Promoter) update(ctx context.Context, run models.PipelineRun) (models.PipelineRun, error) {
	return p.store.UpdateRun(ctx, store.RunUpdate{
		ID:              run.ID,
		State:           run.State,
		Environment:     run.Environment,
		FailureReason:   run.FailureReason,
		StagingVerified: run.StagingVerified,
	})
}
