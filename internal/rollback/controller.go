// Package rollback repoints a live alias to a previously promoted version
// on operator command.
package rollback

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/agenticops/agentcd/internal/audit"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/runtime"
	"github.com/agenticops/agentcd/internal/store"
)

type Controller struct {
	store    store.Store
	aliases  runtime.AliasUpdater
	recorder *audit.Recorder
}

func New(st store.Store, aliases runtime.AliasUpdater, recorder *audit.Recorder) *Controller {
	return &Controller{store: st, aliases: aliases, recorder: recorder}
}

type Request struct {
	Environment   models.EnvironmentName
	AgentID       string
	AliasID       string
	TargetVersion int
	Actor         string
}

// Rollback validates the target, repoints the alias (one attempt, fail
// loud), and appends the audit entry. The per-environment lock is taken for
// the duration; a lock held by an in-flight promotion yields
// ErrEnvironmentBusy rather than queueing, because rollback is
// time-critical and the operator must know immediately.
func (c *Controller) Rollback(ctx context.Context, req Request) error {
	if req.Environment == "" || req.AgentID == "" || req.AliasID == "" {
		return fmt.Errorf("rollback: environment, agent id, and alias id required")
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	owner := uuid.New()
	if err := c.store.TryLockEnvironment(ctx, req.Environment, owner); err != nil {
		return fmt.Errorf("rollback %s: %w", req.Environment, err)
	}
	defer func() {
		if err := c.store.UnlockEnvironment(ctx, req.Environment, owner); err != nil {
			log.Printf("[rollback] WARNING: unlock %s: %v", req.Environment, err)
		}
	}()

	env, err := c.store.GetEnvironment(ctx, req.Environment)
	if err != nil {
		return fmt.Errorf("rollback %s: %w", req.Environment, err)
	}

	if req.TargetVersion >= env.AliasVersion {
		return fmt.Errorf("rollback %s: target version %d is not strictly earlier than current version %d: %w",
			req.Environment, req.TargetVersion, env.AliasVersion, pipeline.ErrUnknownVersion)
	}
	promoted, err := c.store.IsPromotedVersion(ctx, req.Environment, req.TargetVersion)
	if err != nil {
		return fmt.Errorf("rollback %s: %w", req.Environment, err)
	}
	if !promoted {
		return fmt.Errorf("rollback %s: version %d was never promoted to this environment: %w",
			req.Environment, req.TargetVersion, pipeline.ErrUnknownVersion)
	}

	if err := c.aliases.UpdateAlias(ctx, req.AgentID, req.AliasID, req.TargetVersion); err != nil {
		return fmt.Errorf("rollback %s: %w", req.Environment, err)
	}
	if err := c.store.SetAlias(ctx, req.Environment, req.TargetVersion); err != nil {
		return fmt.Errorf("rollback %s: record alias: %w", req.Environment, err)
	}

	// The mutation already happened; the audit append must not be lost.
	if err := c.recorder.Record(ctx, &audit.AuditEvent{
		EventType:   audit.EventRollback,
		Actor:       req.Actor,
		Environment: string(req.Environment),
		FromVersion: env.AliasVersion,
		ToVersion:   req.TargetVersion,
	}); err != nil {
		return fmt.Errorf("rollback %s: append audit entry: %w", req.Environment, err)
	}

	log.Printf("[rollback] alias %s on %s now routes 100%% of traffic to version %d (was %d)",
		req.AliasID, req.Environment, req.TargetVersion, env.AliasVersion)
	return nil
}
