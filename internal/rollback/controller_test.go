package rollback_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/agenticops/agentcd/internal/audit"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/rollback"
	"github.com/agenticops/agentcd/internal/signing"
	"github.com/agenticops/agentcd/internal/store"
)

type recordedUpdate struct {
	agentID string
	aliasID string
	version int
}

type fakeAliasUpdater struct {
	updates []recordedUpdate
	err     error
}

func (f *fakeAliasUpdater) UpdateAlias(ctx context.Context, agentID, aliasID string, targetVersion int) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, recordedUpdate{agentID, aliasID, targetVersion})
	return nil
}

func setupProduction(t *testing.T, promotions int) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	if _, err := st.EnsureEnvironment(ctx, models.EnvProduction, "alias-prod"); err != nil {
		t.Fatalf("ensure environment: %v", err)
	}
	for i := 0; i < promotions; i++ {
		if _, err := st.RecordPromotion(ctx, models.EnvProduction, "agent:v"); err != nil {
			t.Fatalf("record promotion: %v", err)
		}
	}
	return st
}

func newRecorder(t *testing.T) *audit.Recorder {
	t.Helper()
	return audit.NewRecorder(audit.NewFileStore(t.TempDir(), signing.NoopSigner{}), nil, nil)
}

func TestRollbackToEarlierVersion(t *testing.T) {
	ctx := context.Background()
	st := setupProduction(t, 5)
	updater := &fakeAliasUpdater{}
	fileStore := audit.NewFileStore(t.TempDir(), signing.NoopSigner{})
	controller := rollback.New(st, updater, audit.NewRecorder(fileStore, nil, nil))

	err := controller.Rollback(ctx, rollback.Request{
		Environment:   models.EnvProduction,
		AgentID:       "agent-1",
		AliasID:       "alias-prod",
		TargetVersion: 3,
		Actor:         "ops-oncall",
	})
	assert.NoError(t, err)
	assert.Equal(t, []recordedUpdate{{"agent-1", "alias-prod", 3}}, updater.updates)

	env, err := st.GetEnvironment(ctx, models.EnvProduction)
	assert.NoError(t, err)
	assert.Equal(t, 3, env.AliasVersion)
	assert.Equal(t, 5, env.CurrentVersion, "rollback must not touch the version counter")
	assert.Nil(t, env.LockedBy, "lock released after rollback")

	events, err := fileStore.ListEvents(ctx)
	assert.NoError(t, err)
	if assert.Len(t, events, 1) {
		assert.Equal(t, audit.EventRollback, events[0].EventType)
		assert.Equal(t, "ops-oncall", events[0].Actor)
		assert.Equal(t, 5, events[0].FromVersion)
		assert.Equal(t, 3, events[0].ToVersion)
	}
}

func TestRollbackRejectsCurrentOrLaterVersion(t *testing.T) {
	ctx := context.Background()
	st := setupProduction(t, 3)
	updater := &fakeAliasUpdater{}
	controller := rollback.New(st, updater, newRecorder(t))

	for _, target := range []int{3, 4} {
		err := controller.Rollback(ctx, rollback.Request{
			Environment:   models.EnvProduction,
			AgentID:       "agent-1",
			AliasID:       "alias-prod",
			TargetVersion: target,
		})
		assert.True(t, errors.Is(err, pipeline.ErrUnknownVersion), "target %d", target)
	}
	assert.Empty(t, updater.updates)
}

func TestRollbackRejectsNeverPromotedVersion(t *testing.T) {
	ctx := context.Background()
	st := setupProduction(t, 0)
	// Alias manually pushed forward without a promotion record.
	if err := st.SetAlias(ctx, models.EnvProduction, 9); err != nil {
		t.Fatalf("set alias: %v", err)
	}
	controller := rollback.New(st, &fakeAliasUpdater{}, newRecorder(t))

	err := controller.Rollback(ctx, rollback.Request{
		Environment:   models.EnvProduction,
		AgentID:       "agent-1",
		AliasID:       "alias-prod",
		TargetVersion: 2,
	})
	assert.True(t, errors.Is(err, pipeline.ErrUnknownVersion))
}

func TestRollbackRejectedWhileEnvironmentLocked(t *testing.T) {
	ctx := context.Background()
	st := setupProduction(t, 3)
	if err := st.TryLockEnvironment(ctx, models.EnvProduction, uuid.New()); err != nil {
		t.Fatalf("lock environment: %v", err)
	}
	updater := &fakeAliasUpdater{}
	controller := rollback.New(st, updater, newRecorder(t))

	err := controller.Rollback(ctx, rollback.Request{
		Environment:   models.EnvProduction,
		AgentID:       "agent-1",
		AliasID:       "alias-prod",
		TargetVersion: 2,
	})
	assert.True(t, errors.Is(err, pipeline.ErrEnvironmentBusy))
	assert.Empty(t, updater.updates)
}

func TestRollbackAliasUpdateFailureLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	st := setupProduction(t, 3)
	controller := rollback.New(st, &fakeAliasUpdater{err: errors.New("runtime 500")}, newRecorder(t))

	err := controller.Rollback(ctx, rollback.Request{
		Environment:   models.EnvProduction,
		AgentID:       "agent-1",
		AliasID:       "alias-prod",
		TargetVersion: 2,
	})
	assert.Error(t, err)

	env, err := st.GetEnvironment(ctx, models.EnvProduction)
	assert.NoError(t, err)
	assert.Equal(t, 3, env.AliasVersion)
}
