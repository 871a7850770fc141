package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
)

type promotedKey struct {
	env     models.EnvironmentName
	version int
}

type MemoryStore struct {
	mu           sync.RWMutex
	runs         map[uuid.UUID]models.PipelineRun
	environments map[models.EnvironmentName]models.Environment
	promoted     map[promotedKey]models.PromotedVersion
	approvals    map[uuid.UUID][]models.ApprovalRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:         map[uuid.UUID]models.PipelineRun{},
		environments: map[models.EnvironmentName]models.Environment{},
		promoted:     map[promotedKey]models.PromotedVersion{},
		approvals:    map[uuid.UUID][]models.ApprovalRecord{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, in RunInput) (models.PipelineRun, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.State == "" {
		in.State = models.RunPending
	}
	now := time.Now().UTC()
	run := models.PipelineRun{
		ID:          in.ID,
		Fingerprint: in.Fingerprint,
		State:       in.State,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return run, nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return models.PipelineRun{}, pipeline.ErrNotFound
	}
	return run, nil
}

func (m *MemoryStore) UpdateRun(ctx context.Context, in RunUpdate) (models.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[in.ID]
	if !ok {
		return models.PipelineRun{}, pipeline.ErrNotFound
	}
	run.State = in.State
	run.Environment = in.Environment
	run.FailureReason = in.FailureReason
	if in.StagingVerified != nil {
		run.StagingVerified = in.StagingVerified
	}
	run.UpdatedAt = time.Now().UTC()
	m.runs[in.ID] = run
	return run, nil
}

func (m *MemoryStore) ListRunsByState(ctx context.Context, state models.RunState) ([]models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []models.PipelineRun
	for _, run := range m.runs {
		if run.State == state {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (m *MemoryStore) EnsureEnvironment(ctx context.Context, name models.EnvironmentName, aliasID string) (models.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.environments[name]
	if !ok {
		env = models.Environment{
			Name: name,
			Rank: name.Rank(),
		}
	}
	env.AliasID = aliasID
	env.UpdatedAt = time.Now().UTC()
	m.environments[name] = env
	return env, nil
}

func (m *MemoryStore) GetEnvironment(ctx context.Context, name models.EnvironmentName) (models.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.environments[name]
	if !ok {
		return models.Environment{}, pipeline.ErrNotFound
	}
	return env, nil
}

func (m *MemoryStore) ListEnvironments(ctx context.Context) ([]models.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	envs := make([]models.Environment, 0, len(m.environments))
	for _, env := range m.environments {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Rank < envs[j].Rank })
	return envs, nil
}

func (m *MemoryStore) TryLockEnvironment(ctx context.Context, name models.EnvironmentName, owner uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.environments[name]
	if !ok {
		return pipeline.ErrNotFound
	}
	if env.LockedBy != nil && *env.LockedBy != owner {
		return fmt.Errorf("environment %s has an in-flight promotion or rollback: %w", name, pipeline.ErrEnvironmentBusy)
	}
	id := owner
	env.LockedBy = &id
	env.UpdatedAt = time.Now().UTC()
	m.environments[name] = env
	return nil
}

func (m *MemoryStore) UnlockEnvironment(ctx context.Context, name models.EnvironmentName, owner uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.environments[name]
	if !ok {
		return pipeline.ErrNotFound
	}
	if env.LockedBy != nil && *env.LockedBy == owner {
		env.LockedBy = nil
		env.UpdatedAt = time.Now().UTC()
		m.environments[name] = env
	}
	return nil
}

func (m *MemoryStore) RecordPromotion(ctx context.Context, name models.EnvironmentName, fingerprint string) (models.PromotedVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.environments[name]
	if !ok {
		return models.PromotedVersion{}, pipeline.ErrNotFound
	}
	env.CurrentVersion++
	env.AliasVersion = env.CurrentVersion
	env.UpdatedAt = time.Now().UTC()
	m.environments[name] = env

	promoted := models.PromotedVersion{
		Environment: name,
		Version:     env.CurrentVersion,
		Fingerprint: fingerprint,
		PromotedAt:  time.Now().UTC(),
	}
	m.promoted[promotedKey{name, promoted.Version}] = promoted
	return promoted, nil
}

func (m *MemoryStore) SetAlias(ctx context.Context, name models.EnvironmentName, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.environments[name]
	if !ok {
		return pipeline.ErrNotFound
	}
	env.AliasVersion = version
	env.UpdatedAt = time.Now().UTC()
	m.environments[name] = env
	return nil
}

func (m *MemoryStore) IsPromotedVersion(ctx context.Context, name models.EnvironmentName, version int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.promoted[promotedKey{name, version}]
	return ok, nil
}

func (m *MemoryStore) CreateApproval(ctx context.Context, in ApprovalInput) (models.ApprovalRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.ApprovedAt.IsZero() {
		in.ApprovedAt = time.Now().UTC()
	}
	record := models.ApprovalRecord{
		ID:          in.ID,
		RunID:       in.RunID,
		Environment: in.Environment,
		Approver:    in.Approver,
		ApprovedAt:  in.ApprovedAt,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[in.RunID] = append(m.approvals[in.RunID], record)
	return record, nil
}

func (m *MemoryStore) LatestApproval(ctx context.Context, runID uuid.UUID, name models.EnvironmentName) (models.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.ApprovalRecord
	for i := range m.approvals[runID] {
		record := m.approvals[runID][i]
		if record.Environment != name {
			continue
		}
		if latest == nil || record.ApprovedAt.After(latest.ApprovedAt) {
			latest = &record
		}
	}
	if latest == nil {
		return models.ApprovalRecord{}, pipeline.ErrNotFound
	}
	return *latest, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
