package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
)

// Store persists pipeline runs, per-environment alias/version state, the
// promoted-version history, and approval records. Alias and version fields
// are only written while the caller holds the environment lock.
type Store interface {
	CreateRun(ctx context.Context, in RunInput) (models.PipelineRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (models.PipelineRun, error)
	UpdateRun(ctx context.Context, in RunUpdate) (models.PipelineRun, error)
	ListRunsByState(ctx context.Context, state models.RunState) ([]models.PipelineRun, error)

	EnsureEnvironment(ctx context.Context, name models.EnvironmentName, aliasID string) (models.Environment, error)
	GetEnvironment(ctx context.Context, name models.EnvironmentName) (models.Environment, error)
	ListEnvironments(ctx context.Context) ([]models.Environment, error)

	// TryLockEnvironment claims the per-environment mutual exclusion
	// lock for owner. A held lock yields ErrEnvironmentBusy, never a
	// queue: rollback is time-critical and must not park behind a
	// promotion.
	TryLockEnvironment(ctx context.Context, name models.EnvironmentName, owner uuid.UUID) error
	UnlockEnvironment(ctx context.Context, name models.EnvironmentName, owner uuid.UUID) error

	// RecordPromotion assigns the next version number in the
	// environment, appends it to the promoted-version history, and
	// repoints the alias at it. Caller must hold the environment lock.
	RecordPromotion(ctx context.Context, name models.EnvironmentName, fingerprint string) (models.PromotedVersion, error)

	// SetAlias repoints the alias. Target validation is the rollback
	// controller's job; the store only refuses versions it has never
	// recorded.
	SetAlias(ctx context.Context, name models.EnvironmentName, version int) error
	IsPromotedVersion(ctx context.Context, name models.EnvironmentName, version int) (bool, error)

	CreateApproval(ctx context.Context, in ApprovalInput) (models.ApprovalRecord, error)
	LatestApproval(ctx context.Context, runID uuid.UUID, name models.EnvironmentName) (models.ApprovalRecord, error)

	Ping(ctx context.Context) error
}

type RunInput struct {
	ID          uuid.UUID
	Fingerprint string
	State       models.RunState
}

type RunUpdate struct {
	ID              uuid.UUID
	State           models.RunState
	Environment     models.EnvironmentName
	FailureReason   string
	StagingVerified *time.Time
}

type ApprovalInput struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	Environment models.EnvironmentName
	Approver    string
	ApprovedAt  time.Time
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the pipeline tables if they do not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
  id uuid PRIMARY KEY,
  fingerprint text NOT NULL,
  state text NOT NULL,
  environment text,
  failure_reason text,
  staging_verified timestamptz,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_state ON pipeline_runs (state);
CREATE TABLE IF NOT EXISTS environments (
  name text PRIMARY KEY,
  rank int NOT NULL,
  current_version int NOT NULL DEFAULT 0,
  alias_version int NOT NULL DEFAULT 0,
  alias_id text NOT NULL DEFAULT '',
  locked_by uuid,
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS promoted_versions (
  environment text NOT NULL REFERENCES environments(name),
  version int NOT NULL,
  fingerprint text NOT NULL,
  promoted_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (environment, version)
);
CREATE TABLE IF NOT EXISTS approvals (
  id uuid PRIMARY KEY,
  run_id uuid NOT NULL REFERENCES pipeline_runs(id),
  environment text NOT NULL,
  approver text NOT NULL,
  approved_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_approvals_run_env ON approvals (run_id, environment, approved_at DESC);
`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure pipeline schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (models.PipelineRun, error) {
	var (
		run         models.PipelineRun
		environment sql.NullString
		reason      sql.NullString
		verified    sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.Fingerprint,
		&run.State,
		&environment,
		&reason,
		&verified,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return models.PipelineRun{}, err
	}
	if environment.Valid {
		run.Environment = models.EnvironmentName(environment.String)
	}
	if reason.Valid {
		run.FailureReason = reason.String
	}
	if verified.Valid {
		t := verified.Time
		run.StagingVerified = &t
	}
	return run, nil
}

func scanEnvironment(row rowScanner) (models.Environment, error) {
	var (
		env      models.Environment
		lockedBy sql.NullString
	)
	if err := row.Scan(
		&env.Name,
		&env.Rank,
		&env.CurrentVersion,
		&env.AliasVersion,
		&env.AliasID,
		&lockedBy,
		&env.UpdatedAt,
	); err != nil {
		return models.Environment{}, err
	}
	if lockedBy.Valid {
		if id, err := uuid.Parse(lockedBy.String); err == nil {
			env.LockedBy = &id
		}
	}
	return env, nil
}

const runColumns = "id, fingerprint, state, environment, failure_reason, staging_verified, created_at, updated_at"
const envColumns = "name, rank, current_version, alias_version, alias_id, locked_by, updated_at"

func (s *PGStore) CreateRun(ctx context.Context, in RunInput) (models.PipelineRun, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.State == "" {
		in.State = models.RunPending
	}
	query := `
		INSERT INTO pipeline_runs (id, fingerprint, state)
		VALUES ($1,$2,$3)
		RETURNING ` + runColumns
	run, err := scanRun(s.db.QueryRowContext(ctx, query, in.ID, in.Fingerprint, in.State))
	if err != nil {
		return models.PipelineRun{}, fmt.Errorf("insert pipeline run: %w", err)
	}
	return run, nil
}

func (s *PGStore) GetRun(ctx context.Context, id uuid.UUID) (models.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id=$1`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PipelineRun{}, pipeline.ErrNotFound
		}
		return models.PipelineRun{}, fmt.Errorf("get pipeline run: %w", err)
	}
	return run, nil
}

func (s *PGStore) UpdateRun(ctx context.Context, in RunUpdate) (models.PipelineRun, error) {
	query := `
		UPDATE pipeline_runs
		SET state=$2,
		    environment=NULLIF($3,''),
		    failure_reason=NULLIF($4,''),
		    staging_verified=COALESCE($5, staging_verified),
		    updated_at=NOW()
		WHERE id=$1
		RETURNING ` + runColumns
	run, err := scanRun(s.db.QueryRowContext(ctx, query, in.ID, in.State, string(in.Environment), in.FailureReason, in.StagingVerified))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PipelineRun{}, pipeline.ErrNotFound
		}
		return models.PipelineRun{}, fmt.Errorf("update pipeline run: %w", err)
	}
	return run, nil
}

func (s *PGStore) ListRunsByState(ctx context.Context, state models.RunState) ([]models.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE state=$1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline runs: %w", err)
	}
	return runs, nil
}

func (s *PGStore) EnsureEnvironment(ctx context.Context, name models.EnvironmentName, aliasID string) (models.Environment, error) {
	query := `
		INSERT INTO environments (name, rank, alias_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (name) DO UPDATE SET alias_id=EXCLUDED.alias_id, updated_at=NOW()
		RETURNING ` + envColumns
	env, err := scanEnvironment(s.db.QueryRowContext(ctx, query, name, name.Rank(), aliasID))
	if err != nil {
		return models.Environment{}, fmt.Errorf("ensure environment: %w", err)
	}
	return env, nil
}

func (s *PGStore) GetEnvironment(ctx context.Context, name models.EnvironmentName) (models.Environment, error) {
	query := `SELECT ` + envColumns + ` FROM environments WHERE name=$1`
	env, err := scanEnvironment(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Environment{}, pipeline.ErrNotFound
		}
		return models.Environment{}, fmt.Errorf("get environment: %w", err)
	}
	return env, nil
}

func (s *PGStore) ListEnvironments(ctx context.Context) ([]models.Environment, error) {
	query := `SELECT ` + envColumns + ` FROM environments ORDER BY rank`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	var envs []models.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environments: %w", err)
	}
	return envs, nil
}

func (s *PGStore) TryLockEnvironment(ctx context.Context, name models.EnvironmentName, owner uuid.UUID) error {
	query := `
		UPDATE environments
		SET locked_by=$2, updated_at=NOW()
		WHERE name=$1 AND (locked_by IS NULL OR locked_by=$2)
	`
	res, err := s.db.ExecContext(ctx, query, name, owner)
	if err != nil {
		return fmt.Errorf("lock environment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock environment rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("environment %s has an in-flight promotion or rollback: %w", name, pipeline.ErrEnvironmentBusy)
	}
	return nil
}

func (s *PGStore) UnlockEnvironment(ctx context.Context, name models.EnvironmentName, owner uuid.UUID) error {
	query := `UPDATE environments SET locked_by=NULL, updated_at=NOW() WHERE name=$1 AND locked_by=$2`
	if _, err := s.db.ExecContext(ctx, query, name, owner); err != nil {
		return fmt.Errorf("unlock environment: %w", err)
	}
	return nil
}

func (s *PGStore) RecordPromotion(ctx context.Context, name models.EnvironmentName, fingerprint string) (models.PromotedVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PromotedVersion{}, fmt.Errorf("begin promotion tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	bump := `
		UPDATE environments
		SET current_version=current_version+1, alias_version=current_version+1, updated_at=NOW()
		WHERE name=$1
		RETURNING current_version
	`
	if err := tx.QueryRowContext(ctx, bump, name).Scan(&next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromotedVersion{}, pipeline.ErrNotFound
		}
		return models.PromotedVersion{}, fmt.Errorf("bump environment version: %w", err)
	}

	var promoted models.PromotedVersion
	insert := `
		INSERT INTO promoted_versions (environment, version, fingerprint)
		VALUES ($1,$2,$3)
		RETURNING environment, version, fingerprint, promoted_at
	`
	if err := tx.QueryRowContext(ctx, insert, name, next, fingerprint).Scan(
		&promoted.Environment, &promoted.Version, &promoted.Fingerprint, &promoted.PromotedAt,
	); err != nil {
		return models.PromotedVersion{}, fmt.Errorf("insert promoted version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.PromotedVersion{}, fmt.Errorf("commit promotion: %w", err)
	}
	return promoted, nil
}

func (s *PGStore) SetAlias(ctx context.Context, name models.EnvironmentName, version int) error {
	query := `UPDATE environments SET alias_version=$2, updated_at=NOW() WHERE name=$1`
	res, err := s.db.ExecContext(ctx, query, name, version)
	if err != nil {
		return fmt.Errorf("set alias: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set alias rows: %w", err)
	}
	if affected == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func (s *PGStore) IsPromotedVersion(ctx context.Context, name models.EnvironmentName, version int) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM promoted_versions WHERE environment=$1 AND version=$2)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, name, version).Scan(&exists); err != nil {
		return false, fmt.Errorf("check promoted version: %w", err)
	}
	return exists, nil
}

func (s *PGStore) CreateApproval(ctx context.Context, in ApprovalInput) (models.ApprovalRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.ApprovedAt.IsZero() {
		in.ApprovedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO approvals (id, run_id, environment, approver, approved_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, run_id, environment, approver, approved_at
	`
	var record models.ApprovalRecord
	if err := s.db.QueryRowContext(ctx, query, in.ID, in.RunID, in.Environment, in.Approver, in.ApprovedAt).Scan(
		&record.ID, &record.RunID, &record.Environment, &record.Approver, &record.ApprovedAt,
	); err != nil {
		return models.ApprovalRecord{}, fmt.Errorf("insert approval: %w", err)
	}
	return record, nil
}

func (s *PGStore) LatestApproval(ctx context.Context, runID uuid.UUID, name models.EnvironmentName) (models.ApprovalRecord, error) {
	query := `
		SELECT id, run_id, environment, approver, approved_at
		FROM approvals
		WHERE run_id=$1 AND environment=$2
		ORDER BY approved_at DESC
		LIMIT 1
	`
	var record models.ApprovalRecord
	if err := s.db.QueryRowContext(ctx, query, runID, name).Scan(
		&record.ID, &record.RunID, &record.Environment, &record.Approver, &record.ApprovedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ApprovalRecord{}, pipeline.ErrNotFound
		}
		return models.ApprovalRecord{}, fmt.Errorf("get approval: %w", err)
	}
	return record, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
