package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a vulnerability scan finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Blocking reports whether a finding of this severity blocks publication.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Finding is one vulnerability reported by the image scanner.
type Finding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	PackageName string   `json:"packageName,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ScanReport is the full scanner output for one built artifact.
type ScanReport struct {
	Findings []Finding `json:"findings"`
}

// Artifact is an immutable deployable unit keyed by the source revision at
// build time. Artifacts are superseded by later builds, never mutated.
type Artifact struct {
	Fingerprint string    `json:"fingerprint"`
	Digest      string    `json:"digest"`
	BuiltAt     time.Time `json:"builtAt"`
	ScanPassed  bool      `json:"scanPassed"`
	Findings    []Finding `json:"findings,omitempty"`
}

// EnvironmentName identifies a deployment target.
type EnvironmentName string

const (
	EnvStaging    EnvironmentName = "staging"
	EnvProduction EnvironmentName = "production"
)

// Rank orders environments; promotion always walks ranks upward.
func (e EnvironmentName) Rank() int {
	switch e {
	case EnvStaging:
		return 1
	case EnvProduction:
		return 2
	}
	return 0
}

// Environment is the persisted per-target record: the latest assigned
// version, the alias routing target, and the lock owner if a promotion or
// rollback is in flight. Mutated only under the environment lock.
type Environment struct {
	Name           EnvironmentName `json:"name"`
	Rank           int             `json:"rank"`
	CurrentVersion int             `json:"currentVersion"`
	AliasVersion   int             `json:"aliasVersion"`
	AliasID        string          `json:"aliasId"`
	LockedBy       *uuid.UUID      `json:"lockedBy,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// PromotedVersion records one successful promotion of an artifact into an
// environment. Rows are append-only; rollback reads them to validate targets.
type PromotedVersion struct {
	Environment EnvironmentName `json:"environment"`
	Version     int             `json:"version"`
	Fingerprint string          `json:"fingerprint"`
	PromotedAt  time.Time       `json:"promotedAt"`
}

// RunState is the promotion state machine position.
type RunState string

const (
	RunPending          RunState = "pending"
	RunValidating       RunState = "validating"
	RunPromoting        RunState = "promoting"
	RunVerifying        RunState = "verifying"
	RunAwaitingApproval RunState = "awaiting_approval"
	RunDone             RunState = "done"
	RunFailed           RunState = "failed"
)

// Terminal reports whether the state machine can still advance.
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunFailed
}

// PipelineRun is one end-to-end promotion attempt for a single artifact.
// The full position (state + environment) is persisted after every
// transition so a run survives an arbitrary approval wait and process
// restarts.
type PipelineRun struct {
	ID              uuid.UUID       `json:"id"`
	Fingerprint     string          `json:"fingerprint"`
	State           RunState        `json:"state"`
	Environment     EnvironmentName `json:"environment,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	StagingVerified *time.Time      `json:"stagingVerified,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// ApprovalRecord captures the human release of the approval barrier for one
// environment. Production promotion requires a record dated after the
// staging smoke success.
type ApprovalRecord struct {
	ID          uuid.UUID       `json:"id"`
	RunID       uuid.UUID       `json:"runId"`
	Environment EnvironmentName `json:"environment"`
	Approver    string          `json:"approver"`
	ApprovedAt  time.Time       `json:"approvedAt"`
}

// EvaluationResult maps metric names to scores in [0,1]. Produced once per
// pipeline run, consumed by the threshold gate, never mutated.
type EvaluationResult map[string]float64
