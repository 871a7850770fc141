package gate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenticops/agentcd/internal/gate"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/registry"
)

func TestVetAllowsNonBlockingFindings(t *testing.T) {
	g := gate.NewScanGate(registry.NewMemoryRegistry())
	err := g.Vet(models.ScanReport{Findings: []models.Finding{
		{ID: "CVE-2026-1001", Severity: models.SeverityMedium},
		{ID: "CVE-2026-1002", Severity: models.SeverityLow},
	}})
	assert.NoError(t, err)
}

func TestVetBlocksHighAndCritical(t *testing.T) {
	g := gate.NewScanGate(registry.NewMemoryRegistry())
	err := g.Vet(models.ScanReport{Findings: []models.Finding{
		{ID: "CVE-2026-2001", Severity: models.SeverityHigh},
		{ID: "CVE-2026-2002", Severity: models.SeverityCritical},
		{ID: "CVE-2026-2003", Severity: models.SeverityLow},
	}})
	assert.True(t, errors.Is(err, pipeline.ErrPolicyViolation))
	assert.Contains(t, err.Error(), "CVE-2026-2001")
	assert.Contains(t, err.Error(), "CVE-2026-2002")
	assert.NotContains(t, err.Error(), "CVE-2026-2003")
}

func TestVetAndPublishNeverPublishesFailedArtifact(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	g := gate.NewScanGate(reg)

	_, err := g.VetAndPublish(ctx, "agent:v7", "sha256:aaa", models.ScanReport{Findings: []models.Finding{
		{ID: "CVE-2026-3001", Severity: models.SeverityHigh},
	}})
	assert.True(t, errors.Is(err, pipeline.ErrPolicyViolation))

	_, err = reg.Get(ctx, "agent:v7")
	assert.True(t, errors.Is(err, pipeline.ErrNotFound))
}

func TestVetAndPublishIdempotentRepublish(t *testing.T) {
	ctx := context.Background()
	g := gate.NewScanGate(registry.NewMemoryRegistry())

	first, err := g.VetAndPublish(ctx, "agent:v8", "sha256:bbb", models.ScanReport{})
	assert.NoError(t, err)
	assert.True(t, first.ScanPassed)

	// Same fingerprint, same content: a retry, not a conflict.
	_, err = g.VetAndPublish(ctx, "agent:v8", "sha256:bbb", models.ScanReport{})
	assert.NoError(t, err)
}

func TestVetAndPublishImmutableTagConflict(t *testing.T) {
	ctx := context.Background()
	g := gate.NewScanGate(registry.NewMemoryRegistry())

	_, err := g.VetAndPublish(ctx, "agent:v9", "sha256:ccc", models.ScanReport{})
	assert.NoError(t, err)

	_, err = g.VetAndPublish(ctx, "agent:v9", "sha256:ddd", models.ScanReport{})
	assert.True(t, errors.Is(err, pipeline.ErrImmutableTagConflict))
}
