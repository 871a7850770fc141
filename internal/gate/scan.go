package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/registry"
)

// ScanGate vets a built artifact against the vulnerability policy and, on
// pass, publishes it to the distribution registry. Most of the work is the
// scanner's; this gate only enforces the severity policy and the
// publish-after-vet ordering.
type ScanGate struct {
	registry registry.Registry
}

func NewScanGate(reg registry.Registry) *ScanGate {
	return &ScanGate{registry: reg}
}

// Vet fails with ErrPolicyViolation if any finding is HIGH or CRITICAL.
// The message lists every blocking finding.
func (g *ScanGate) Vet(report models.ScanReport) error {
	var blocking []models.Finding
	for _, finding := range report.Findings {
		if finding.Severity.Blocking() {
			blocking = append(blocking, finding)
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	descriptions := make([]string, 0, len(blocking))
	for _, f := range blocking {
		descriptions = append(descriptions, fmt.Sprintf("%s (%s)", f.ID, f.Severity))
	}
	return fmt.Errorf("scan gate: %d blocking finding(s): %s: %w",
		len(blocking), strings.Join(descriptions, ", "), pipeline.ErrPolicyViolation)
}

// VetAndPublish runs the policy check and only publishes when it passes; a
// failed artifact never reaches the registry.
func (g *ScanGate) VetAndPublish(ctx context.Context, fingerprint, digest string, report models.ScanReport) (models.Artifact, error) {
	artifact := models.Artifact{
		Fingerprint: fingerprint,
		Digest:      digest,
		BuiltAt:     time.Now().UTC(),
		Findings:    report.Findings,
	}
	if err := g.Vet(report); err != nil {
		return models.Artifact{}, err
	}
	artifact.ScanPassed = true
	if err := g.registry.Publish(ctx, artifact); err != nil {
		return models.Artifact{}, err
	}
	return artifact, nil
}
