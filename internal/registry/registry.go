// Package registry models the distribution registry the pipeline publishes
// vetted artifacts to. Tags are immutable: a fingerprint, once registered,
// can never resolve to different content.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
)

type Registry interface {
	// Publish registers an artifact under its fingerprint. Re-publishing
	// the identical artifact is a no-op. Publishing different content
	// under a registered fingerprint fails with ErrImmutableTagConflict.
	Publish(ctx context.Context, artifact models.Artifact) error

	// Get returns the artifact registered under fingerprint.
	Get(ctx context.Context, fingerprint string) (models.Artifact, error)
}

type MemoryRegistry struct {
	mu        sync.RWMutex
	artifacts map[string]models.Artifact
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{artifacts: map[string]models.Artifact{}}
}

func (r *MemoryRegistry) Publish(ctx context.Context, artifact models.Artifact) error {
	if artifact.Fingerprint == "" {
		return fmt.Errorf("registry publish: fingerprint required")
	}
	if artifact.Digest == "" {
		return fmt.Errorf("registry publish: digest required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.artifacts[artifact.Fingerprint]
	if !ok {
		r.artifacts[artifact.Fingerprint] = artifact
		return nil
	}
	if existing.Digest != artifact.Digest {
		return fmt.Errorf("registry publish: fingerprint %s already registered with digest %s, refusing digest %s: %w",
			artifact.Fingerprint, existing.Digest, artifact.Digest, pipeline.ErrImmutableTagConflict)
	}
	// Identical content under the same tag: idempotent.
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, fingerprint string) (models.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	artifact, ok := r.artifacts[fingerprint]
	if !ok {
		return models.Artifact{}, pipeline.ErrNotFound
	}
	return artifact, nil
}
