// Package pipeline holds the error taxonomy shared by every gate and stage.
//
// Each sentinel maps to one externally documented failure class. Gates wrap
// these with fmt.Errorf("...: %w", ...) so callers can classify with
// errors.Is while operators still get a message naming the stage and cause.
package pipeline

import "errors"

var (
	// ErrMetricMissing means a required evaluation metric (or the whole
	// results file) was absent.
	ErrMetricMissing = errors.New("metric missing")

	// ErrThresholdNotMet means a metric was present but below its
	// required minimum.
	ErrThresholdNotMet = errors.New("threshold not met")

	// ErrPolicyViolation means the vulnerability scan found at least one
	// finding at or above the blocking severity.
	ErrPolicyViolation = errors.New("scan policy violation")

	// ErrImmutableTagConflict means a different artifact was already
	// registered under the same fingerprint.
	ErrImmutableTagConflict = errors.New("immutable tag conflict")

	// ErrEnvironmentBusy means another promotion or rollback currently
	// holds the environment lock.
	ErrEnvironmentBusy = errors.New("environment busy")

	// ErrUnknownVersion means a rollback target was never promoted to the
	// environment, or is not strictly earlier than the current version.
	ErrUnknownVersion = errors.New("unknown version")

	// ErrVerificationFailed means a post-deploy smoke check failed.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrUpstreamUnavailable is the transient class; it is retried only
	// inside the live smoke probe's bounded loop.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)
