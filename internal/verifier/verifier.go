// Package verifier runs the post-deploy smoke checks: a static capability
// check against the declared baseline and a live probe against the target
// environment's runtime.
package verifier

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agenticops/agentcd/internal/agent"
	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/runtime"
)

// CanonicalInput is the fixed probe request. External runbooks quote it;
// do not change without updating them.
const CanonicalInput = "My birthdate is 1990-05-15. How many days old am I?"

const requiredSubstring = "days"

// The live probe retries a fixed 3 attempts with a 5 second pause to absorb
// cold-start latency. This is the only retry policy in the pipeline.
const (
	maxAttempts       = 3
	defaultRetryDelay = 5 * time.Second
)

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

// CheckResult is one per-check outcome, printed as a PASS/FAIL/SKIP line by
// the smoke-test CLI.
type CheckResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type Verifier struct {
	invoker runtime.Invoker
	agentID string

	// RetryDelay is the pause between live probe attempts. Tests shrink
	// it; production keeps the documented 5s.
	RetryDelay time.Duration
}

// New builds a verifier for one environment. invoker may be nil and agentID
// may be empty, in which case the live check reports SKIP.
func New(invoker runtime.Invoker, agentID string) *Verifier {
	return &Verifier{
		invoker:    invoker,
		agentID:    agentID,
		RetryDelay: defaultRetryDelay,
	}
}

// StaticCheck constructs the deployable unit and compares its declared
// capabilities to the expected baseline. No network calls, no retry.
func (v *Verifier) StaticCheck(expected agent.Capabilities) CheckResult {
	declared := agent.Declared()
	if declared.ControlPrompt != expected.ControlPrompt {
		return CheckResult{
			Name:   "static",
			Status: StatusFail,
			Detail: "control prompt does not match expected baseline",
		}
	}
	if len(declared.Tools) != len(expected.Tools) {
		return CheckResult{
			Name:   "static",
			Status: StatusFail,
			Detail: fmt.Sprintf("declared %d tools, expected %d", len(declared.Tools), len(expected.Tools)),
		}
	}
	for i, tool := range expected.Tools {
		if declared.Tools[i] != tool {
			return CheckResult{
				Name:   "static",
				Status: StatusFail,
				Detail: fmt.Sprintf("tool %d is %q, expected %q", i, declared.Tools[i], tool),
			}
		}
	}
	return CheckResult{Name: "static", Status: StatusPass}
}

// LiveCheck issues the canonical probe. The response must be non-empty,
// contain "days", and contain at least one digit. Transient failures are
// retried up to 3 total attempts with a fixed delay. A missing runtime
// identifier or endpoint downgrades to SKIP: running only static checks
// without credentials is operationally permitted.
func (v *Verifier) LiveCheck(ctx context.Context) CheckResult {
	if v.agentID == "" {
		log.Printf("[verifier] WARNING: no runtime identifier configured, skipping live check")
		return CheckResult{
			Name:   "live",
			Status: StatusSkip,
			Detail: "no runtime identifier configured",
		}
	}
	if v.invoker == nil {
		log.Printf("[verifier] WARNING: no runtime endpoint configured, skipping live check")
		return CheckResult{
			Name:   "live",
			Status: StatusSkip,
			Detail: "no runtime endpoint configured",
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, err := v.invoker.Invoke(ctx, v.agentID, CanonicalInput)
		if err == nil {
			return v.assertResponse(response)
		}
		lastErr = err
		log.Printf("[verifier] live probe attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			select {
			case <-time.After(v.RetryDelay):
			case <-ctx.Done():
				return CheckResult{Name: "live", Status: StatusFail, Detail: ctx.Err().Error()}
			}
		}
	}
	return CheckResult{
		Name:   "live",
		Status: StatusFail,
		Detail: fmt.Sprintf("all %d attempts failed, last error: %v", maxAttempts, lastErr),
	}
}

func (v *Verifier) assertResponse(response string) CheckResult {
	if response == "" {
		return CheckResult{Name: "live", Status: StatusFail, Detail: "agent returned an empty response"}
	}
	if !strings.Contains(strings.ToLower(response), requiredSubstring) {
		return CheckResult{
			Name:   "live",
			Status: StatusFail,
			Detail: fmt.Sprintf("response missing required substring %q: %q", requiredSubstring, response),
		}
	}
	if !strings.ContainsAny(response, "0123456789") {
		return CheckResult{
			Name:   "live",
			Status: StatusFail,
			Detail: fmt.Sprintf("response contains no numeric day count: %q", response),
		}
	}
	return CheckResult{Name: "live", Status: StatusPass}
}

// Run executes both checks. Overall success iff no check FAILed; SKIP
// counts as success.
func (v *Verifier) Run(ctx context.Context, expected agent.Capabilities) ([]CheckResult, bool) {
	results := []CheckResult{
		v.StaticCheck(expected),
		v.LiveCheck(ctx),
	}
	ok := true
	for _, result := range results {
		if result.Status == StatusFail {
			ok = false
		}
	}
	return results, ok
}

// Verify is the promoter-facing form: an error carrying the failing check's
// detail, classified as ErrVerificationFailed.
func (v *Verifier) Verify(ctx context.Context, expected agent.Capabilities) error {
	results, ok := v.Run(ctx, expected)
	if ok {
		return nil
	}
	for _, result := range results {
		if result.Status == StatusFail {
			return fmt.Errorf("smoke check %s failed: %s: %w", result.Name, result.Detail, pipeline.ErrVerificationFailed)
		}
	}
	return fmt.Errorf("smoke verification failed: %w", pipeline.ErrVerificationFailed)
}
