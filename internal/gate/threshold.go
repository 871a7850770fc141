// Package gate implements the pass/fail checkpoints that block pipeline
// advancement: the evaluation threshold gate and the build-and-scan gate.
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/pipeline"
)

// ThresholdRule binds one metric to its required minimum. An exact-match
// metric is expressed as threshold 1.0.
type ThresholdRule struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
}

// CheckThreshold passes iff the metric is present and observed >= required.
// The boundary case observed == required passes. The failure message carries
// both values so an operator can act without reading logs.
func CheckThreshold(results models.EvaluationResult, metric string, required float64) error {
	observed, ok := results[metric]
	if !ok {
		return fmt.Errorf("threshold gate: metric %q absent from evaluation results: %w", metric, pipeline.ErrMetricMissing)
	}
	if observed < required {
		return fmt.Errorf("threshold gate: metric %q observed %.4f below required %.4f: %w",
			metric, observed, required, pipeline.ErrThresholdNotMet)
	}
	return nil
}

// CheckAll evaluates every rule and fails on the first violation.
func CheckAll(results models.EvaluationResult, rules []ThresholdRule) error {
	for _, rule := range rules {
		if err := CheckThreshold(results, rule.Metric, rule.Threshold); err != nil {
			return err
		}
	}
	return nil
}

// LoadResults reads a metric->score JSON object from disk. A missing file is
// the same failure class as a missing metric.
func LoadResults(path string) (models.EvaluationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("threshold gate: evaluation results file %s missing: %w", path, pipeline.ErrMetricMissing)
		}
		return nil, fmt.Errorf("read evaluation results: %w", err)
	}
	var results models.EvaluationResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("parse evaluation results %s: %w", path, err)
	}
	for metric, score := range results {
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("evaluation results %s: metric %q score %.4f outside [0,1]", path, metric, score)
		}
	}
	return results, nil
}
