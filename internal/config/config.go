package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	// Threshold gate policy. The gate itself is generic; these are the
	// release policy values.
	ToolSelectionMin    float64
	RefusalAccuracyMin  float64
	EvalResultsPath     string

	// Runtime identifiers for the live smoke probe. Environment-specific
	// IDs win over the generic fallback.
	AgentID           string
	AgentIDStaging    string
	AgentIDProduction string
	AliasIDStaging    string
	AliasIDProduction string
	RuntimeBaseURL    string
	Region            string

	// Audit chain. Postgres is the primary store so the service and the
	// rollback CLI share one chain; the file backend is for DB-less dev
	// runs. Kafka and S3 are optional sinks.
	AuditBackend string
	AuditDir     string
	KafkaBrokers []string
	KafkaTopic   string
	AuditBucket  string
	AuditPrefix  string

	SignerKeyB64 string
	SignerID     string

	// Approval barrier. Timeout 0 means wait indefinitely; the
	// surrounding orchestration substrate bounds the run lifetime.
	ApprovalHMACSecret string
	ApprovalTimeout    time.Duration
}

const (
	defaultAddr               = ":8071"
	defaultToolSelectionMin   = 0.95
	defaultRefusalAccuracyMin = 1.0
	defaultEvalResultsPath    = "test-results/evaluation.json"
	defaultRegion             = "us-east-1"
	defaultAuditDir           = "audit-log"
	defaultSignerID           = "agentcd-dev"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:               getEnv("AGENTCD_ADDR", defaultAddr),
		DatabaseURL:        firstNonEmpty(os.Getenv("AGENTCD_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		ToolSelectionMin:   getFloat("AGENTCD_TOOL_SELECTION_MIN", defaultToolSelectionMin),
		RefusalAccuracyMin: getFloat("AGENTCD_REFUSAL_ACCURACY_MIN", defaultRefusalAccuracyMin),
		EvalResultsPath:    getEnv("AGENTCD_EVAL_RESULTS", defaultEvalResultsPath),
		AgentID:            os.Getenv("AGENT_ID"),
		AgentIDStaging:     os.Getenv("AGENT_ID_STAGING"),
		AgentIDProduction:  os.Getenv("AGENT_ID_PRODUCTION"),
		AliasIDStaging:     os.Getenv("ALIAS_ID_STAGING"),
		AliasIDProduction:  os.Getenv("ALIAS_ID_PRODUCTION"),
		RuntimeBaseURL:     os.Getenv("AGENTCD_RUNTIME_URL"),
		Region:             getEnv("AWS_REGION", defaultRegion),
		AuditBackend:       getEnv("AGENTCD_AUDIT_BACKEND", "postgres"),
		AuditDir:           getEnv("AGENTCD_AUDIT_DIR", defaultAuditDir),
		KafkaBrokers:       splitList(os.Getenv("AGENTCD_KAFKA_BROKERS")),
		KafkaTopic:         os.Getenv("AGENTCD_KAFKA_TOPIC"),
		AuditBucket:        os.Getenv("AGENTCD_AUDIT_BUCKET"),
		AuditPrefix:        os.Getenv("AGENTCD_AUDIT_PREFIX"),
		SignerKeyB64:       os.Getenv("AGENTCD_SIGNER_KEY_B64"),
		SignerID:           getEnv("AGENTCD_SIGNER_ID", defaultSignerID),
		ApprovalHMACSecret: os.Getenv("AGENTCD_APPROVAL_HMAC_SECRET"),
		ApprovalTimeout:    getDuration("AGENTCD_APPROVAL_TIMEOUT", 0),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or AGENTCD_DATABASE_URL required")
	}
	if cfg.ApprovalHMACSecret == "" {
		return Config{}, fmt.Errorf("AGENTCD_APPROVAL_HMAC_SECRET required")
	}
	if cfg.AuditBackend != "postgres" && cfg.AuditBackend != "file" {
		return Config{}, fmt.Errorf("AGENTCD_AUDIT_BACKEND must be postgres or file, got %q", cfg.AuditBackend)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return Config{}, fmt.Errorf("AGENTCD_KAFKA_TOPIC required when AGENTCD_KAFKA_BROKERS set")
	}
	if cfg.RefusalAccuracyMin < 0 || cfg.RefusalAccuracyMin > 1 || cfg.ToolSelectionMin < 0 || cfg.ToolSelectionMin > 1 {
		return Config{}, fmt.Errorf("threshold values must be in [0,1]")
	}
	return cfg, nil
}

// AgentIDFor resolves the runtime identifier for an environment, falling
// back to the generic AGENT_ID. Empty means the live check is skipped.
func (c Config) AgentIDFor(environment string) string {
	switch environment {
	case "staging":
		return firstNonEmpty(c.AgentIDStaging, c.AgentID)
	case "production":
		return firstNonEmpty(c.AgentIDProduction, c.AgentID)
	}
	return c.AgentID
}

// AliasIDFor resolves the runtime alias identifier for an environment.
func (c Config) AliasIDFor(environment string) string {
	switch environment {
	case "staging":
		return c.AliasIDStaging
	case "production":
		return c.AliasIDProduction
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
