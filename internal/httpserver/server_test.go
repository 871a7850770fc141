package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/agenticops/agentcd/internal/agent"
	"github.com/agenticops/agentcd/internal/audit"
	"github.com/agenticops/agentcd/internal/auth"
	"github.com/agenticops/agentcd/internal/config"
	"github.com/agenticops/agentcd/internal/gate"
	"github.com/agenticops/agentcd/internal/httpserver"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/promoter"
	"github.com/agenticops/agentcd/internal/registry"
	"github.com/agenticops/agentcd/internal/rollback"
	"github.com/agenticops/agentcd/internal/signing"
	"github.com/agenticops/agentcd/internal/store"
)

const testSecret = "http-test-secret"

type okVerifier struct{}

func (okVerifier) Verify(ctx context.Context, expected agent.Capabilities) error { return nil }

type noopAliases struct{}

func (noopAliases) UpdateAlias(ctx context.Context, agentID, aliasID string, targetVersion int) error {
	return nil
}

func newTestServer(t *testing.T, cfgMut ...func(*config.Config)) (http.Handler, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	for _, env := range []models.EnvironmentName{models.EnvStaging, models.EnvProduction} {
		if _, err := st.EnsureEnvironment(ctx, env, "alias-"+string(env)); err != nil {
			t.Fatalf("ensure environment: %v", err)
		}
	}

	recorder := audit.NewRecorder(audit.NewFileStore(t.TempDir(), signing.NoopSigner{}), nil, nil)
	prom := promoter.New(st, gate.NewScanGate(registry.NewMemoryRegistry()),
		func(name models.EnvironmentName) promoter.SmokeVerifier { return okVerifier{} },
		recorder,
		promoter.Config{
			Rules: []gate.ThresholdRule{
				{Metric: "tool_selection", Threshold: 0.95},
				{Metric: "refusal_accuracy", Threshold: 1.0},
			},
			Baseline: agent.Declared(),
			Aliases:  noopAliases{},
			AgentIDs: func(name models.EnvironmentName) string { return "agent-" + string(name) },
		})
	rb := rollback.New(st, noopAliases{}, recorder)
	verifier, err := auth.NewVerifier(testSecret, "")
	if err != nil {
		t.Fatalf("auth verifier: %v", err)
	}
	cfg := config.Config{}
	for _, mut := range cfgMut {
		mut(&cfg)
	}
	server := httpserver.New(cfg, prom, rb, st, verifier)
	return server.Router(), st
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).
		SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

func startRun(t *testing.T, router http.Handler) models.PipelineRun {
	t.Helper()
	body := []byte(`{
		"fingerprint": "agent:a1b2c3",
		"digest": "sha256:0ff1ce",
		"evaluation": {"tool_selection": 0.96, "refusal_accuracy": 1.0},
		"scanReport": {"findings": []}
	}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pipeline/runs", bytes.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var run models.PipelineRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	return run
}

func TestStartRunParksAwaitingApproval(t *testing.T) {
	router, _ := newTestServer(t)
	run := startRun(t, router)
	assert.Equal(t, models.RunAwaitingApproval, run.State)
	assert.Equal(t, models.EnvProduction, run.Environment)
}

func TestStartRunGateFailureReportedInRun(t *testing.T) {
	router, _ := newTestServer(t)
	body := []byte(`{
		"fingerprint": "agent:a1b2c3",
		"digest": "sha256:0ff1ce",
		"evaluation": {"tool_selection": 0.96, "refusal_accuracy": 0.99},
		"scanReport": {"findings": []}
	}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pipeline/runs", bytes.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var run models.PipelineRun
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, models.RunFailed, run.State)
	assert.Contains(t, run.FailureReason, "refusal_accuracy")
}

func TestStartRunFallsBackToResultsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluation.json")
	if err := os.WriteFile(path, []byte(`{"tool_selection":0.98,"refusal_accuracy":1.0}`), 0o644); err != nil {
		t.Fatalf("write results: %v", err)
	}
	router, _ := newTestServer(t, func(cfg *config.Config) { cfg.EvalResultsPath = path })

	body := []byte(`{"fingerprint": "agent:a1b2c3", "digest": "sha256:0ff1ce"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pipeline/runs", bytes.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var run models.PipelineRun
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, models.RunAwaitingApproval, run.State)
}

func TestStartRunMissingResultsFile(t *testing.T) {
	router, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.EvalResultsPath = filepath.Join(t.TempDir(), "absent.json")
	})

	body := []byte(`{"fingerprint": "agent:a1b2c3", "digest": "sha256:0ff1ce"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pipeline/runs", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveRequiresToken(t *testing.T) {
	router, _ := newTestServer(t)
	run := startRun(t, router)

	url := fmt.Sprintf("/pipeline/runs/%s/approve", run.ID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, url, nil)
	req.Header.Set("Authorization", bearerToken(t, "release-lead"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var approved models.PipelineRun
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, models.RunDone, approved.State)
}

func TestGetRun(t *testing.T) {
	router, _ := newTestServer(t)
	run := startRun(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/runs/"+run.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollbackEndpoint(t *testing.T) {
	router, st := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := st.RecordPromotion(ctx, models.EnvProduction, "agent:v"); err != nil {
			t.Fatalf("record promotion: %v", err)
		}
	}

	body := []byte(`{"environment":"production","agentId":"agent-1","aliasId":"alias-prod","targetVersion":2}`)
	req := httptest.NewRequest(http.MethodPost, "/pipeline/rollback", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, "ops-oncall"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env, err := st.GetEnvironment(ctx, models.EnvProduction)
	assert.NoError(t, err)
	assert.Equal(t, 2, env.AliasVersion)
}

func TestRollbackRejectsUnknownVersion(t *testing.T) {
	router, _ := newTestServer(t)
	body := []byte(`{"environment":"production","agentId":"agent-1","aliasId":"alias-prod","targetVersion":7}`)
	req := httptest.NewRequest(http.MethodPost, "/pipeline/rollback", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, "ops-oncall"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndEnvironments(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/environments", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var envs []models.Environment
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envs))
	assert.Len(t, envs, 2)
}
