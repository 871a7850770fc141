package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

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
	"github.com/agenticops/agentcd/internal/runtime"
	"github.com/agenticops/agentcd/internal/signing"
	"github.com/agenticops/agentcd/internal/store"
	"github.com/agenticops/agentcd/internal/verifier"
)

func main() {
	auditDir := flag.String("audit-dir", "", "override the file audit log directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if *auditDir != "" {
		cfg.AuditDir = *auditDir
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	st := store.NewPGStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema init: %v", err)
	}
	seedEnvironments(ctx, st, cfg)

	signer := buildSigner(cfg)
	recorder := buildRecorder(ctx, cfg, signer, db)

	runtimeClient, err := runtime.NewHTTPClient(runtime.HTTPClientConfig{
		BaseURL: cfg.RuntimeBaseURL,
		Region:  cfg.Region,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("runtime client init: %v", err)
	}

	verifiers := func(name models.EnvironmentName) promoter.SmokeVerifier {
		return verifier.New(runtimeClient, cfg.AgentIDFor(string(name)))
	}

	scanGate := gate.NewScanGate(registry.NewMemoryRegistry())
	prom := promoter.New(st, scanGate, verifiers, recorder, promoter.Config{
		Rules: []gate.ThresholdRule{
			{Metric: "tool_selection", Threshold: cfg.ToolSelectionMin},
			{Metric: "refusal_accuracy", Threshold: cfg.RefusalAccuracyMin},
		},
		Baseline:        agent.Declared(),
		ApprovalTimeout: cfg.ApprovalTimeout,
		Aliases:         runtimeClient,
		AgentIDs: func(name models.EnvironmentName) string {
			return cfg.AgentIDFor(string(name))
		},
	})
	rb := rollback.New(st, runtimeClient, recorder)

	authVerifier, err := auth.NewVerifier(cfg.ApprovalHMACSecret, "deploy:approve")
	if err != nil {
		log.Fatalf("auth verifier init: %v", err)
	}

	logParkedRuns(ctx, st)

	server := httpserver.New(cfg, prom, rb, st, authVerifier)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("pipeline service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func seedEnvironments(ctx context.Context, st store.Store, cfg config.Config) {
	for _, name := range []models.EnvironmentName{models.EnvStaging, models.EnvProduction} {
		if _, err := st.EnsureEnvironment(ctx, name, cfg.AliasIDFor(string(name))); err != nil {
			log.Fatalf("environment seed %s: %v", name, err)
		}
	}
}

func buildSigner(cfg config.Config) signing.Signer {
	if cfg.SignerKeyB64 == "" {
		log.Printf("[startup] no signing key configured, audit events will be unsigned")
		return signing.NoopSigner{}
	}
	signer, err := signing.NewEd25519SignerFromB64(cfg.SignerKeyB64, cfg.SignerID)
	if err != nil {
		log.Fatalf("signer init: %v", err)
	}
	return signer
}

// buildRecorder wires the audit chain: Postgres primary (one chain shared
// with the rollback CLI), file store fallback for DB-less dev runs, and the
// optional Kafka/S3 sinks.
func buildRecorder(ctx context.Context, cfg config.Config, signer signing.Signer, db *sql.DB) *audit.Recorder {
	var primary audit.Store
	if cfg.AuditBackend == "file" {
		primary = audit.NewFileStore(cfg.AuditDir, signer)
	} else {
		pg := audit.NewPGStore(db, signer)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("audit schema init: %v", err)
		}
		primary = pg
	}

	var producer audit.StreamProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer init: %v", err)
		}
		producer = kp
	}

	var archiver audit.Archiver
	if cfg.AuditBucket != "" {
		s3, err := audit.NewS3Archiver(ctx, cfg.AuditBucket, cfg.AuditPrefix)
		if err != nil {
			log.Fatalf("s3 archiver init: %v", err)
		}
		archiver = s3
	}

	return audit.NewRecorder(primary, producer, archiver)
}

// logParkedRuns surfaces runs waiting on approval so operators can see
// what a restarted service picked back up.
func logParkedRuns(ctx context.Context, st store.Store) {
	runs, err := st.ListRunsByState(ctx, models.RunAwaitingApproval)
	if err != nil {
		log.Printf("[startup] list parked runs: %v", err)
		return
	}
	for _, run := range runs {
		log.Printf("[startup] run %s awaiting approval for %s (artifact %s)", run.ID, run.Environment, run.Fingerprint)
	}
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
