// Command rollback-alias repoints a live runtime alias to a previously
// promoted version. Exit code 0 means the alias now routes all traffic to
// the target version and the audit entry is durably recorded; any other
// exit code means the rollback did not fully complete.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/agenticops/agentcd/internal/audit"
	"github.com/agenticops/agentcd/internal/models"
	"github.com/agenticops/agentcd/internal/rollback"
	"github.com/agenticops/agentcd/internal/runtime"
	"github.com/agenticops/agentcd/internal/signing"
	"github.com/agenticops/agentcd/internal/store"
)

func main() {
	agentID := flag.String("agent-id", "", "runtime identifier of the deployed agent (required)")
	aliasID := flag.String("alias-id", "", "alias to repoint (required)")
	targetVersion := flag.Int("target-version", 0, "previously promoted version to route traffic to (required)")
	region := flag.String("region", envOr("AWS_REGION", "us-east-1"), "runtime region")
	environment := flag.String("environment", "production", "environment the alias belongs to")
	actor := flag.String("actor", "", "operator identity for the audit entry")
	auditDir := flag.String("audit-dir", envOr("AGENTCD_AUDIT_DIR", "audit-log"), "file audit log directory")
	flag.Parse()

	if *agentID == "" || *aliasID == "" || *targetVersion <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	databaseURL := envOr("AGENTCD_DATABASE_URL", os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatalf("DATABASE_URL or AGENTCD_DATABASE_URL required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()

	client, err := runtime.NewHTTPClient(runtime.HTTPClientConfig{
		BaseURL: os.Getenv("AGENTCD_RUNTIME_URL"),
		Region:  *region,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("runtime client init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Append to the same chain the service writes unless the file
	// backend is selected for a DB-less dev setup.
	var signer signing.Signer = signing.NoopSigner{}
	if key := os.Getenv("AGENTCD_SIGNER_KEY_B64"); key != "" {
		s, err := signing.NewEd25519SignerFromB64(key, envOr("AGENTCD_SIGNER_ID", "agentcd-dev"))
		if err != nil {
			log.Fatalf("signer init: %v", err)
		}
		signer = s
	}

	var auditStore audit.Store
	if envOr("AGENTCD_AUDIT_BACKEND", "postgres") == "file" {
		auditStore = audit.NewFileStore(*auditDir, signer)
	} else {
		pg := audit.NewPGStore(db, signer)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("audit schema: %v", err)
		}
		auditStore = pg
	}
	recorder := audit.NewRecorder(auditStore, nil, nil)
	controller := rollback.New(store.NewPGStore(db), client, recorder)

	if err := controller.Rollback(ctx, rollback.Request{
		Environment:   models.EnvironmentName(*environment),
		AgentID:       *agentID,
		AliasID:       *aliasID,
		TargetVersion: *targetVersion,
		Actor:         *actor,
	}); err != nil {
		log.Fatalf("rollback failed: %v", err)
	}
	log.Printf("rollback complete: %s alias %s -> version %d", *environment, *aliasID, *targetVersion)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
