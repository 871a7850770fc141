package audit

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/signing"
)

// PGStore persists the audit chain in Postgres. A serializable transaction
// reads the head and appends the next link so concurrent appends cannot
// fork the chain.
type PGStore struct {
	db     *sql.DB
	signer signing.Signer
}

func NewPGStore(db *sql.DB, signer signing.Signer) *PGStore {
	if signer == nil {
		signer = signing.NoopSigner{}
	}
	return &PGStore{db: db, signer: signer}
}

const auditColumns = "id, event_type, actor, environment, from_version, to_version, fingerprint, prev_hash, hash, signature, signer_id, ts"

// EnsureSchema creates the audit table if it does not exist. seq preserves
// append order for chain verification.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS audit_events (
  seq bigserial PRIMARY KEY,
  id uuid NOT NULL UNIQUE,
  event_type text NOT NULL,
  actor text NOT NULL,
  environment text NOT NULL,
  from_version int NOT NULL,
  to_version int NOT NULL,
  fingerprint text NOT NULL DEFAULT '',
  prev_hash text NOT NULL DEFAULT '',
  hash text NOT NULL,
  signature text NOT NULL DEFAULT '',
  signer_id text NOT NULL DEFAULT '',
  ts timestamptz NOT NULL DEFAULT now()
);
`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PGStore) AppendEvent(ctx context.Context, ev *AuditEvent) error {
	if ev.ID == "" {
		ev.ID = NewUUID()
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}

	canonical, err := canonicalPayload(ev)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read audit head: %w", err)
	}

	hash, err := ChainHash(canonical, prev)
	if err != nil {
		return err
	}
	sig, err := s.signer.Sign(ctx, hash)
	if err != nil {
		return fmt.Errorf("sign audit hash: %w", err)
	}

	ev.PrevHash = prev
	ev.Hash = hex.EncodeToString(hash)
	ev.Signature = base64.StdEncoding.EncodeToString(sig)
	ev.SignerID = s.signer.SignerID()

	insert := `
		INSERT INTO audit_events (id, event_type, actor, environment, from_version, to_version, fingerprint, prev_hash, hash, signature, signer_id, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	if _, err := tx.ExecContext(ctx, insert,
		ev.ID, ev.EventType, ev.Actor, ev.Environment, ev.FromVersion, ev.ToVersion,
		ev.Fingerprint, ev.PrevHash, ev.Hash, ev.Signature, ev.SignerID, ev.Ts,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit event: %w", err)
	}
	return nil
}

func scanAuditEvent(row interface{ Scan(...interface{}) error }) (AuditEvent, error) {
	var ev AuditEvent
	if err := row.Scan(
		&ev.ID, &ev.EventType, &ev.Actor, &ev.Environment, &ev.FromVersion, &ev.ToVersion,
		&ev.Fingerprint, &ev.PrevHash, &ev.Hash, &ev.Signature, &ev.SignerID, &ev.Ts,
	); err != nil {
		return AuditEvent{}, err
	}
	return ev, nil
}

func (s *PGStore) GetEvent(ctx context.Context, id string) (*AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE id=$1`
	ev, err := scanAuditEvent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pipeline.ErrNotFound
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &ev, nil
}

func (s *PGStore) ListEvents(ctx context.Context) ([]AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
