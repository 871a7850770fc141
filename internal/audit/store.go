package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Store is the persistence abstraction for the audit chain.
type Store interface {
	// AppendEvent fills the chain fields (prevHash, hash, signature,
	// signerId, id, ts) and persists the event.
	AppendEvent(ctx context.Context, ev *AuditEvent) error

	// GetEvent retrieves an event by id.
	GetEvent(ctx context.Context, id string) (*AuditEvent, error)

	// ListEvents returns all events in append order.
	ListEvents(ctx context.Context) ([]AuditEvent, error)

	Ping(ctx context.Context) error
}

// canonicalPayload is the byte string that gets chained and signed: the
// operator-facing fields in fixed order, independent of chain fields.
func canonicalPayload(ev *AuditEvent) ([]byte, error) {
	payload := struct {
		EventType   string `json:"eventType"`
		Actor       string `json:"actor"`
		Environment string `json:"environment"`
		FromVersion int    `json:"fromVersion"`
		ToVersion   int    `json:"toVersion"`
		Fingerprint string `json:"fingerprint"`
		Ts          string `json:"ts"`
	}{
		EventType:   ev.EventType,
		Actor:       ev.Actor,
		Environment: ev.Environment,
		FromVersion: ev.FromVersion,
		ToVersion:   ev.ToVersion,
		Fingerprint: ev.Fingerprint,
		Ts:          ev.Ts.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit payload: %w", err)
	}
	return b, nil
}

// ChainHash computes sha256(canonical || prevHashBytes).
func ChainHash(canonical []byte, prevHash string) ([]byte, error) {
	concat := append([]byte(nil), canonical...)
	if prevHash != "" {
		prevBytes, err := hex.DecodeString(prevHash)
		if err != nil {
			return nil, fmt.Errorf("decode prevHash: %w", err)
		}
		concat = append(concat, prevBytes...)
	}
	h := sha256.Sum256(concat)
	return h[:], nil
}

// VerifyChain recomputes every link and fails on the first mismatch.
func VerifyChain(events []AuditEvent) error {
	prev := ""
	for i := range events {
		ev := events[i]
		canonical, err := canonicalPayload(&ev)
		if err != nil {
			return err
		}
		hash, err := ChainHash(canonical, prev)
		if err != nil {
			return err
		}
		if ev.PrevHash != prev {
			return fmt.Errorf("audit chain broken at %s: prevHash %q, expected %q", ev.ID, ev.PrevHash, prev)
		}
		if ev.Hash != hex.EncodeToString(hash) {
			return fmt.Errorf("audit chain broken at %s: stored hash does not match recomputed hash", ev.ID)
		}
		prev = ev.Hash
	}
	return nil
}
