// Package audit is the append-only record of production mutations: every
// promotion and rollback lands here with who, when, and which versions,
// chained by hash so the history is reconstructible and tamper-evident.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event types appended by the pipeline.
const (
	EventPromotion = "environment.promoted"
	EventRollback  = "alias.rollback"
)

// AuditEvent is one append-only entry. PrevHash/Hash/Signature form the
// chain; the remaining fields are the operator-facing record.
type AuditEvent struct {
	ID          string    `json:"id,omitempty"`
	EventType   string    `json:"eventType"`
	Actor       string    `json:"actor"`
	Environment string    `json:"environment"`
	FromVersion int       `json:"fromVersion"`
	ToVersion   int       `json:"toVersion"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	PrevHash    string    `json:"prevHash,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	SignerID    string    `json:"signerId,omitempty"`
	Ts          time.Time `json:"ts"`
}

// NewUUID returns a freshly-generated UUID string.
func NewUUID() string {
	return uuid.New().String()
}
