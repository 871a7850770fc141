package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenticops/agentcd/internal/audit"
	"github.com/agenticops/agentcd/internal/signing"
)

type failingSink struct{ calls int }

func (f *failingSink) ProduceEvent(ctx context.Context, ev *audit.AuditEvent) error {
	f.calls++
	return errors.New("broker unreachable")
}

func (f *failingSink) ArchiveEvent(ctx context.Context, ev *audit.AuditEvent) error {
	f.calls++
	return errors.New("bucket unreachable")
}

func TestRecorderSinkFailureDoesNotFailAppend(t *testing.T) {
	st := audit.NewFileStore(t.TempDir(), signing.NoopSigner{})
	sink := &failingSink{}
	recorder := audit.NewRecorder(st, sink, sink)

	err := recorder.Record(context.Background(), &audit.AuditEvent{
		EventType:   audit.EventPromotion,
		Actor:       "pipeline",
		Environment: "staging",
		ToVersion:   1,
	})
	assert.NoError(t, err, "best-effort sinks must not fail the append")
	assert.Equal(t, 2, sink.calls)

	events, err := st.ListEvents(context.Background())
	assert.NoError(t, err)
	assert.Len(t, events, 1)
}

type nullStore struct{ err error }

func (n nullStore) AppendEvent(ctx context.Context, ev *audit.AuditEvent) error { return n.err }
func (n nullStore) GetEvent(ctx context.Context, id string) (*audit.AuditEvent, error) {
	return nil, n.err
}
func (n nullStore) ListEvents(ctx context.Context) ([]audit.AuditEvent, error) { return nil, n.err }
func (n nullStore) Ping(ctx context.Context) error                             { return n.err }

func TestRecorderPrimaryStoreFailurePropagates(t *testing.T) {
	recorder := audit.NewRecorder(nullStore{err: errors.New("disk full")}, nil, nil)
	err := recorder.Record(context.Background(), &audit.AuditEvent{EventType: audit.EventRollback})
	assert.Error(t, err)
}
