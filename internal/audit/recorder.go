package audit

import (
	"context"
	"log"
)

// StreamProducer is what the recorder needs from the Kafka producer.
type StreamProducer interface {
	ProduceEvent(ctx context.Context, ev *AuditEvent) error
}

// Recorder is the single entry point the pipeline uses to append audit
// events. The primary store is authoritative; the Kafka stream and S3
// archive are best-effort sinks. A sink failure is logged, never allowed
// to fail the mutation that already happened.
type Recorder struct {
	store    Store
	producer StreamProducer
	archiver Archiver
}

func NewRecorder(store Store, producer StreamProducer, archiver Archiver) *Recorder {
	return &Recorder{store: store, producer: producer, archiver: archiver}
}

// Record appends the event to the primary store, then fans out to the
// optional sinks.
func (r *Recorder) Record(ctx context.Context, ev *AuditEvent) error {
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if r.producer != nil {
		if err := r.producer.ProduceEvent(ctx, ev); err != nil {
			log.Printf("[audit] WARNING: stream audit event %s: %v", ev.ID, err)
		}
	}
	if r.archiver != nil {
		if err := r.archiver.ArchiveEvent(ctx, ev); err != nil {
			log.Printf("[audit] WARNING: archive audit event %s: %v", ev.ID, err)
		}
	}
	return nil
}
