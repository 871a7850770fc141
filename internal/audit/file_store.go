package audit

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agenticops/agentcd/internal/pipeline"
	"github.com/agenticops/agentcd/internal/signing"
)

// FileStore is a file-backed audit store for dev and single-node operation.
// Events land as JSON files; head.hash tracks the chain head. A seq file
// per event preserves append order for ListEvents.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	signer signing.Signer
	seq    int
}

func NewFileStore(dir string, signer signing.Signer) *FileStore {
	_ = os.MkdirAll(dir, 0o755)
	if signer == nil {
		signer = signing.NoopSigner{}
	}
	f := &FileStore{dir: dir, signer: signer}
	// Resume the sequence after a restart so append order survives.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			var seq int
			var id string
			if n, _ := fmt.Sscanf(entry.Name(), "audit_%d_%s", &seq, &id); n >= 1 && seq > f.seq {
				f.seq = seq
			}
		}
	}
	return f
}

func (f *FileStore) Ping(ctx context.Context) error { return nil }

func (f *FileStore) AppendEvent(ctx context.Context, ev *AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

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
	prev := f.readHead()
	hash, err := ChainHash(canonical, prev)
	if err != nil {
		return err
	}
	sig, err := f.signer.Sign(ctx, hash)
	if err != nil {
		return fmt.Errorf("sign audit hash: %w", err)
	}

	ev.PrevHash = prev
	ev.Hash = hex.EncodeToString(hash)
	ev.Signature = base64.StdEncoding.EncodeToString(sig)
	ev.SignerID = f.signer.SignerID()

	f.seq++
	b, _ := json.MarshalIndent(ev, "", "  ")
	name := fmt.Sprintf("audit_%08d_%s.json", f.seq, ev.ID)
	if err := os.WriteFile(filepath.Join(f.dir, name), b, 0o644); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, "head.hash"), []byte(ev.Hash), 0o644); err != nil {
		return fmt.Errorf("write head.hash: %w", err)
	}
	return nil
}

func (f *FileStore) readHead() string {
	b, err := os.ReadFile(filepath.Join(f.dir, "head.hash"))
	if err != nil {
		return ""
	}
	return string(b)
}

func (f *FileStore) GetEvent(ctx context.Context, id string) (*AuditEvent, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, fmt.Sprintf("audit_*_%s.json", id)))
	if err != nil || len(matches) == 0 {
		return nil, pipeline.ErrNotFound
	}
	b, err := os.ReadFile(matches[0])
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, pipeline.ErrNotFound
		}
		return nil, err
	}
	var ev AuditEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (f *FileStore) ListEvents(ctx context.Context) ([]AuditEvent, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "audit_") && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	events := make([]AuditEvent, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(f.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read audit file %s: %w", name, err)
		}
		var ev AuditEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("parse audit file %s: %w", name, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
