package store

import (
	"encoding/json"
	"sync"

	"github.com/meeplelab/parlor/game/session"
)

// MemoryBackend keeps session images in process memory. Records are stored
// as marshaled JSON so callers never share mutable state with the backend,
// and the round trip matches what a durable backend would do.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

func (b *MemoryBackend) SaveRecord(rec *session.PersistRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.records[rec.ID] = data
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) LoadRecord(id string) (*session.PersistRecord, error) {
	b.mu.RLock()
	data, ok := b.records[id]
	b.mu.RUnlock()
	if !ok {
		return nil, session.NewError(session.CodeNotFound, "no game %q", id)
	}
	var rec session.PersistRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *MemoryBackend) DeleteRecord(id string) error {
	b.mu.Lock()
	delete(b.records, id)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) ListIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.records))
	for id := range b.records {
		out = append(out, id)
	}
	return out, nil
}

func (b *MemoryBackend) Close() error { return nil }
