package store

import (
	"context"
	"sync"
	"time"

	"dicebastion/internal/model"
)

// Snapshot is the last successfully loaded event list.
type Snapshot struct {
	Events    []model.Event `json:"events"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store keeps the current snapshot. Load returns a zero Snapshot (and no
// error) when nothing has been saved yet.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// MemoryStore implements Store for a single process.
type MemoryStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, nil
}

// Anchor moves every template into loc. Snapshots that went through JSON
// carry fixed offsets, which would break DST transitions.
func (snap Snapshot) Anchor(loc *time.Location) Snapshot {
	out := Snapshot{UpdatedAt: snap.UpdatedAt, Events: make([]model.Event, len(snap.Events))}
	for i, ev := range snap.Events {
		ev.Template = ev.Template.In(loc)
		out.Events[i] = ev
	}
	return out
}

// Find returns the event with the given key.
func (snap Snapshot) Find(key string) (model.Event, bool) {
	for _, ev := range snap.Events {
		if ev.Key() == key {
			return ev, true
		}
	}
	return model.Event{}, false
}
