package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by [Store.Load] for unknown or expired sessions.
var ErrNotFound = errors.New("session: not found")

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 12 * time.Hour

// Store persists sessions between requests. Load returns a private copy;
// changes are only visible to other requests after Save.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. Sessions are stored
// serialised so that callers never share a *Session.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// NewMemoryStore returns a MemoryStore that forgets sessions idle for
// longer than ttl. A zero ttl uses [DefaultTTL].
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memEntry)}
}

// Load implements [Store].
func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok && m.now().After(e.expires) {
		delete(m.entries, id)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(e.data)
}

// Save implements [Store].
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	now := m.now()
	s.UpdatedAt = now
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: save %s: %w", s.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID] = memEntry{data: data, expires: now.Add(m.ttl)}
	m.sweepLocked(now)
	return nil
}

// Delete implements [Store].
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	return len(m.entries)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for id, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, id)
		}
	}
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &s, nil
}
