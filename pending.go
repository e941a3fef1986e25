package identity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// PendingKeyPrefix is the key pattern shared with the original web client so
// entries written by either side stay discoverable.
const PendingKeyPrefix = "registration_data_"

// PendingRegistrations is the repository over the browser-local key-value
// cache holding registration data that awaits email verification. The store
// is best effort: the relational store is always authoritative, and
// cross-tab writes under the same key are tolerated.
type PendingRegistrations interface {
	// Get returns (nil, nil) when no entry exists for the id.
	Get(ctx context.Context, id uuid.UUID) (*PendingRegistration, error)
	Put(ctx context.Context, record *PendingRegistration) error
	Delete(ctx context.Context, id uuid.UUID) error
	// FindByPredicate scans every cached entry; used for cross-session
	// recovery by email match.
	FindByPredicate(ctx context.Context, match func(*PendingRegistration) bool) ([]*PendingRegistration, error)
	// Purge removes every entry; invoked when a session is terminated.
	Purge(ctx context.Context) error
}

// FindPendingByEmail returns the cached entry whose email matches, but only
// when the match is unambiguous: zero or multiple matches yield nil.
func FindPendingByEmail(ctx context.Context, store PendingRegistrations, email string) (*PendingRegistration, error) {
	if store == nil || email == "" {
		return nil, nil
	}
	matches, err := store.FindByPredicate(ctx, func(r *PendingRegistration) bool {
		return r.Email == email
	})
	if err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, nil
	}
	return matches[0], nil
}

// PendingKey builds the storage key for a provisional user id.
func PendingKey(id uuid.UUID) string {
	return PendingKeyPrefix + id.String()
}

// memoryPendingStore is the in-process implementation, modeling the
// browser's local storage. Entries are JSON-serialized so the memory and
// redis stores share one wire shape.
type memoryPendingStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryPendingStore returns an in-memory PendingRegistrations store.
func NewMemoryPendingStore() PendingRegistrations {
	return &memoryPendingStore{entries: map[string][]byte{}}
}

func (s *memoryPendingStore) Get(ctx context.Context, id uuid.UUID) (*PendingRegistration, error) {
	s.mu.RLock()
	raw, ok := s.entries[PendingKey(id)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodePending(raw)
}

func (s *memoryPendingStore) Put(ctx context.Context, record *PendingRegistration) error {
	if record == nil || record.ProvisionalID == uuid.Nil {
		return goerrors.New("pending registration requires a provisional id", goerrors.CategoryValidation)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to serialize pending registration")
	}
	s.mu.Lock()
	s.entries[PendingKey(record.ProvisionalID)] = raw
	s.mu.Unlock()
	return nil
}

func (s *memoryPendingStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	delete(s.entries, PendingKey(id))
	s.mu.Unlock()
	return nil
}

func (s *memoryPendingStore) FindByPredicate(ctx context.Context, match func(*PendingRegistration) bool) ([]*PendingRegistration, error) {
	s.mu.RLock()
	raws := make([][]byte, 0, len(s.entries))
	for _, raw := range s.entries {
		raws = append(raws, raw)
	}
	s.mu.RUnlock()

	var found []*PendingRegistration
	for _, raw := range raws {
		record, err := decodePending(raw)
		if err != nil {
			// A torn cross-tab write is not fatal for a best-effort cache.
			continue
		}
		if match == nil || match(record) {
			found = append(found, record)
		}
	}
	return found, nil
}

func (s *memoryPendingStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	s.entries = map[string][]byte{}
	s.mu.Unlock()
	return nil
}

func decodePending(raw []byte) (*PendingRegistration, error) {
	record := &PendingRegistration{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode pending registration")
	}
	return record, nil
}
