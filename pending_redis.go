package identity

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPendingTTL bounds how long unconsumed registration data survives in
// a shared store. Verification emails expire well before this.
const DefaultPendingTTL = 7 * 24 * time.Hour

// RedisPendingStore is a shared PendingRegistrations implementation. It is
// useful when the client runs behind multiple hosts and the cache must be
// visible across them; the key pattern stays identical to the local store.
type RedisPendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPendingStore creates a redis-backed pending-registration store.
func NewRedisPendingStore(client *redis.Client, ttl time.Duration) *RedisPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &RedisPendingStore{client: client, ttl: ttl}
}

func (s *RedisPendingStore) Get(ctx context.Context, id uuid.UUID) (*PendingRegistration, error) {
	val, err := s.client.Get(ctx, PendingKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read pending registration")
	}
	return decodePending([]byte(val))
}

func (s *RedisPendingStore) Put(ctx context.Context, record *PendingRegistration) error {
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
	if err := s.client.Set(ctx, PendingKey(record.ProvisionalID), raw, s.ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store pending registration")
	}
	return nil
}

func (s *RedisPendingStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.Del(ctx, PendingKey(id)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete pending registration")
	}
	return nil
}

func (s *RedisPendingStore) FindByPredicate(ctx context.Context, match func(*PendingRegistration) bool) ([]*PendingRegistration, error) {
	var found []*PendingRegistration

	iter := s.client.Scan(ctx, 0, PendingKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read pending registration during scan")
		}
		record, err := decodePending([]byte(val))
		if err != nil {
			continue
		}
		if match == nil || match(record) {
			found = append(found, record)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to scan pending registrations")
	}

	return found, nil
}

func (s *RedisPendingStore) Purge(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, PendingKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to purge pending registrations")
		}
	}
	if err := iter.Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to scan pending registrations")
	}
	return nil
}

var _ PendingRegistrations = (*RedisPendingStore)(nil)
