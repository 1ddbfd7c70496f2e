package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inferflow/inferflow/internal/jsoncodec"
)

const (
	recordKeyPrefix = "inferflow:record:"
	ownerKeyPrefix  = "inferflow:owner:"
)

// RedisStore persists records as JSON values with a per-owner index set so
// GetAllByOwnerKey does not scan the keyspace.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	clone := *rec
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = clone.CreatedAt

	if err := s.set(ctx, &clone); err != nil {
		return err
	}
	if clone.OwnerKey != "" {
		if err := s.client.SAdd(ctx, ownerKeyPrefix+clone.OwnerKey, clone.CorrelationID).Err(); err != nil {
			return fmt.Errorf("store: indexing owner key: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) UpdateByID(ctx context.Context, correlationID string, update Update) error {
	rec, err := s.GetByID(ctx, correlationID)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{
			CorrelationID: correlationID,
			CreatedAt:     time.Now().UTC(),
		}
	} else if err != nil {
		return err
	}

	update.applyTo(rec)
	return s.set(ctx, rec)
}

func (s *RedisStore) GetByID(ctx context.Context, correlationID string) (*Record, error) {
	data, err := s.client.Get(ctx, recordKeyPrefix+correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetching record: %w", err)
	}

	var rec Record
	if err := jsoncodec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: decoding record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) GetAllByOwnerKey(ctx context.Context, ownerKey string) ([]*Record, error) {
	idsList, err := s.client.SMembers(ctx, ownerKeyPrefix+ownerKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: reading owner index: %w", err)
	}

	var out []*Record
	for _, id := range idsList {
		rec, err := s.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) set(ctx context.Context, rec *Record) error {
	data, err := jsoncodec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encoding record: %w", err)
	}
	if err := s.client.Set(ctx, recordKeyPrefix+rec.CorrelationID, data, 0).Err(); err != nil {
		return fmt.Errorf("store: writing record: %w", err)
	}
	return nil
}
