// Package redis provides a Redis-backed document store. Records are stored
// as JSON under per-document keys with a set index for listing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/RolldeoDev/rolldeo-go/internal/storage"
)

const (
	keyPrefix = "rolldeo:doc:"
	indexKey  = "rolldeo:docs"
)

// Store is a Redis implementation of storage.DocumentStore.
type Store struct {
	client *redis.Client
}

var _ storage.DocumentStore = (*Store)(nil)

// Open connects to Redis and verifies the connection.
func Open(addr string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Put(ctx context.Context, rec storage.Record) (storage.Record, error) {
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if existing, err := s.Get(ctx, rec.ID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshal document %q: %w", rec.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+rec.ID, data, 0)
	pipe.SAdd(ctx, indexKey, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return storage.Record{}, fmt.Errorf("put document %q: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id string) (storage.Record, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("get document %q: %w", id, err)
	}
	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return storage.Record{}, fmt.Errorf("decode document %q: %w", id, err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	sort.Strings(ids)
	out := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// Index entry without a key; drop it lazily.
			s.client.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	s.client.SRem(ctx, indexKey, id)
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }
