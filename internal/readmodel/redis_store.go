package readmodel

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCatalogStore keeps catalog snapshots in Redis hashes with a set
// index, so multiple orchestrator nodes share one priced read model.
type RedisCatalogStore struct {
	client    *redis.Client
	keyPrefix string
	indexKey  string
}

// NewRedisCatalogStore constructs a Redis-backed catalog snapshot store.
func NewRedisCatalogStore(client *redis.Client, keyPrefix string) *RedisCatalogStore {
	if keyPrefix == "" {
		keyPrefix = "catalog:"
	}
	return &RedisCatalogStore{
		client:    client,
		keyPrefix: keyPrefix,
		indexKey:  keyPrefix + "ids",
	}
}

// List returns every stored catalog snapshot.
func (s *RedisCatalogStore) List(ctx context.Context) ([]CatalogItemSnapshot, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]CatalogItemSnapshot, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		item, err := s.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Get returns the snapshot for the id, or ErrNotFound.
func (s *RedisCatalogStore) Get(ctx context.Context, id uuid.UUID) (CatalogItemSnapshot, error) {
	values, err := s.client.HGetAll(ctx, s.keyPrefix+id.String()).Result()
	if err != nil {
		return CatalogItemSnapshot{}, err
	}
	if len(values) == 0 {
		return CatalogItemSnapshot{}, ErrNotFound
	}

	price, err := strconv.ParseFloat(values["price"], 64)
	if err != nil {
		return CatalogItemSnapshot{}, err
	}
	return CatalogItemSnapshot{
		ID:          id,
		Name:        values["name"],
		Description: values["description"],
		Price:       price,
	}, nil
}

// Upsert writes the snapshot hash and index membership in one pipeline.
func (s *RedisCatalogStore) Upsert(ctx context.Context, item CatalogItemSnapshot) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.keyPrefix+item.ID.String(), map[string]any{
		"name":        item.Name,
		"description": item.Description,
		"price":       strconv.FormatFloat(item.Price, 'f', -1, 64),
	})
	pipe.SAdd(ctx, s.indexKey, item.ID.String())
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes the snapshot hash and its index membership.
func (s *RedisCatalogStore) Delete(ctx context.Context, id uuid.UUID) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.keyPrefix+id.String())
	pipe.SRem(ctx, s.indexKey, id.String())
	_, err := pipe.Exec(ctx)
	return err
}
