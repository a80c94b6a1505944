package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var _ domain.SagaRepository = (*RedisSagaCache)(nil)

const sagaCachePrefix = "order-saga:"

// RedisSagaCache is a TTL-bounded read-through cache in front of the durable
// saga store. The store stays the system of record: writes go through to it
// first and conflict detection never consults the cache. Cache failures are
// logged and degraded to store reads, never surfaced to the orchestrator.
type RedisSagaCache struct {
	inner  domain.SagaRepository
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisSagaCache decorates a saga repository with a Redis cache.
func NewRedisSagaCache(inner domain.SagaRepository, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisSagaCache {
	return &RedisSagaCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

type cachedSaga struct {
	OrderID   string              `json:"orderId"`
	State     string              `json:"state"`
	Data      domain.ExtendedData `json:"data"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Create inserts into the store and primes the cache.
func (c *RedisSagaCache) Create(ctx context.Context, saga *domain.OrderSaga) error {
	if err := c.inner.Create(ctx, saga); err != nil {
		return err
	}
	c.put(ctx, saga)
	return nil
}

// Load serves from cache when possible, falling back to the store.
func (c *RedisSagaCache) Load(ctx context.Context, orderID models.ID) (*domain.OrderSaga, error) {
	raw, err := c.client.Get(ctx, sagaCachePrefix+orderID.String()).Bytes()
	if err == nil {
		var cached cachedSaga
		if err := json.Unmarshal(raw, &cached); err == nil {
			return fromCached(&cached), nil
		}
		c.logger.Warn().Str("order_id", orderID.String()).Msg("dropping undecodable cache entry")
		c.evict(ctx, orderID)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Msg("saga cache read failed, falling back to store")
	}

	saga, err := c.inner.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, saga)
	return saga, nil
}

// Save writes through to the store; a version conflict evicts the stale
// cache entry so the retry reloads fresh state.
func (c *RedisSagaCache) Save(ctx context.Context, saga *domain.OrderSaga, expectedVersion int) error {
	if err := c.inner.Save(ctx, saga, expectedVersion); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			c.evict(ctx, saga.OrderID)
		}
		return err
	}
	c.put(ctx, saga)
	return nil
}

// FindUnfinished always hits the store; the sweeps need the authoritative
// view.
func (c *RedisSagaCache) FindUnfinished(ctx context.Context, updatedBefore time.Time) ([]*domain.OrderSaga, error) {
	return c.inner.FindUnfinished(ctx, updatedBefore)
}

func (c *RedisSagaCache) put(ctx context.Context, saga *domain.OrderSaga) {
	payload, err := json.Marshal(&cachedSaga{
		OrderID:   saga.OrderID.String(),
		State:     saga.State.String(),
		Data:      saga.Data,
		Version:   saga.Version.Value,
		CreatedAt: saga.Timestamps.CreatedAt,
		UpdatedAt: saga.Timestamps.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, sagaCachePrefix+saga.OrderID.String(), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("saga cache write failed")
	}
}

func (c *RedisSagaCache) evict(ctx context.Context, orderID models.ID) {
	if err := c.client.Del(ctx, sagaCachePrefix+orderID.String()).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("saga cache eviction failed")
	}
}

func fromCached(cached *cachedSaga) *domain.OrderSaga {
	return &domain.OrderSaga{
		OrderID: models.ID(cached.OrderID),
		State:   domain.State(cached.State),
		Data:    cached.Data,
		Timestamps: models.Timestamps{
			CreatedAt: cached.CreatedAt,
			UpdatedAt: cached.UpdatedAt,
		},
		Version: models.Version{Value: cached.Version},
	}
}
