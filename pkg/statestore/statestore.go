package statestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/qsosync/platform/pkg/common/logger"
)

// ServiceState is one service's persisted sync position. Cursor is the
// service's native watermark in epoch milliseconds; a zero cursor means the
// next fetch starts from the beginning.
type ServiceState struct {
	Service    string    `gorm:"column:service;primaryKey"`
	Cursor     int64     `gorm:"column:cursor;not null;default:0"`
	LastSyncAt time.Time `gorm:"column:last_sync_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (ServiceState) TableName() string {
	return "service_state"
}

// Store is what the orchestrator needs from sync-position persistence.
type Store interface {
	Cursor(ctx context.Context, service string) (int64, error)
	SetCursor(ctx context.Context, service string, cursor int64) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ServiceState{})
}

func (r *Repository) Cursor(ctx context.Context, service string) (int64, error) {
	var state ServiceState
	err := r.db.WithContext(ctx).First(&state, "service = ?", service).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return state.Cursor, nil
}

func (r *Repository) SetCursor(ctx context.Context, service string, cursor int64) error {
	state := ServiceState{
		Service:    service,
		Cursor:     cursor,
		LastSyncAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Save(&state).Error
}

// defaultCacheTTL bounds staleness when another process writes the cursor
// directly and no TTL was configured.
const defaultCacheTTL = time.Hour

// kvCache is the slice of redis the cached store uses.
type kvCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

func (c redisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Cached wraps a Store with a read-through cursor cache. Cache failures are
// logged and fall back to the database; the cache is never authoritative.
type Cached struct {
	inner Store
	cache kvCache
	ttl   time.Duration
}

func NewCached(inner Store, client *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{inner: inner, cache: redisCache{client: client}, ttl: ttl}
}

func cursorKey(service string) string {
	return "sync:cursor:" + service
}

func (c *Cached) Cursor(ctx context.Context, service string) (int64, error) {
	if value, err := c.cache.Get(ctx, cursorKey(service)); err == nil {
		if cursor, perr := strconv.ParseInt(value, 10, 64); perr == nil {
			return cursor, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Log.WithError(err).WithField("service", service).Warn("cursor cache read failed")
	}

	cursor, err := c.inner.Cursor(ctx, service)
	if err != nil {
		return 0, err
	}
	if err := c.cache.Set(ctx, cursorKey(service), strconv.FormatInt(cursor, 10), c.ttl); err != nil {
		logger.Log.WithError(err).WithField("service", service).Warn("cursor cache fill failed")
	}
	return cursor, nil
}

func (c *Cached) SetCursor(ctx context.Context, service string, cursor int64) error {
	if err := c.inner.SetCursor(ctx, service, cursor); err != nil {
		return err
	}
	if err := c.cache.Set(ctx, cursorKey(service), strconv.FormatInt(cursor, 10), c.ttl); err != nil {
		logger.Log.WithError(err).WithField("service", service).Warn("cursor cache write failed")
	}
	return nil
}
