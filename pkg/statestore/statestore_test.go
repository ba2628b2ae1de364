package statestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qsosync/platform/pkg/common/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type fakeStore struct {
	cursors map[string]int64
	reads   int
}

func (s *fakeStore) Cursor(_ context.Context, service string) (int64, error) {
	s.reads++
	return s.cursors[service], nil
}

func (s *fakeStore) SetCursor(_ context.Context, service string, cursor int64) error {
	s.cursors[service] = cursor
	return nil
}

type fakeCache struct {
	values  map[string]string
	broken  bool
	lastTTL time.Duration
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	if c.broken {
		return "", errors.New("connection refused")
	}
	value, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if c.broken {
		return errors.New("connection refused")
	}
	c.values[key] = value
	c.lastTTL = ttl
	return nil
}

func TestCachedReadThrough(t *testing.T) {
	inner := &fakeStore{cursors: map[string]int64{"wavelog": 42}}
	cached := &Cached{inner: inner, cache: &fakeCache{values: map[string]string{}}, ttl: time.Minute}

	for i := 0; i < 3; i++ {
		cursor, err := cached.Cursor(context.Background(), "wavelog")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cursor != 42 {
			t.Fatalf("expected 42, got %d", cursor)
		}
	}
	if inner.reads != 1 {
		t.Fatalf("expected one database read, got %d", inner.reads)
	}
}

func TestCachedWriteThrough(t *testing.T) {
	inner := &fakeStore{cursors: map[string]int64{}}
	cache := &fakeCache{values: map[string]string{}}
	cached := &Cached{inner: inner, cache: cache, ttl: time.Minute}

	if err := cached.SetCursor(context.Background(), "qrz", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.cursors["qrz"] != 100 {
		t.Fatal("database must hold the new cursor")
	}

	cursor, err := cached.Cursor(context.Background(), "qrz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cursor != 100 || inner.reads != 0 {
		t.Fatalf("expected cache hit with 100, got %d after %d reads", cursor, inner.reads)
	}
}

func TestCachedUsesConfiguredTTL(t *testing.T) {
	inner := &fakeStore{cursors: map[string]int64{}}
	cache := &fakeCache{values: map[string]string{}}
	cached := &Cached{inner: inner, cache: cache, ttl: 5 * time.Minute}

	if err := cached.SetCursor(context.Background(), "wavelog", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.lastTTL != 5*time.Minute {
		t.Fatalf("expected configured ttl on cache write, got %v", cache.lastTTL)
	}
}

func TestCachedFallsBackWhenCacheDown(t *testing.T) {
	inner := &fakeStore{cursors: map[string]int64{"pota": 7}}
	cached := &Cached{inner: inner, cache: &fakeCache{broken: true}, ttl: time.Minute}

	cursor, err := cached.Cursor(context.Background(), "pota")
	if err != nil {
		t.Fatalf("cache failure must not surface: %v", err)
	}
	if cursor != 7 {
		t.Fatalf("expected database value 7, got %d", cursor)
	}

	if err := cached.SetCursor(context.Background(), "pota", 9); err != nil {
		t.Fatalf("cache failure must not surface: %v", err)
	}
	if inner.cursors["pota"] != 9 {
		t.Fatal("database write must land despite cache failure")
	}
}
