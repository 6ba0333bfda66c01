// Package cache keeps each doctor's practice locations close to the service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

type Locations interface {
	Get(ctx context.Context, doctorID string) ([]model.Location, bool, error)
	Set(ctx context.Context, doctorID string, locs []model.Location) error
}

type RedisLocations struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisLocations(rdb redis.Cmdable, ttl time.Duration) *RedisLocations {
	return &RedisLocations{rdb: rdb, ttl: ttl, prefix: "availability:locations:"}
}

func (c *RedisLocations) Get(ctx context.Context, doctorID string) ([]model.Location, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+doctorID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var locs []model.Location
	if err := json.Unmarshal(raw, &locs); err != nil {
		return nil, false, err
	}
	return locs, true, nil
}

func (c *RedisLocations) Set(ctx context.Context, doctorID string, locs []model.Location) error {
	raw, err := json.Marshal(locs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+doctorID, raw, c.ttl).Err()
}

// LRULocations is the in-process variant used when no Redis is configured.
type LRULocations struct {
	lru *expirable.LRU[string, []model.Location]
}

func NewLRULocations(size int, ttl time.Duration) *LRULocations {
	if size <= 0 {
		size = 1024
	}
	return &LRULocations{lru: expirable.NewLRU[string, []model.Location](size, nil, ttl)}
}

func (c *LRULocations) Get(_ context.Context, doctorID string) ([]model.Location, bool, error) {
	locs, ok := c.lru.Get(doctorID)
	return locs, ok, nil
}

func (c *LRULocations) Set(_ context.Context, doctorID string, locs []model.Location) error {
	c.lru.Add(doctorID, locs)
	return nil
}

// Store serves FetchLocations from the cache and passes everything else through.
// Cache errors fall back to the underlying store.
type Store struct {
	manager.Store
	cache  Locations
	logger *slog.Logger
}

func Wrap(store manager.Store, cache Locations, logger *slog.Logger) *Store {
	return &Store{Store: store, cache: cache, logger: logger}
}

func (s *Store) FetchLocations(ctx context.Context, doctorID string) ([]model.Location, error) {
	locs, ok, err := s.cache.Get(ctx, doctorID)
	if err != nil {
		s.logger.Warn("location cache read failed", "doctor_id", doctorID, "err", err)
	}
	if ok {
		return locs, nil
	}
	locs, err = s.Store.FetchLocations(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, doctorID, locs); err != nil {
		s.logger.Warn("location cache write failed", "doctor_id", doctorID, "err", err)
	}
	return locs, nil
}
