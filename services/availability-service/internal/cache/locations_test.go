package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/model"
)

type countingStore struct {
	manager.Store
	calls int
	err   error
}

func (s *countingStore) FetchLocations(ctx context.Context, doctorID string) ([]model.Location, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []model.Location{{ID: "loc-" + doctorID, Name: "Main"}}, nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]model.Location, bool, error) {
	return nil, false, errors.New("redis down")
}

func (brokenCache) Set(context.Context, string, []model.Location) error {
	return errors.New("redis down")
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStore_CachesLocationsPerDoctor(t *testing.T) {
	inner := &countingStore{}
	s := Wrap(inner, NewLRULocations(8, time.Minute), discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		locs, err := s.FetchLocations(ctx, "doc-1")
		if err != nil || len(locs) != 1 || locs[0].ID != "loc-doc-1" {
			t.Fatalf("unexpected locations %+v %v", locs, err)
		}
	}
	if _, err := s.FetchLocations(ctx, "doc-2"); err != nil {
		t.Fatalf("FetchLocations: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 store calls, got %d", inner.calls)
	}
}

func TestStore_ExpiredEntriesRefetch(t *testing.T) {
	inner := &countingStore{}
	s := Wrap(inner, NewLRULocations(8, 20*time.Millisecond), discard())
	ctx := context.Background()

	_, _ = s.FetchLocations(ctx, "doc-1")
	time.Sleep(60 * time.Millisecond)
	_, _ = s.FetchLocations(ctx, "doc-1")
	if inner.calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", inner.calls)
	}
}

func TestStore_CacheFailureFallsBack(t *testing.T) {
	inner := &countingStore{}
	s := Wrap(inner, brokenCache{}, discard())
	locs, err := s.FetchLocations(context.Background(), "doc-1")
	if err != nil || len(locs) != 1 {
		t.Fatalf("expected store fallback, got %+v %v", locs, err)
	}

	inner.err = errors.New("db down")
	if _, err := s.FetchLocations(context.Background(), "doc-1"); err == nil {
		t.Fatal("expected store error")
	}
}
