package cachestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/rastertiled/internal/resource"
)

func openTestStore(t *testing.T, limit int64) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Path: filepath.Join(dir, "test.cache"), SizeLimit: limit})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingKeySynthesizesNotFound(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	resp, err := s.Get(ctx, resource.Key{Kind: resource.Style, URL: "https://example.com/style.json"})
	if err != nil {
		t.Fatalf("Get returned error, want nil: %v", err)
	}
	if !resp.NoContent {
		t.Error("expected NoContent = true")
	}
	if resp.Error == nil || resp.Error.Kind != NotFound {
		t.Errorf("expected NotFound error, got %+v", resp.Error)
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	key := resource.Key{Kind: resource.RasterTile, URL: "tile", Tile: resource.TileCoord{Z: 1, X: 2, Y: 3, Present: true}}

	now := time.Now()
	data := []byte{1, 2, 3, 4}
	err := s.Put(ctx, key, CachedResponse{Data: data, Modified: &now})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	resp, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Data) != string(data) {
		t.Errorf("Data = %v, want %v", resp.Data, data)
	}
	if !resp.IsUsable() {
		t.Error("expected fresh entry to be usable")
	}
}

func TestEvictionBound(t *testing.T) {
	const limit = 1 << 20 // 1 MiB
	s := openTestStore(t, limit)
	ctx := context.Background()

	blob := make([]byte, 512*1024) // 512 KiB per tile -> 8 tiles = 4 MiB total
	for i := 0; i < 8; i++ {
		key := resource.Key{Kind: resource.RasterTile, URL: "t", Tile: resource.TileCoord{Z: 1, X: uint32(i), Y: 0, Present: true}}
		now := time.Now().Add(time.Duration(i) * time.Millisecond)
		if err := s.Put(ctx, key, CachedResponse{Data: blob, Modified: &now}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	size, err := s.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size > limit {
		t.Errorf("store size %d exceeds limit %d", size, limit)
	}
}

func TestEvictionDropsEarliestFirst(t *testing.T) {
	const limit = 600 * 1024
	s := openTestStore(t, limit)
	ctx := context.Background()

	blob := make([]byte, 512*1024)
	first := resource.Key{Kind: resource.RasterTile, URL: "t", Tile: resource.TileCoord{Z: 1, X: 0, Y: 0, Present: true}}
	t0 := time.Now()
	if err := s.Put(ctx, first, CachedResponse{Data: blob, Modified: &t0}); err != nil {
		t.Fatalf("Put first: %v", err)
	}

	second := resource.Key{Kind: resource.RasterTile, URL: "t", Tile: resource.TileCoord{Z: 1, X: 1, Y: 0, Present: true}}
	t1 := t0.Add(time.Second)
	if err := s.Put(ctx, second, CachedResponse{Data: blob, Modified: &t1}); err != nil {
		t.Fatalf("Put second: %v", err)
	}

	resp, err := s.Get(ctx, first)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Error == nil || resp.Error.Kind != NotFound {
		t.Error("expected earliest-modified entry to have been evicted")
	}

	resp, err = s.Get(ctx, second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Error != nil {
		t.Error("expected most-recent entry to survive eviction")
	}
}

func TestPauseDefersRequestsUntilResume(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	if err := s.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	key := resource.Key{Kind: resource.Style, URL: "s"}
	done := make(chan error, 1)
	go func() {
		done <- s.Put(context.Background(), key, CachedResponse{Data: []byte("x")})
	}()

	select {
	case <-done:
		t.Fatal("put completed while store was paused")
	case <-time.After(50 * time.Millisecond):
	}

	if err := s.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Put after resume: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("put did not complete after resume")
	}
}
