package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/marketplace-relay/internal/types"
)

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCacheService(NewRedisCacheWithClient(client), time.Minute), mr
}

func TestCacheService_RoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	key := cache.PreferencesKey(types.ChainPolygon, types.EmailNewProposal, "abcd1234")
	cache.Set(ctx, key, map[string]bool{"0xaaa": true})

	var optedIn map[string]bool
	if !cache.Get(ctx, key, &optedIn) {
		t.Fatal("expected a cache hit")
	}
	if !optedIn["0xaaa"] {
		t.Errorf("unexpected cached value: %v", optedIn)
	}
}

func TestCacheService_Miss(t *testing.T) {
	cache, _ := newTestCache(t)

	var dest string
	if cache.Get(context.Background(), "prefs:137:unknown:unknown", &dest) {
		t.Error("expected a cache miss")
	}
}

func TestCacheService_TTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key := cache.PreferencesKey(types.ChainPolygon, types.EmailNewProposal, "abcd1234")
	cache.Set(ctx, key, map[string]bool{"0xaaa": true})

	mr.FastForward(2 * time.Minute)

	var dest map[string]bool
	if cache.Get(ctx, key, &dest) {
		t.Error("expected the entry to expire")
	}
}

func TestCacheService_CorruptPayloadIsAMiss(t *testing.T) {
	cache, mr := newTestCache(t)

	key := cache.PreferencesKey(types.ChainPolygon, types.EmailNewProposal, "abcd1234")
	mr.Set(key, "{not json")

	var dest map[string]bool
	if cache.Get(context.Background(), key, &dest) {
		t.Error("expected corrupt payload to read as a miss")
	}
}

func TestCacheKeys(t *testing.T) {
	cache, _ := newTestCache(t)

	got := cache.PreferencesKey(types.ChainMumbai, types.EmailProposalValidated, "DEADBEEF")
	if got != "prefs:80001:proposal_validated:deadbeef" {
		t.Errorf("unexpected preferences key: %q", got)
	}
}
