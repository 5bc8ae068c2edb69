package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newSession(id string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Token:     &oauth2.Token{AccessToken: "access-" + id, RefreshToken: "refresh-" + id},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemoryStore_Basic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100, 0.001)

	if _, err := store.Get(ctx, "session1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Empty store should not have any sessions, got err=%v", err)
	}

	if err := store.Save(ctx, newSession("session1", time.Hour)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	got, err := store.Get(ctx, "session1")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if got.Token.AccessToken != "access-session1" {
		t.Errorf("Expected access token access-session1, got %s", got.Token.AccessToken)
	}

	// Saving the same id again replaces it
	updated := newSession("session1", time.Hour)
	updated.Token.AccessToken = "rotated"
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	if size, _ := store.Size(ctx); size != 1 {
		t.Errorf("Store size should still be 1 after replacing a session, got %d", size)
	}

	got, _ = store.Get(ctx, "session1")
	if got.Token.AccessToken != "rotated" {
		t.Errorf("Expected rotated token, got %s", got.Token.AccessToken)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0.001)
	_ = store.Save(ctx, newSession("s", time.Hour))

	got, _ := store.Get(ctx, "s")
	got.ID = "changed"

	again, err := store.Get(ctx, "s")
	if err != nil || again.ID != "s" {
		t.Errorf("Mutating a returned session should not affect the store, got %+v err=%v", again, err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0.001)
	_ = store.Save(ctx, newSession("s", time.Hour))

	if err := store.Delete(ctx, "s"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, "s"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Deleted session should not be found, got err=%v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("Deleting an unknown session should not fail, got %v", err)
	}
}

func TestMemoryStore_ExpiredSessionNotReturned(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0.001)
	_ = store.Save(ctx, newSession("old", -time.Minute))

	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expired session should not be returned, got err=%v", err)
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0.001)
	_ = store.Save(ctx, newSession("old1", -time.Minute))
	_ = store.Save(ctx, newSession("old2", -time.Hour))
	_ = store.Save(ctx, newSession("fresh", time.Hour))

	purged, err := store.PurgeExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("PurgeExpired() unexpected error: %v", err)
	}
	if purged != 2 {
		t.Errorf("Expected 2 purged sessions, got %d", purged)
	}
	if size, _ := store.Size(ctx); size != 1 {
		t.Errorf("Expected 1 remaining session, got %d", size)
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Errorf("Fresh session should survive purge, got %v", err)
	}
}

func TestMemoryStore_MaxCapacity(t *testing.T) {
	ctx := context.Background()
	capacity := 5
	store := NewMemoryStore(capacity, 0.001)

	for i := 0; i < capacity+3; i++ {
		_ = store.Save(ctx, newSession(fmt.Sprintf("session%d", i), time.Hour))
	}

	if size, _ := store.Size(ctx); size != capacity {
		t.Errorf("Store size should be %d, got %d", capacity, size)
	}

	for _, id := range []string{"session5", "session6", "session7"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Errorf("Store should have recent session %s, got %v", id, err)
		}
	}

	for _, id := range []string{"session0", "session1", "session2"} {
		if _, err := store.Get(ctx, id); err == nil {
			t.Errorf("Store should have evicted session %s", id)
		}
	}
}

func TestMemoryStore_GetRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, 0.001)

	_ = store.Save(ctx, newSession("a", time.Hour))
	_ = store.Save(ctx, newSession("b", time.Hour))
	_, _ = store.Get(ctx, "a")
	_ = store.Save(ctx, newSession("c", time.Hour))

	if _, err := store.Get(ctx, "a"); err != nil {
		t.Errorf("Recently read session a should survive eviction, got %v", err)
	}
	if _, err := store.Get(ctx, "b"); err == nil {
		t.Error("Least recently used session b should have been evicted")
	}
}

func TestMemoryStore_Close(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0.001)
	_ = store.Save(ctx, newSession("s", time.Hour))

	if err := store.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if size, _ := store.Size(ctx); size != 0 {
		t.Errorf("Store size should be 0 after close, got %d", size)
	}
}

func BenchmarkMemoryStore_Get(b *testing.B) {
	ctx := context.Background()
	store := NewMemoryStore(10000, 0.001)
	for i := 0; i < 1000; i++ {
		_ = store.Save(ctx, newSession(fmt.Sprintf("session_%d", i), time.Hour))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Get(ctx, fmt.Sprintf("session_%d", i%2000))
	}
}
