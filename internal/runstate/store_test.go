package runstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"compintel/internal/config"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	older := Snapshot{RunID: "run-a", SeedURL: "https://a.test", Status: StatusCompleted, Visited: 3, StartedAt: time.Unix(100, 0).UTC()}
	newer := Snapshot{RunID: "run-b", SeedURL: "https://b.test", Status: StatusRunning, Pending: 2, StartedAt: time.Unix(200, 0).UTC()}

	for _, snap := range []Snapshot{older, newer} {
		if err := store.Save(ctx, snap); err != nil {
			t.Fatalf("save %s: %v", snap.RunID, err)
		}
	}

	got, ok, err := store.Get(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Visited != 3 || got.Status != StatusCompleted {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "run-b" {
		t.Fatalf("expected newest run first, got %+v", list)
	}

	if err := store.Remove(ctx, "run-a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "run-a"); ok {
		t.Fatalf("run-a should be gone")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:runs", time.Hour)
	defer store.Close()

	exerciseStore(t, store)

	if ttl := mr.TTL("test:runs"); ttl <= 0 {
		t.Fatalf("expected ttl on hash, got %v", ttl)
	}
}

func TestNewRedisStoreBlankAddr(t *testing.T) {
	store, err := NewRedisStore(context.Background(), config.RedisConfig{})
	if err != nil || store != nil {
		t.Fatalf("blank addr should disable the store, got %v %v", store, err)
	}
}

func TestNewRedisStoreConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	if err := store.Save(context.Background(), Snapshot{RunID: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists(defaultRedisKey) {
		t.Fatalf("default key not written")
	}
}
