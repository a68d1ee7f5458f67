package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestClaimOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "event", time.Hour)
	ctx := context.Background()

	first, err := store.Claim(ctx, "msg-123")
	if err != nil || !first {
		t.Fatalf("first claim: first=%v err=%v", first, err)
	}

	second, err := store.Claim(ctx, "msg-123")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if second {
		t.Fatal("duplicate key claimed twice")
	}
}

func TestClaimExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "event", time.Minute)
	ctx := context.Background()

	if first, _ := store.Claim(ctx, "msg-9"); !first {
		t.Fatal("first claim failed")
	}
	mr.FastForward(2 * time.Minute)
	if again, _ := store.Claim(ctx, "msg-9"); !again {
		t.Fatal("key did not expire after TTL")
	}
}
