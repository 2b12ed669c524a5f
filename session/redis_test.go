package session

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })

	b, err := NewRedisBackend(client, "")
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	return b, mini
}

func TestRedisBackend_SaveLoadDelete(t *testing.T) {
	b, mini := newTestRedis(t)
	ctx := context.Background()

	rec := &Record{
		ID:      "abc",
		Expires: time.Now().Add(time.Hour).Truncate(time.Second),
		Values:  map[string][]byte{"auth.user": []byte(`{"sub":"123"}`)},
	}
	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mini.Exists(DefaultRedisKeyPrefix + "abc") {
		t.Fatal("key not written with default prefix")
	}
	if ttl := mini.TTL(DefaultRedisKeyPrefix + "abc"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("TTL: got %v", ttl)
	}

	got, err := b.Load(ctx, "abc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil")
	}
	if got.ID != "abc" || string(got.Values["auth.user"]) != `{"sub":"123"}` {
		t.Fatalf("Load: got %+v", got)
	}
	if !got.Expires.Equal(rec.Expires) {
		t.Fatalf("Expires: got %v want %v", got.Expires, rec.Expires)
	}

	if err := b.Delete(ctx, "abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = b.Load(ctx, "abc")
	if err != nil || got != nil {
		t.Fatalf("Load after Delete: got (%v, %v)", got, err)
	}
}

func TestRedisBackend_MissingKey(t *testing.T) {
	b, _ := newTestRedis(t)
	got, err := b.Load(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("Load: got (%v, %v) want (nil, nil)", got, err)
	}
}

func TestRedisBackend_CorruptRecordDropped(t *testing.T) {
	b, mini := newTestRedis(t)
	if err := mini.Set(DefaultRedisKeyPrefix+"bad", "\xff\xff not cbor"); err != nil {
		t.Fatalf("mini.Set: %v", err)
	}
	got, err := b.Load(context.Background(), "bad")
	if err != nil || got != nil {
		t.Fatalf("Load: got (%v, %v) want (nil, nil)", got, err)
	}
	if mini.Exists(DefaultRedisKeyPrefix + "bad") {
		t.Fatal("corrupt record not removed")
	}
}

func TestRedisBackend_ExpiredSaveDeletes(t *testing.T) {
	b, mini := newTestRedis(t)
	ctx := context.Background()
	_ = b.Save(ctx, &Record{ID: "x", Expires: time.Now().Add(time.Hour)})
	if err := b.Save(ctx, &Record{ID: "x", Expires: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if mini.Exists(DefaultRedisKeyPrefix + "x") {
		t.Fatal("expired record still stored")
	}
}

func TestRedisBackend_TTLExpiry(t *testing.T) {
	b, mini := newTestRedis(t)
	ctx := context.Background()
	_ = b.Save(ctx, &Record{ID: "t", Expires: time.Now().Add(time.Minute)})
	mini.FastForward(2 * time.Minute)
	got, err := b.Load(ctx, "t")
	if err != nil || got != nil {
		t.Fatalf("Load after TTL: got (%v, %v)", got, err)
	}
}

func TestRedisBackend_WithProcessor(t *testing.T) {
	b, _ := newTestRedis(t)
	p := newTestProcessor(t, b)

	resp := serve(t, p, nil, func(ctx context.Context, s Session) error {
		return s.Set(ctx, "k", []byte("v"))
	})
	c := sessionCookie(resp)
	if c == nil {
		t.Fatal("no cookie")
	}
	serve(t, p, []*http.Cookie{c}, func(ctx context.Context, s Session) error {
		if v, ok := s.Get("k"); !ok || string(v) != "v" {
			t.Errorf("Get: got (%q,%v)", v, ok)
		}
		return nil
	})
}

func TestNewRedisBackend_RequiresClient(t *testing.T) {
	if _, err := NewRedisBackend(nil, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
}
