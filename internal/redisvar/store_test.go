package redisvar

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client)
}

func TestGetLongDefault(t *testing.T) {
	s := newTestStore(t)
	v, err := s.GetLong(context.Background(), 1, "reward_time_g_40308", 3600)
	if err != nil {
		t.Fatalf("GetLong: %v", err)
	}
	if v != 3600 {
		t.Fatalf("missing key = %d, want default 3600", v)
	}
}

func TestSetGetLongRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SetLong(ctx, 1, "reward_time_g_40308", 1200); err != nil {
		t.Fatalf("SetLong: %v", err)
	}
	v, err := s.GetLong(ctx, 1, "reward_time_g_40308", 0)
	if err != nil {
		t.Fatalf("GetLong: %v", err)
	}
	if v != 1200 {
		t.Fatalf("GetLong = %d, want 1200", v)
	}
}

func TestBoolRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	given, err := s.GetBool(ctx, 1, "reward_given_newbie_44070", false)
	if err != nil || given {
		t.Fatalf("missing flag = %v %v, want false nil", given, err)
	}
	if err := s.SetBool(ctx, 1, "reward_given_newbie_44070", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	given, err = s.GetBool(ctx, 1, "reward_given_newbie_44070", false)
	if err != nil {
		t.Fatalf("GetBool: %v", err)
	}
	if !given {
		t.Fatal("flag should read back true")
	}
}

func TestKeysIsolatedPerPlayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SetLong(ctx, 1, "k", 5); err != nil {
		t.Fatalf("SetLong: %v", err)
	}
	v, err := s.GetLong(ctx, 2, "k", 0)
	if err != nil {
		t.Fatalf("GetLong: %v", err)
	}
	if v != 0 {
		t.Fatalf("player 2 sees player 1's value: %d", v)
	}
}

func TestGetLongCorruptValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.client.Set(ctx, s.key(1, "k"), "not-a-number", 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	v, err := s.GetLong(ctx, 1, "k", 7)
	if err == nil {
		t.Fatal("corrupt value should return an error")
	}
	if v != 7 {
		t.Fatalf("corrupt value = %d, want default 7", v)
	}
}
