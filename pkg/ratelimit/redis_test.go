package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// redisAddr returns the address of a Redis server for integration tests,
// skipping the test when none is configured.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("KEYWEAVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KEYWEAVE_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestRedisLimiter_Defaults(t *testing.T) {
	r := NewRedisLimiter(nil, RedisOptions{})
	if r.window != DefaultWindow {
		t.Errorf("window = %v, want %v", r.window, DefaultWindow)
	}
	if got := r.redisKey("key-a"); got != DefaultRedisPrefix+"key-a" {
		t.Errorf("redisKey() = %q", got)
	}
}

func TestRedisLimiter_UnconfiguredKeyIsRefusedLocally(t *testing.T) {
	// No client is needed: unknown keys never reach Redis.
	r := NewRedisLimiter(nil, RedisOptions{})
	_, ok, err := r.TryReserve(context.Background(), "missing")
	if ok || err != nil {
		t.Errorf("TryReserve() = %v, %v; want false, nil", ok, err)
	}
	if err := r.Release(context.Background(), Reservation{KeyID: "missing"}); err != ErrUnknownKey {
		t.Errorf("Release() error = %v, want ErrUnknownKey", err)
	}
}

func TestRedisLimiter_Integration(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()

	r := DialRedis(addr, "", 0, RedisOptions{
		Window:  2 * time.Second,
		Prefix:  "keyweave-test:" + uuid.NewString() + ":",
		Timeout: time.Second,
	})
	defer r.Close()

	if err := r.Ping(ctx); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	r.Configure(map[string]int{"c": 5})
	defer r.Reset(ctx)

	var reserved []Reservation
	for i := 0; i < 6; i++ {
		res, ok, err := r.TryReserve(ctx, "c")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			if res.ID == "" || res.KeyID != "c" {
				t.Errorf("reservation = %+v", res)
			}
			reserved = append(reserved, res)
		}
	}
	if len(reserved) != 5 {
		t.Fatalf("accepted %d, want 5", len(reserved))
	}

	if err := r.Release(ctx, reserved[0]); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(ctx, reserved[0]); err != nil {
		t.Fatal(err)
	}
	if n, err := r.Remaining(ctx, "c"); err != nil || n != 1 {
		t.Errorf("Remaining() = %d, %v; want 1", n, err)
	}

	time.Sleep(2100 * time.Millisecond)
	if n, _ := r.Remaining(ctx, "c"); n != 5 {
		t.Errorf("Remaining() after window = %d, want 5", n)
	}
}
