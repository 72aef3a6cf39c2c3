package initguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemory_AcquireRelease(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()
	key := Key("client-1", "doc-1")

	release, err := g.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := g.Acquire(ctx, key); !errors.Is(err, ErrHeld) {
		t.Errorf("second Acquire = %v, want ErrHeld", err)
	}
	if _, err := g.Acquire(ctx, Key("client-1", "doc-2")); err != nil {
		t.Errorf("Acquire for another doctor: %v", err)
	}

	release()
	release()
	if g.Held(key) {
		t.Error("key still held after release")
	}
	if _, err := g.Acquire(ctx, key); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
}

// fakeRedis implements RedisClient over a map, interpreting the two scripts
// by their argument counts.
type fakeRedis struct {
	mu      sync.Mutex
	vals    map[string]string
	setErr  error
	evals   int
	refresh int
}

func newFakeRedis() *fakeRedis { return &fakeRedis{vals: map[string]string{}} }

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.vals[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.vals[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.vals[keys[0]] != args[0] {
		return redis.NewCmdResult(int64(0), nil)
	}
	if script == refreshScript {
		f.refresh++
		return redis.NewCmdResult(int64(1), nil)
	}
	delete(f.vals, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vals[key]
	return ok
}

func TestRedis_AcquireRelease(t *testing.T) {
	fake := newFakeRedis()
	g := NewRedis(fake, WithPrefix("test:"))
	ctx := context.Background()

	release, err := g.Acquire(ctx, "c/d")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !fake.has("test:c/d") {
		t.Fatal("key not written with prefix")
	}
	if _, err := g.Acquire(ctx, "c/d"); !errors.Is(err, ErrHeld) {
		t.Errorf("second Acquire = %v, want ErrHeld", err)
	}

	release()
	release()
	if fake.has("test:c/d") {
		t.Error("key still present after release")
	}
}

func TestRedis_ReleaseKeepsForeignHold(t *testing.T) {
	fake := newFakeRedis()
	g := NewRedis(fake, WithPrefix(""))

	release, err := g.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// The hold expired and another replica took it.
	fake.mu.Lock()
	fake.vals["k"] = "someone-else"
	fake.mu.Unlock()

	release()
	if !fake.has("k") {
		t.Error("release deleted another holder's key")
	}
}

func TestRedis_Refreshes(t *testing.T) {
	fake := newFakeRedis()
	g := NewRedis(fake, WithTTL(30*time.Millisecond))

	release, err := g.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	release()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.refresh == 0 {
		t.Error("hold was never refreshed")
	}
}

func TestRedis_TTLBounds(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"default on zero", 0, 30 * time.Second},
		{"default on negative", -time.Second, 30 * time.Second},
		{"raised to floor", 2 * time.Nanosecond, 3 * minRefresh},
		{"kept", 5 * time.Second, 5 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewRedis(newFakeRedis(), WithTTL(tc.ttl))
			if g.ttl != tc.want {
				t.Errorf("ttl = %v, want %v", g.ttl, tc.want)
			}
		})
	}
}

func TestRedis_TinyTTLHolds(t *testing.T) {
	fake := newFakeRedis()
	g := NewRedis(fake, WithTTL(time.Nanosecond))

	release, err := g.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	release()
	if fake.has("k") {
		t.Error("key still present after release")
	}
}

func TestRedis_AcquireError(t *testing.T) {
	fake := newFakeRedis()
	fake.setErr = errors.New("connection refused")
	g := NewRedis(fake)

	_, err := g.Acquire(context.Background(), "k")
	if err == nil || errors.Is(err, ErrHeld) {
		t.Errorf("err = %v, want wrapped transport error", err)
	}
}
