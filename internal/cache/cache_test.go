package cache

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestGetReturnsLiveEntry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New[string](5 * time.Minute)
	c.SetClock(clock.Now)

	c.Set("k", "v")
	clock.t = clock.t.Add(4 * time.Minute)
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get() = %q, %v, want v, true", got, ok)
	}
}

func TestGetDropsExpiredEntry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New[string](5 * time.Minute)
	c.SetClock(clock.Now)

	c.Set("k", "v")
	clock.t = clock.t.Add(5 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("Get() hit after ttl elapsed")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestSetLastWriteWins(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("k", "first")
	c.Set("k", "second")
	if got, _ := c.Get("k"); got != "second" {
		t.Fatalf("Get() = %q, want second", got)
	}
}

func TestPurge(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New[int](time.Minute)
	c.SetClock(clock.Now)
	c.Set("old", 1)
	clock.t = clock.t.Add(2 * time.Minute)
	c.Set("new", 2)
	if n := c.Purge(); n != 1 {
		t.Fatalf("Purge() = %d, want 1", n)
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatalf("fresh entry was purged")
	}
}

func TestJanitorPurgesExpired(t *testing.T) {
	c := New[int](5 * time.Millisecond)
	c.Set("k", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	if n := c.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0", n)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	type payload struct {
		Model string   `json:"model"`
		Msgs  []string `json:"messages"`
	}
	a, err := Fingerprint(payload{Model: "m", Msgs: []string{"hi"}})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, _ := Fingerprint(payload{Model: "m", Msgs: []string{"hi"}})
	c, _ := Fingerprint(payload{Model: "m", Msgs: []string{"hello"}})
	if a != b {
		t.Fatalf("same payload produced different keys")
	}
	if a == c {
		t.Fatalf("different payloads collided")
	}
	if len(a) != 64 {
		t.Fatalf("len(key) = %d, want 64", len(a))
	}
}
