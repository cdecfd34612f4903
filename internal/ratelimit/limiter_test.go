package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_BurstPerIP(t *testing.T) {
	l := NewLimiter(0.001, 2)

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst requests should pass")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("third request should be limited")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("buckets must be per IP")
	}
	if d := l.RetryAfter("10.0.0.1"); d <= 0 {
		t.Fatalf("RetryAfter = %s, want a positive wait", d)
	}
}

func TestLimiter_SweepDropsIdleClients(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	l := New(Options{RPS: 1, Burst: 1, IdleTTL: 5 * time.Minute}).WithClock(func() time.Time { return now })

	l.Allow("10.0.0.1")
	now = now.Add(4 * time.Minute)
	l.Allow("10.0.0.2")

	now = now.Add(time.Minute)
	if left := l.Sweep(); left != 1 {
		t.Fatalf("Sweep kept %d clients, want 1", left)
	}
	if _, ok := l.clients["10.0.0.2"]; !ok {
		t.Fatal("recent client must survive the sweep")
	}

	// A dropped client starts over with a full bucket.
	if !l.Allow("10.0.0.1") {
		t.Fatal("swept client should get a fresh bucket")
	}
}

func TestLimiter_RunStopsWithContext(t *testing.T) {
	l := New(Options{RPS: 1, Burst: 1, SweepEvery: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
