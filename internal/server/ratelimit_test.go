package server

import (
	"testing"
	"time"
)

func configureRateLimit(t *testing.T, messages int, window time.Duration) {
	t.Helper()
	cfg := NewConfig()
	cfg.RateLimit.Messages = messages
	cfg.RateLimit.Window = window
	SetConfig(cfg)
	t.Cleanup(func() {
		SetConfig(nil)
	})
}

// TestRateWindowBoundary verifies the fixed-window contract: with a limit of
// 5 per 60s, six messages inside one window allow the first five and deny the
// sixth, and a message after the window expires is allowed again.
func TestRateWindowBoundary(t *testing.T) {
	configureRateLimit(t, 5, 60*time.Second)
	ml := newMessageLimiter()

	base := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		if !ml.tryConsume("alice", now) {
			t.Fatalf("Message %d within the limit was denied", i+1)
		}
	}

	if ml.tryConsume("alice", base.Add(5*time.Second)) {
		t.Error("Sixth message within the window was allowed")
	}

	if !ml.tryConsume("alice", base.Add(61*time.Second)) {
		t.Error("Message after the window expired was denied")
	}
}

// TestRateWindowCountsAttempts verifies the documented policy that denied
// attempts keep counting: the window resets relative to the first attempt in
// it, accepted or not.
func TestRateWindowCountsAttempts(t *testing.T) {
	configureRateLimit(t, 2, 10*time.Second)
	ml := newMessageLimiter()

	base := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

	ml.tryConsume("bob", base)
	ml.tryConsume("bob", base.Add(time.Second))
	if ml.tryConsume("bob", base.Add(2*time.Second)) {
		t.Fatal("Third message within the window was allowed")
	}

	// The denied attempt did not open a new window: the original window
	// still expires 10s after the first message.
	if !ml.tryConsume("bob", base.Add(10*time.Second)) {
		t.Error("Message at the window boundary was denied")
	}
}

// TestRateLimiterIsolatesIdentities verifies that one identity's throttling
// never affects another's.
func TestRateLimiterIsolatesIdentities(t *testing.T) {
	configureRateLimit(t, 1, time.Minute)
	ml := newMessageLimiter()

	now := time.Now()
	if !ml.tryConsume("carol", now) {
		t.Fatal("First message from carol was denied")
	}
	if ml.tryConsume("carol", now) {
		t.Error("Second message from carol was allowed")
	}
	if !ml.tryConsume("dave", now) {
		t.Error("First message from dave was denied by carol's window")
	}
}

// TestForgetDropsEntry verifies the leak-free teardown behavior: after
// forget, the identity starts a clean window and the entry is gone from the
// store.
func TestForgetDropsEntry(t *testing.T) {
	configureRateLimit(t, 5, time.Minute)
	ml := newMessageLimiter()

	now := time.Now()
	for i := 0; i < 6; i++ {
		ml.tryConsume("erin", now)
	}
	if ml.tryConsume("erin", now) {
		t.Fatal("Identity over the limit was allowed")
	}
	if !ml.tracks("erin") {
		t.Fatal("Entry missing before forget")
	}

	ml.forget("erin")
	if ml.tracks("erin") {
		t.Fatal("Entry still present after forget")
	}

	// A reconnect under the same identity gets a full fresh window.
	for i := 0; i < 5; i++ {
		if !ml.tryConsume("erin", now) {
			t.Fatalf("Message %d after forget was denied; denied state carried over", i+1)
		}
	}
}
