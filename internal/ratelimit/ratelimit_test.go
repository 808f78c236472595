package ratelimit_test

import (
	"testing"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/ratelimit"
)

func TestAllow_Budget(t *testing.T) {
	l := ratelimit.New(3, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, wantRemaining := range []int{2, 1, 0} {
		d := l.AllowAt("alice", now)
		if !d.Allowed || d.Remaining != wantRemaining || d.Limit != 3 {
			t.Fatalf("AllowAt() #%d = %+v, want allowed with %d remaining", i+1, d, wantRemaining)
		}
	}

	d := l.AllowAt("alice", now)
	if d.Allowed {
		t.Fatal("AllowAt() #4 allowed, want refused")
	}
	if d.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %v, want 20s", d.RetryAfter)
	}
	if !d.Reset.Equal(now.Add(time.Minute)) {
		t.Errorf("Reset = %v, want %v", d.Reset, now.Add(time.Minute))
	}

	// Other callers have their own bucket.
	if d := l.AllowAt("bob", now); !d.Allowed {
		t.Error("AllowAt(bob) refused")
	}

	// One token refills every 20s.
	if d := l.AllowAt("alice", now.Add(20*time.Second)); !d.Allowed {
		t.Errorf("AllowAt() after refill = %+v", d)
	}
}

func TestAllow_RefusedDoesNotConsume(t *testing.T) {
	l := ratelimit.New(1, time.Second)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l.AllowAt("k", now)
	for i := 0; i < 5; i++ {
		if d := l.AllowAt("k", now); d.Allowed {
			t.Fatal("AllowAt() allowed over budget")
		}
	}
	if d := l.AllowAt("k", now.Add(time.Second)); !d.Allowed {
		t.Errorf("AllowAt() after one window = %+v, want allowed", d)
	}
}

func TestNew_Defaults(t *testing.T) {
	if got := ratelimit.New(0, 0).Limit(); got != ratelimit.DefaultLimit {
		t.Errorf("Limit() = %d, want %d", got, ratelimit.DefaultLimit)
	}
}
