package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterEnforcesLimit(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
	now := time.Now()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "owner-1", now)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := limiter.Allow(context.Background(), "owner-1", now)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatalf("third request should be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after")
	}
}

func TestMemoryLimiterResetsAfterWindow(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	now := time.Now()

	if allowed, _, _ := limiter.Allow(context.Background(), "owner-1", now); !allowed {
		t.Fatalf("first request should be allowed")
	}
	if allowed, _, _ := limiter.Allow(context.Background(), "owner-1", now); allowed {
		t.Fatalf("second request should be denied")
	}
	if allowed, _, _ := limiter.Allow(context.Background(), "owner-1", now.Add(time.Minute)); !allowed {
		t.Fatalf("request after window should be allowed")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	now := time.Now()

	if allowed, _, _ := limiter.Allow(context.Background(), "owner-1", now); !allowed {
		t.Fatalf("owner-1 should be allowed")
	}
	if allowed, _, _ := limiter.Allow(context.Background(), "owner-2", now); !allowed {
		t.Fatalf("owner-2 should be allowed")
	}
}
