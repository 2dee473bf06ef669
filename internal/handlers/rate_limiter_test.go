package handlers

import (
	"testing"
	"time"
)

func TestKeyedLimiter(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("user-1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	now = now.Add(20 * time.Second)
	ok, retry := limiter.Allow("user-1")
	if ok {
		t.Fatalf("third request should be rejected")
	}
	if retry != 10*time.Second {
		t.Fatalf("expected retry after 10s, got %s", retry)
	}
	if ok, _ := limiter.Allow("user-2"); !ok {
		t.Fatalf("keys are counted independently")
	}

	now = now.Add(10 * time.Second)
	if ok, _ := limiter.Allow("user-1"); !ok {
		t.Fatalf("one token should have refilled")
	}
	if ok, _ := limiter.Allow("user-1"); ok {
		t.Fatalf("bucket should be empty again")
	}
}

func TestKeyedLimiterRejectedRequestsDoNotConsume(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })

	if ok, _ := limiter.Allow("user-1"); !ok {
		t.Fatalf("first request should be allowed")
	}
	for i := 0; i < 5; i++ {
		if ok, _ := limiter.Allow("user-1"); ok {
			t.Fatalf("request %d should be rejected", i+2)
		}
	}
	now = now.Add(time.Minute)
	if ok, _ := limiter.Allow("user-1"); !ok {
		t.Fatalf("rejections must not push the refill back")
	}
}

func TestKeyedLimiterBlankKey(t *testing.T) {
	limiter := newSimpleRateLimiter(1, time.Hour, nil)
	if ok, _ := limiter.Allow(" "); !ok {
		t.Fatalf("first anonymous request should be allowed")
	}
	if ok, _ := limiter.Allow(""); ok {
		t.Fatalf("blank keys share the anonymous bucket")
	}
}

func TestNewSimpleRateLimiterDisabled(t *testing.T) {
	if newSimpleRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("zero limit should disable limiting")
	}
	if newSimpleRateLimiter(5, 0, nil) != nil {
		t.Fatalf("zero window should disable limiting")
	}
}
