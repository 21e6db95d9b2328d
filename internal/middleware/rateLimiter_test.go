package middleware

import (
	"testing"
	"time"
)

func TestAllowDrainsBurst(t *testing.T) {
	l := NewRatelimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("call %d should be allowed within the burst", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("call past the burst must be denied")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewRatelimiter(1, 10*time.Millisecond)

	if !l.Allow() {
		t.Fatal("first call should be allowed")
	}
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)

	if !l.Allow() {
		t.Fatal("elapsed time should have refilled a token")
	}
}

func TestRefillNeverExceedsBurst(t *testing.T) {
	l := NewRatelimiter(defaultBurst, time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	allowed := 0
	for i := 0; i < defaultBurst*3; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed > defaultBurst {
		t.Fatalf("refill exceeded burst ceiling: %d tokens granted", allowed)
	}
}
