package services

import (
	"testing"

	"github.com/google/uuid"
)

func TestRateLimiterEnforcesBurstPerUser(t *testing.T) {
	rl := NewRateLimiterService(testLogger(t), 1, 2)
	alice := uuid.New()
	bob := uuid.New()

	if !rl.AllowGeneration(alice) || !rl.AllowGeneration(alice) {
		t.Fatalf("burst of 2 should admit two starts")
	}
	if rl.AllowGeneration(alice) {
		t.Fatalf("third start within burst window should be rejected")
	}

	// Limits are per user; a different user has a fresh budget.
	if !rl.AllowGeneration(bob) {
		t.Fatalf("other user should not be throttled")
	}
}

func TestRateLimiterDisabledWhenNonPositive(t *testing.T) {
	rl := NewRateLimiterService(testLogger(t), 0, 1)
	userID := uuid.New()
	for i := 0; i < 50; i++ {
		if !rl.AllowGeneration(userID) {
			t.Fatalf("disabled limiter rejected start %d", i)
		}
	}
}
