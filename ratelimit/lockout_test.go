package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestGuardLocksAtThreshold(t *testing.T) {
	client, _ := newTestRedis(t)
	guard := NewGuard(client, "test", 3, 15*time.Minute, 0)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		status, err := guard.RecordFailure(ctx, "alice")
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		if status.Locked {
			t.Fatalf("locked after %d failures", i)
		}
		if status.Failures != i {
			t.Fatalf("failures %d, want %d", status.Failures, i)
		}
	}

	status, err := guard.RecordFailure(ctx, "alice")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !status.Locked {
		t.Fatal("third failure did not lock")
	}
	if status.LockedUntil.Before(time.Now()) {
		t.Fatalf("implausible LockedUntil %s", status.LockedUntil)
	}

	got, err := guard.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !got.Locked {
		t.Fatal("Status does not report the lock")
	}
}

func TestGuardLockExpires(t *testing.T) {
	client, mr := newTestRedis(t)
	guard := NewGuard(client, "test", 1, time.Minute, 0)
	ctx := context.Background()

	if status, _ := guard.RecordFailure(ctx, "bob"); !status.Locked {
		t.Fatal("single-failure threshold did not lock")
	}

	mr.FastForward(2 * time.Minute)

	status, err := guard.Status(ctx, "bob")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Locked {
		t.Fatal("lock survived its duration")
	}
}

func TestGuardReset(t *testing.T) {
	client, _ := newTestRedis(t)
	guard := NewGuard(client, "test", 2, time.Minute, 0)
	ctx := context.Background()

	_, _ = guard.RecordFailure(ctx, "carol")
	if err := guard.Reset(ctx, "carol"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	status, err := guard.Status(ctx, "carol")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Failures != 0 || status.Locked {
		t.Fatalf("state survived reset: %+v", status)
	}

	// Counter restarts from scratch after reset.
	if status, _ := guard.RecordFailure(ctx, "carol"); status.Locked {
		t.Fatal("locked on first failure after reset")
	}
}

func TestGuardAccountsAreIndependent(t *testing.T) {
	client, _ := newTestRedis(t)
	guard := NewGuard(client, "test", 1, time.Minute, 0)
	ctx := context.Background()

	if status, _ := guard.RecordFailure(ctx, "dave"); !status.Locked {
		t.Fatal("dave not locked")
	}
	status, err := guard.Status(ctx, "erin")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Locked || status.Failures != 0 {
		t.Fatalf("erin affected by dave's lock: %+v", status)
	}
}
