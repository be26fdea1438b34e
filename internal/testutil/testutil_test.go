package testutil

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 3, 2, 6, 59, 30, 0, time.UTC)
	clock := NewFakeClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	clock.Advance(30 * time.Second)
	if got, want := clock.Now(), start.Add(30*time.Second); !got.Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", got, want)
	}

	nextWeek := start.AddDate(0, 0, 7)
	clock.Set(nextWeek)
	if got := clock.Now(); !got.Equal(nextWeek) {
		t.Errorf("after Set, Now() = %v, want %v", got, nextWeek)
	}
}

func TestTestContext(t *testing.T) {
	deadline, ok := TestContext(t).Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 5*time.Second {
		t.Errorf("remaining = %v, want (0, 5s]", remaining)
	}
}

func TestMustParseUUID(t *testing.T) {
	const s = "7d3f1c2e-0b4a-4c5d-9e6f-112233445566"
	if got := MustParseUUID(s).String(); got != s {
		t.Errorf("MustParseUUID(%q) = %s", s, got)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for malformed uuid")
		}
	}()
	MustParseUUID("alarm-1")
}

func TestNewRedis(t *testing.T) {
	srv, client := NewRedis(t)
	ctx := TestContext(t)

	if err := client.ZAdd(ctx, "alarms:due", redis.Z{Score: 1700000000000, Member: "a1"}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	members, err := srv.ZMembers("alarms:due")
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "a1" {
		t.Errorf("members = %v, want [a1]", members)
	}
}

func TestLogger(t *testing.T) {
	Logger(t).Named("testutil").Infow("logger wired", "alarm_id", "a1")
}
