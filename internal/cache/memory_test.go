package cache

import (
	"testing"
	"time"

	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
)

func testClock(t *testing.T) *clock.Fake {
	t.Helper()
	return clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestSafeKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"ip_192.168.0.1", "ip_192.168.0.1"},
		{"ip_2001:db8::1", "ip_2001_db8_1"},
		{"we!rd name", "we_rd_name"},
		{"a..b", "a..b"},
	}
	for _, c := range cases {
		if got := SafeKey(c.in); got != c.want {
			t.Errorf("SafeKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	clk := testClock(t)
	m := NewMemory(clk)

	if err := m.Set("k", Entry{Value: []byte("v"), ExpiresAt: clk.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, ok, err := m.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(e.Value) != "v" {
		t.Errorf("got %q, want %q", e.Value, "v")
	}
}

func TestMemoryMiss(t *testing.T) {
	m := NewMemory(testClock(t))
	if _, ok, err := m.Get("absent"); err != nil || ok {
		t.Errorf("Get(absent) = ok=%t err=%v, want miss", ok, err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	clk := testClock(t)
	m := NewMemory(clk)

	if err := m.Set("k", Entry{Value: []byte("v"), ExpiresAt: clk.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	clk.Advance(59 * time.Second)
	if _, ok, _ := m.Get("k"); !ok {
		t.Error("entry expired early")
	}

	clk.Advance(2 * time.Second)
	if _, ok, _ := m.Get("k"); ok {
		t.Error("entry should have expired")
	}
}

func TestMemoryZeroExpiryNeverExpires(t *testing.T) {
	clk := testClock(t)
	m := NewMemory(clk)

	if err := m.Set("k", Entry{Value: []byte("v")}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(1000 * time.Hour)
	if _, ok, _ := m.Get("k"); !ok {
		t.Error("zero-expiry entry must not expire")
	}
}

func TestMemoryKeysSkipsExpired(t *testing.T) {
	clk := testClock(t)
	m := NewMemory(clk)

	m.Set("live", Entry{Value: []byte("1"), ExpiresAt: clk.Now().Add(time.Hour)})
	m.Set("dead", Entry{Value: []byte("2"), ExpiresAt: clk.Now().Add(time.Second)})
	clk.Advance(time.Minute)

	keys, err := m.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "live" {
		t.Errorf("Keys() = %v, want [live]", keys)
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	clk := testClock(t)
	m := NewMemory(clk)

	m.Set("a", Entry{Value: []byte("1")})
	m.Set("b", Entry{Value: []byte("2")})

	if err := m.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get("a"); ok {
		t.Error("deleted key still present")
	}
	if err := m.Delete("a"); err != nil {
		t.Errorf("deleting a missing key should not error, got %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	keys, _ := m.Keys()
	if len(keys) != 0 {
		t.Errorf("Keys() after Clear = %v, want empty", keys)
	}
}
