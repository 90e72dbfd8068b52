package proto

import "testing"

func TestTimestampSubWraparound(t *testing.T) {
	cases := []struct {
		a, b Timestamp
		want int32
	}{
		{10, 5, 5},
		{5, 10, -5},
		{0, timestampMask, 1},
		{timestampMask, 0, -1},
	}
	for _, c := range cases {
		if got := c.a.Sub(c.b); got != c.want {
			t.Errorf("%d.Sub(%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestTimestampBefore(t *testing.T) {
	if !Timestamp(timestampMask).Before(Timestamp(0)) {
		t.Error("expected wraparound timestamp to compare as before 0")
	}
	if Timestamp(0).Before(Timestamp(timestampMask)) {
		t.Error("did not expect 0 to be before the wrapped value, it is one second later")
	}
}

func TestTruncateTimestampMasks(t *testing.T) {
	got := TruncateTimestamp(1<<24 + 42)
	if got != 42 {
		t.Errorf("TruncateTimestamp overflow = %d, want 42", got)
	}
}

func TestLifetimeSeconds(t *testing.T) {
	s, inf := LifetimeSeconds(TryLog2)
	if inf || s != 8 {
		t.Errorf("LifetimeSeconds(TryLog2) = (%d,%v), want (8,false)", s, inf)
	}
	_, inf = LifetimeSeconds(LifetimeInfinite)
	if !inf {
		t.Error("expected LifetimeInfinite to report infinite")
	}
}

func TestCookieZero(t *testing.T) {
	var c Cookie
	if !c.IsZero() {
		t.Error("zero-value cookie should report IsZero")
	}
	c[0] = 1
	if c.IsZero() {
		t.Error("non-zero cookie reported IsZero")
	}
}

func TestUint24RoundTrip(t *testing.T) {
	b := make([]byte, 3)
	PutUint24(b, Timestamp(0xABCDEF))
	got := Uint24(b)
	if got != Timestamp(0xABCDEF) {
		t.Errorf("Uint24 round trip = %x, want %x", got, 0xABCDEF)
	}
}
