package clock

import (
	"testing"
	"time"
)

func TestManual_FrozenUntilAdvanced(t *testing.T) {
	c := NewManual(time.UnixMilli(1000))

	if got := c.Now(); !got.Equal(time.UnixMilli(1000)) {
		t.Errorf("Now() = %v, want frozen start time", got)
	}
	if got := c.Now(); !got.Equal(time.UnixMilli(1000)) {
		t.Errorf("Now() moved without Advance: %v", got)
	}
}

func TestManual_Advance(t *testing.T) {
	c := NewManual(time.UnixMilli(1000))
	c.Advance(5 * time.Second)

	if got := c.Now(); !got.Equal(time.UnixMilli(6000)) {
		t.Errorf("Now() after Advance = %v, want 6000ms", got)
	}
}

func TestManual_Set(t *testing.T) {
	c := NewManual(time.UnixMilli(1000))
	c.Set(time.UnixMilli(42))

	if got := c.Now(); !got.Equal(time.UnixMilli(42)) {
		t.Errorf("Now() after Set = %v, want 42ms", got)
	}
}

func TestSystem_Monotonicish(t *testing.T) {
	c := System()
	a := c.Now()
	b := c.Now()
	if b.Before(a) {
		t.Errorf("system clock went backward: %v then %v", a, b)
	}
}
