package mathx

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 4095); got != 5 {
		t.Fatalf("got=%d want=5", got)
	}
	if got := Clamp(5000, 0, 4095); got != 4095 {
		t.Fatalf("got=%d want=4095", got)
	}
	if got := Clamp(-1, 0, 4095); got != 0 {
		t.Fatalf("got=%d want=0", got)
	}
	// Swapped bounds.
	if got := Clamp(10.0, 4.0, 2.0); got != 4.0 {
		t.Fatalf("got=%v want=4", got)
	}
}

func TestAbs(t *testing.T) {
	if got := Abs(-7); got != 7 {
		t.Fatalf("got=%d want=7", got)
	}
	if got := Abs(int64(3)); got != 3 {
		t.Fatalf("got=%d want=3", got)
	}
}

func TestRoundPlaces(t *testing.T) {
	if got := RoundPlaces(346.20394, 3); math.Abs(got-346.204) > 1e-9 {
		t.Fatalf("got=%v want=346.204", got)
	}
}

func TestRoundSig(t *testing.T) {
	cases := []struct {
		x    float64
		sig  int
		want float64
	}{
		{123.456, 2, 120},
		{123.456, 4, 123.5},
		{0.012345, 3, 0.0123},
		{99.96, 3, 100},
		{-42.42, 2, -42},
		{0, 3, 0},
		{17.3, 0, 17.3},
	}
	for _, c := range cases {
		if got := RoundSig(c.x, c.sig); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("RoundSig(%v,%d)=%v want %v", c.x, c.sig, got, c.want)
		}
	}
}
