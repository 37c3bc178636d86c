package utils

import (
	"testing"
	"time"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"Bearer abc":      "abc",
		"bearer   abc  ":  "abc",
		"abc":             "abc",
		"Basic dXNlcjpw":  "",
		"  Bearer x.y.z ": "x.y.z",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSpace(t *testing.T) {
	if got := NormalizeSpace("  Av.   Corrientes \t 1234 "); got != "Av. Corrientes 1234" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestClockFallsBackToNow(t *testing.T) {
	var c Clock
	if c.Now().IsZero() {
		t.Fatalf("nil clock should return current time")
	}
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c = func() time.Time { return fixed }
	if !c.Now().Equal(fixed) {
		t.Fatalf("clock not used")
	}
}
