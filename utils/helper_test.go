package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatAmountRoundsHalfUpAtTwoPlaces(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"870", "870.00"},
		{"99.994", "99.99"},
		{"99.995", "100.00"}, // half rounds up
		{"-1.005", "-1.01"},  // half away from zero on negatives
		{"0.125", "0.13"},
		{"1234.5", "1234.50"},
	}
	for _, tc := range cases {
		d, err := decimal.NewFromString(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got := FormatAmount(d); got != tc.want {
			t.Fatalf("FormatAmount(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDereferencePtr(t *testing.T) {
	v := "AV2508001"
	if got := DereferencePtr(&v); got != v {
		t.Fatalf("DereferencePtr = %q, want %q", got, v)
	}
	if got := DereferencePtr[string](nil); got != "" {
		t.Fatalf("DereferencePtr(nil) = %q, want empty", got)
	}
	if got := DereferencePtr(nil, "fallback"); got != "fallback" {
		t.Fatalf("DereferencePtr(nil, fallback) = %q, want fallback", got)
	}
}
