package models

import (
	"testing"
	"time"
)

func TestIsValidDeliveryNumber(t *testing.T) {
	valid := []string{"BL0000001", "BL1234567", "BL9999999"}
	for _, number := range valid {
		if !IsValidDeliveryNumber(number) {
			t.Fatalf("%q should be valid", number)
		}
	}

	invalid := []string{
		"",
		"BL123456",    // six digits
		"BL12345678",  // eight digits
		"bl1234567",   // lowercase prefix
		"AV1234567",   // wrong prefix
		"BL123456a",   // non-digit
		" BL1234567",  // leading space
		"BL1234567 ",  // trailing space
		"XXBL1234567", // embedded match
	}
	for _, number := range invalid {
		if IsValidDeliveryNumber(number) {
			t.Fatalf("%q should be invalid", number)
		}
	}
}

func TestDocumentNumberScope(t *testing.T) {
	at := time.Date(2025, time.August, 15, 10, 0, 0, 0, time.UTC)
	if got := DocumentNumberScope(CreditNoteNumberPrefix, at); got != "AV2508" {
		t.Fatalf("scope = %q, want AV2508", got)
	}

	// single-digit month is zero padded
	at = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	if got := DocumentNumberScope(CreditNoteNumberPrefix, at); got != "AV2601" {
		t.Fatalf("scope = %q, want AV2601", got)
	}
}

func TestNextSequenceInScope(t *testing.T) {
	cases := []struct {
		scope  string
		latest string
		want   int
	}{
		{"AV2508", "AV2508002", 3},
		{"AV2508", "AV2508001", 2},
		{"AV2508", "AV2508999", 1000},
		{"AV2508", "", 1},          // empty scope starts at 1
		{"AV2509", "AV2508002", 1}, // new month, latest belongs elsewhere
		{"AV2508", "AV2508xyz", 1}, // malformed tail fails closed
		{"AV2508", "AV25081", 1},   // tail not 3 digits
	}
	for _, tc := range cases {
		if got := NextSequenceInScope(tc.scope, tc.latest); got != tc.want {
			t.Fatalf("NextSequenceInScope(%q, %q) = %d, want %d", tc.scope, tc.latest, got, tc.want)
		}
	}
}

func TestFormatDocumentNumber(t *testing.T) {
	if got := FormatDocumentNumber("AV2508", 3); got != "AV2508003" {
		t.Fatalf("number = %q, want AV2508003", got)
	}
	if got := FormatDocumentNumber("AV2508", 42); got != "AV2508042" {
		t.Fatalf("number = %q, want AV2508042", got)
	}
	// sequence overflow widens the number rather than wrapping
	if got := FormatDocumentNumber("AV2508", 1000); got != "AV25081000" {
		t.Fatalf("number = %q, want AV25081000", got)
	}
}
