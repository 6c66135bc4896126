package config

import (
	"os"
	"strings"
)

// StrictDocImmutability enables integrity guardrails: a validated credit note
// cannot be edited; it must be deleted and recreated.
//
// Set via env:
// - STRICT_DOC_IMMUTABLE=true
func StrictDocImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_DOC_IMMUTABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
