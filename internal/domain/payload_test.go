package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseRunID(t *testing.T) {
	tests := []struct {
		path string
		want RunID
		ok   bool
	}{
		{"Run123456", 123456, true},
		{"Run123456/EMC/file.combined", 123456, true},
		{"/archive/Run123456/HLT", 123456, true},
		{"archive/Run300005/EMC", 300005, true},
		{"Run0", 0, false},
		{"RunX/EMC", 0, false},
		{"NotARun123/EMC", 0, false},
		{"EMC/file.combined", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ParseRunID(tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseRunID(%q) = (%d, %v), want (%d, %v)", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRunIDString(t *testing.T) {
	if got := RunID(123456).String(); got != "Run123456" {
		t.Errorf("String() = %q", got)
	}
	if got := RunID(0).String(); got != "" {
		t.Errorf("zero RunID String() = %q, want empty", got)
	}
}

func TestErrorClassification(t *testing.T) {
	transport := &TransportError{Destination: "yale", Err: errors.New("connection refused")}
	conflict := &ContentConflictError{Destination: "EOS", Filename: "a.combined", Reason: "size mismatch"}

	if !Retryable(transport) {
		t.Error("transport error not retryable")
	}
	if Retryable(conflict) {
		t.Error("conflict classified retryable")
	}
	if !Conflict(conflict) {
		t.Error("conflict not detected")
	}
	if Conflict(transport) {
		t.Error("transport error classified as conflict")
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("deliver: %w", transport)
	if !Retryable(wrapped) {
		t.Error("wrapped transport error not retryable")
	}
}
