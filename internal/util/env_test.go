package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("DOCFINDER_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("DOCFINDER_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("DOCFINDER_TEST_INT", "7")
	if got := ParseIntEnv("DOCFINDER_TEST_INT", 1); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	t.Setenv("DOCFINDER_TEST_INT", "seven")
	if got := ParseIntEnv("DOCFINDER_TEST_INT", 1); got != 1 {
		t.Errorf("expected default 1, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("DOCFINDER_TEST_DURATION", "90s")
	if got := ParseDurationEnv("DOCFINDER_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("DOCFINDER_TEST_DURATION", "-5s")
	if got := ParseDurationEnv("DOCFINDER_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("negative duration must fall back to default, got %v", got)
	}
}
