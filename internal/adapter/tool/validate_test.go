package tool

import (
	"errors"
	"strings"
	"testing"
)

func TestRequireField(t *testing.T) {
	if err := RequireField("table", "users"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := RequireField("table", "")
	if err == nil || !strings.Contains(err.Error(), "'table' is required") {
		t.Errorf("RequireField(empty) = %v", err)
	}
}

func TestValidateMaxLen(t *testing.T) {
	tests := []struct {
		value   string
		max     int
		wantErr bool
	}{
		{"", 3, false},
		{"abc", 3, false},
		{"abcd", 3, true},
	}
	for _, tt := range tests {
		err := ValidateMaxLen("expression", tt.value, tt.max)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateMaxLen(%q, %d) = %v, wantErr %v", tt.value, tt.max, err, tt.wantErr)
		}
	}
}

func TestValidateAll(t *testing.T) {
	if err := ValidateAll(); err != nil {
		t.Errorf("empty: %v", err)
	}
	if err := ValidateAll(nil, nil); err != nil {
		t.Errorf("all nil: %v", err)
	}

	first := errors.New("first")
	if err := ValidateAll(nil, first, errors.New("second")); err != first {
		t.Errorf("got %v, want first", err)
	}

	err := ValidateAll(RequireField("expression", ""), ValidateMaxLen("expression", "", 1))
	if err == nil || !strings.Contains(err.Error(), "expression") {
		t.Errorf("got %v", err)
	}
}
