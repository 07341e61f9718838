package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default", DefaultSessionName, false},
		{"digits", "work123", false},
		{"hyphen", "anon-2", false},
		{"underscore", "night_shift", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my session", true},
		{"dot", "my.session", true},
		{"parent dir", "..", true},
		{"too long", strings.Repeat("a", 65), true},
		{"emoji", "vent👤", true},
		{"slash", "my/session", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "invalid session name") {
				t.Errorf("ValidateName(%q) error = %v, want invalid session name", tt.input, err)
			}
		})
	}
}
