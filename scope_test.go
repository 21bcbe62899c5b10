package oauth

import "testing"

func TestCheckScope(t *testing.T) {
	tests := []struct {
		name      string
		required  string
		available string
		want      bool
	}{
		{"subset", "a b", "a b c", true},
		{"equal sets", "read write", "write read", true},
		{"missing member", "a d", "a b", false},
		{"empty required", "", "a b", true},
		{"empty required empty available", "", "", true},
		{"required but nothing available", "read", "", false},
		{"single match", "read", "read", true},
		{"extra whitespace", "  read   write  ", "write read", true},
		{"substring is not membership", "rea", "read", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckScope(tt.required, tt.available); got != tt.want {
				t.Errorf("CheckScope(%q, %q) = %v, want %v", tt.required, tt.available, got, tt.want)
			}
		})
	}
}
