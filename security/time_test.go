package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{"future expiry", now.Add(time.Hour), 0, false},
		{"past expiry", now.Add(-time.Hour), 0, true},
		{"within grace", now.Add(-2 * time.Second), 10 * time.Second, false},
		{"beyond grace", now.Add(-time.Minute), 10 * time.Second, true},
		{"zero expiry never expires", time.Time{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpiresIn(t *testing.T) {
	if got := ExpiresIn(time.Now().Add(-time.Minute)); got != 0 {
		t.Errorf("ExpiresIn(past) = %d, want 0", got)
	}

	got := ExpiresIn(time.Now().Add(time.Hour))
	if got < 3595 || got > 3600 {
		t.Errorf("ExpiresIn(+1h) = %d, want about 3600", got)
	}
}
