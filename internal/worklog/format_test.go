package worklog

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-5 * time.Minute, "0s"},
		{999 * time.Millisecond, "0s"},
		{12 * time.Second, "12s"},
		{45 * time.Minute, "45m 0s"},
		{time.Hour, "1h 0m 0s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{26*time.Hour + 1500*time.Millisecond, "26h 0m 1s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
