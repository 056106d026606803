package worklog

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders d as "1h 2m 3s", dropping leading zero units:
// 45*time.Minute is "45m 0s" and 12*time.Second is "12s". Sub-second
// remainders are truncated and negative durations clamp to "0s".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh ", h)
	}
	if h > 0 || m > 0 {
		fmt.Fprintf(&b, "%dm ", m)
	}
	fmt.Fprintf(&b, "%ds", sec)
	return b.String()
}
