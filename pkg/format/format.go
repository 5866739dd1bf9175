// Package format provides human-readable formatting for CLI output.
package format

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Bytes formats a byte count using binary units.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp]) //nolint:gosec // G602: exp max is 4
}

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Mbps formats a throughput. Sub-megabit rates are shown in kbps.
// Example: Mbps(0.25) => "250 kbps"
func Mbps(v float64) string {
	if v <= 0 {
		return "-"
	}
	if v < 1 {
		return printer.Sprintf("%.0f kbps", v*1000)
	}
	return printer.Sprintf("%.1f Mbps", v)
}

// Millis formats a latency in milliseconds.
func Millis(ms int) string {
	return printer.Sprintf("%d ms", ms)
}

// Until formats the time remaining from now until t.
// Example: Until(now.Add(90*time.Second), now) => "in 1m30s"
func Until(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := t.Sub(now)
	if d <= 0 {
		return "expired"
	}
	return "in " + d.Round(time.Second).String()
}
