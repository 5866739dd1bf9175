// Package bytesize parses and formats human-readable byte sizes.
//
// Units are binary (1024-based) and case-insensitive: B, K/KB/KiB, M/MB/MiB,
// G/GB/GiB. A bare number is a byte count.
//
//	"512KB" = 524288
//	"1.5MB" = 1572864
//	"4096"  = 4096
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

// Binary size units.
const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
)

var units = map[string]Size{
	"":      B,
	"b":     B,
	"bytes": B,
	"k":     KB,
	"kb":    KB,
	"kib":   KB,
	"m":     MB,
	"mb":    MB,
	"mib":   MB,
	"g":     GB,
	"gb":    GB,
	"gib":   GB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse converts a string such as "2MB" into a Size.
func Parse(s string) (Size, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}
	unit, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}
	return Size(value * float64(unit)), nil
}

// MustParse is Parse for package-level values; it panics on bad input.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders s using the largest unit that keeps the value >= 1.
func Format(s Size) string {
	sign := ""
	if s < 0 {
		sign, s = "-", -s
	}
	switch {
	case s >= GB:
		return sign + trim(float64(s)/float64(GB)) + "GB"
	case s >= MB:
		return sign + trim(float64(s)/float64(MB)) + "MB"
	case s >= KB:
		return sign + trim(float64(s)/float64(KB)) + "KB"
	default:
		return fmt.Sprintf("%s%dB", sign, int64(s))
	}
}

func trim(v float64) string {
	out := strconv.FormatFloat(v, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimSuffix(out, ".")
}

// Bytes returns the raw byte count.
func (s Size) Bytes() int64 { return int64(s) }

func (s Size) String() string { return Format(s) }
