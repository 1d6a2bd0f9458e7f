// Package size converts human-entered disk size strings to byte counts and
// formats byte counts back into human-readable units. Pure functions, no I/O.
package size

import (
	"math"
	"strconv"
	"strings"

	"github.com/anvil-vm/anvil/internal/faults"
)

// unitNames are the output units for ToHuman, smallest first.
var unitNames = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// suffixExponents maps accepted size suffixes to powers of 1024.
var suffixExponents = map[string]int{
	"k": 1, "kb": 1, "kib": 1,
	"m": 2, "mb": 2, "mib": 2,
	"g": 3, "gb": 3, "gib": 3,
	"t": 4, "tb": 4, "tib": 4,
}

// ToBytes parses a size string of the form <digits>[.<digits>][unit] into an
// exact byte count. Bare digits denote bytes. The unit suffix is one of
// k/kb/kib, m/mb/mib, g/gb/gib, t/tb/tib, case-insensitive. An unknown suffix
// or malformed number is a parse error, never a silent zero.
func ToBytes(spec string) (int64, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return 0, faults.New(faults.KindParse, "size", "empty size string")
	}

	// Split into numeric prefix and alphabetic suffix.
	cut := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}
	num, suffix := s[:cut], strings.ToLower(s[cut:])

	if num == "" {
		return 0, faults.New(faults.KindParse, "size", "no numeric value in %q", spec)
	}
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, faults.New(faults.KindParse, "size", "invalid number %q", num)
	}

	if suffix == "" {
		// Bare digits are bytes; a fractional byte count makes no sense.
		if strings.Contains(num, ".") {
			return 0, faults.New(faults.KindParse, "size", "fractional byte count %q", spec)
		}
		return int64(value), nil
	}

	exp, ok := suffixExponents[suffix]
	if !ok {
		return 0, faults.New(faults.KindParse, "size", "unknown size suffix %q", suffix)
	}
	return int64(value * math.Pow(1024, float64(exp))), nil
}

// ToHuman formats a byte count as a human-readable string. startUnit indexes
// into B, KiB, MiB, GiB, TiB, PiB and names the unit the value is already in.
// Integral results carry no decimals, fractional results three.
func ToHuman(value float64, startUnit int, base float64) string {
	if base <= 1 {
		base = 1024
	}
	unit := startUnit
	if unit < 0 || unit >= len(unitNames) {
		unit = 0
	}
	for value >= base && unit < len(unitNames)-1 {
		value /= base
		unit++
	}
	if value == math.Trunc(value) {
		return strconv.FormatFloat(value, 'f', 0, 64) + " " + unitNames[unit]
	}
	return strconv.FormatFloat(value, 'f', 3, 64) + " " + unitNames[unit]
}

// ToHumanBytes is ToHuman starting from bytes with the default 1024 base.
func ToHumanBytes(bytes int64) string {
	return ToHuman(float64(bytes), 0, 1024)
}
