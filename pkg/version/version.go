// ABOUTME: Version number arithmetic for survey lineages
// ABOUTME: Encodes major.minor as a one-decimal number with minor in 0..9

package version

import (
	"errors"
	"fmt"
	"math"
)

// Initial is the version assigned to the root of every family.
const Initial = 1.0

// MaxMinor is the largest minor component before promotion to the next major.
const MaxMinor = 9

// ErrMalformed is returned for NaN, infinite or negative version numbers,
// and for numbers whose minor component does not fit in one digit.
var ErrMalformed = errors.New("malformed version number")

// Parse splits v into its major and minor components.
func Parse(v float64) (major, minor int, err error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, v)
	}
	whole := math.Floor(v)
	minor = int(math.Round((v - whole) * 10))
	if minor > MaxMinor {
		return 0, 0, fmt.Errorf("%w: %v has minor %d", ErrMalformed, v, minor)
	}
	return int(whole), minor, nil
}

// Next computes the version following current.
//
// A major bump resets minor to zero. A minor bump that reaches 10 is
// promoted to the next major. current must satisfy IsValid.
func Next(current float64, major bool) (float64, error) {
	maj, min, err := Parse(current)
	if err != nil {
		return 0, err
	}
	if current < Initial {
		return 0, fmt.Errorf("%w: %v is below %v", ErrMalformed, current, Initial)
	}

	if major {
		return float64(maj + 1), nil
	}

	nextMinor := min + 1
	if nextMinor > MaxMinor {
		return float64(maj + 1), nil
	}

	return round1(float64(maj) + float64(nextMinor)/10), nil
}

// Format renders v as "v{major}.{minor}", e.g. v1.0 or v2.3. Numbers
// Parse rejects render as "invalid(v)" so they never pass for a version.
func Format(v float64) string {
	maj, min, err := Parse(v)
	if err != nil {
		return fmt.Sprintf("invalid(%g)", v)
	}
	return fmt.Sprintf("v%d.%d", maj, min)
}

// IsValid reports whether v is at least 1.0 with a minor component in 0..9.
func IsValid(v float64) bool {
	if v < Initial {
		return false
	}
	_, _, err := Parse(v)
	return err == nil
}

// Compare orders two versions by their tenths so float noise never matters.
func Compare(a, b float64) int {
	ta, tb := Tenths(a), Tenths(b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	default:
		return 0
	}
}

// Tenths returns v as an exact integer count of tenths (1.2 -> 12).
func Tenths(v float64) int64 {
	return int64(math.Round(v * 10))
}

// FromTenths is the inverse of Tenths.
func FromTenths(n int64) float64 {
	return float64(n) / 10
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
