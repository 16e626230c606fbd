package core

import (
	"strconv"
	"strings"
)

// Version is a dotted numeric version such as 1.85.0 or 18.0.471.29466.
// A nil Version means the source string held no leading number.
type Version []int

// ParseVersion extracts the numeric components of raw. Anything after the
// first '-' or '+' is ignored (1.5.52-243 -> 1.5.52), and parsing stops at
// the first component that does not start with a digit.
func ParseVersion(raw string) Version {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "-+ "); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "v"), "V")
	if raw == "" {
		return nil
	}

	var out Version
	for _, part := range strings.Split(raw, ".") {
		digits := leadingDigits(part)
		if digits == "" {
			break
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			break
		}
		out = append(out, n)
		if len(digits) != len(part) {
			break
		}
	}
	return out
}

// MustParseVersion is ParseVersion for literals known to be valid.
func MustParseVersion(raw string) Version {
	v := ParseVersion(raw)
	if v == nil {
		panic("core: invalid version literal " + strconv.Quote(raw))
	}
	return v
}

func (v Version) Valid() bool { return len(v) > 0 }

// Major returns the first component, or -1 when v is empty.
func (v Version) Major() int {
	if len(v) == 0 {
		return -1
	}
	return v[0]
}

// Compare orders two versions component by component, treating missing
// trailing components as zero. It returns -1, 0 or +1.
func (v Version) Compare(other Version) int {
	n := max(len(v), len(other))
	for i := 0; i < n; i++ {
		a, b := v.at(i), other.at(i)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// AtLeast reports whether v >= floor.
func (v Version) AtLeast(floor Version) bool {
	return v.Compare(floor) >= 0
}

// Bucket returns "major.minor" (or just "major" for single-component versions).
func (v Version) Bucket() string {
	switch len(v) {
	case 0:
		return ""
	case 1:
		return strconv.Itoa(v[0])
	default:
		return strconv.Itoa(v[0]) + "." + strconv.Itoa(v[1])
	}
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(b []byte) error {
	*v = ParseVersion(string(b))
	return nil
}

func (v Version) at(i int) int {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
