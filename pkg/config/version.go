package config

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/cuemby/adcm/pkg/types"
	"github.com/hashicorp/go-version"
)

// CompareVersions orders two bundle versions. Semantic versions are
// compared by hashicorp/go-version; anything else by segments, numeric
// segments numerically and the rest lexically.
func CompareVersions(a, b string) int {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareSegments(segments(a), segments(b))
}

func segments(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func compareSegments(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		na, errA := strconv.ParseInt(a[i], 10, 64)
		nb, errB := strconv.ParseInt(b[i], 10, 64)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case errA == nil:
			return 1
		case errB == nil:
			return -1
		default:
			if c := strings.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// InRange reports whether v lies within r, honoring strict bounds
func InRange(v string, r types.VersionRange) bool {
	if r.Min != "" {
		c := CompareVersions(v, r.Min)
		if c < 0 || (r.MinStrict && c == 0) {
			return false
		}
	}
	if r.Max != "" {
		c := CompareVersions(v, r.Max)
		if c > 0 || (r.MaxStrict && c == 0) {
			return false
		}
	}
	return true
}
