package catalog

import (
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders two version names: -1 if a < b, 0 if equal,
// 1 if a > b. Names that both parse as semantic versions are compared
// with semver rules; anything else falls back to comparing runs of digits
// numerically and runs of letters alphabetically. The fallback follows
// semver precedence for pre-release segments (after the first '-') so a
// list mixing both kinds of names still sorts consistently. Build
// metadata and case are not reconciled: "1.0+a" and "1.0+b" are equal as
// semver but not as chunks.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareChunks(a, b)
}

type chunk struct {
	numeric bool
	// pre marks chunks of the pre-release segment.
	pre  bool
	text string
}

func splitChunks(s string) []chunk {
	var (
		out     []chunk
		cur     strings.Builder
		numeric bool
		pre     bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, chunk{numeric: numeric, pre: pre, text: cur.String()})
			cur.Reset()
		}
	}

	s = strings.ToLower(s)
	if len(s) > 1 && s[0] == 'v' && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			if !numeric {
				flush()
			}
			numeric = true
			cur.WriteRune(r)
		case unicode.IsLetter(r):
			if numeric {
				flush()
			}
			numeric = false
			cur.WriteRune(r)
		default:
			flush()
			if r == '-' && len(out) > 0 {
				pre = true
			}
		}
	}
	flush()
	return out
}

func hasPre(cs []chunk) bool {
	for _, c := range cs {
		if c.pre {
			return true
		}
	}
	return false
}

func compareChunks(a, b string) int {
	ca, cb := splitChunks(a), splitChunks(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		x, y := ca[i], cb[i]
		var c int
		switch {
		case x.numeric && y.numeric:
			c = compareNumeric(x.text, y.text)
		case x.numeric != y.numeric:
			// Outside a pre-release a number outranks a label (1.0.1 >
			// 1.0.beta); inside one it ranks below (alpha.1 < alpha.beta).
			c = 1
			if x.pre && y.pre {
				c = -1
			}
			if !x.numeric {
				c = -c
			}
		default:
			c = strings.Compare(x.text, y.text)
		}
		if c != 0 {
			return c
		}
	}

	switch {
	case len(ca) == len(cb):
		return 0
	case len(ca) > len(cb):
		return tail(ca[len(cb)], hasPre(cb))
	default:
		return -tail(cb[len(ca)], hasPre(ca))
	}
}

// tail orders a name against its own prefix, given the first extra chunk.
// More pre-release fields rank higher (alpha < alpha.1), starting a
// pre-release ranks lower (1.0-rc < 1.0), a trailing label ranks lower
// (0.9.1a < 0.9.1) and a trailing number higher (1.0 < 1.0.1).
func tail(extra chunk, prefixHasPre bool) int {
	switch {
	case extra.pre && prefixHasPre:
		return 1
	case extra.pre:
		return -1
	case extra.numeric:
		return 1
	default:
		return -1
	}
}

func compareNumeric(x, y string) int {
	x = strings.TrimLeft(x, "0")
	y = strings.TrimLeft(y, "0")
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}
