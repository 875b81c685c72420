package remote

import (
	"strings"
)

// Vercmp compares two package versions of the form
// [epoch:]version[-release] the way pacman does.  It returns -1, 0,
// or 1 when a is older than, equal to, or newer than b.
func Vercmp(a, b string) int {
	if a == b {
		return 0
	}
	e1, v1, r1 := parseEVR(a)
	e2, v2, r2 := parseEVR(b)

	ret := rpmvercmp(e1, e2)
	if ret == 0 {
		ret = rpmvercmp(v1, v2)
		if ret == 0 && r1 != "" && r2 != "" {
			ret = rpmvercmp(r1, r2)
		}
	}
	return ret
}

func parseEVR(s string) (epoch, version, release string) {
	epoch = "0"
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i < len(s) && s[i] == ':' {
		if i > 0 {
			epoch = s[:i]
		}
		s = s[i+1:]
	}
	if j := strings.LastIndexByte(s, '-'); j >= 0 {
		return epoch, s[:j], s[j+1:]
	}
	return epoch, s, ""
}

func rpmvercmp(a, b string) int {
	if a == b {
		return 0
	}

	var i, j int
	var p1, p2 int
	isnum := false
	for i < len(a) && j < len(b) {
		for i < len(a) && !isAlnum(a[i]) {
			i++
		}
		for j < len(b) && !isAlnum(b[j]) {
			j++
		}
		if i >= len(a) || j >= len(b) {
			break
		}
		// Differing separator runs decide on their own.
		if i-p1 != j-p2 {
			if i-p1 < j-p2 {
				return -1
			}
			return 1
		}

		p1, p2 = i, j
		if isDigit(a[p1]) {
			for p1 < len(a) && isDigit(a[p1]) {
				p1++
			}
			for p2 < len(b) && isDigit(b[p2]) {
				p2++
			}
			isnum = true
		} else {
			for p1 < len(a) && isAlpha(a[p1]) {
				p1++
			}
			for p2 < len(b) && isAlpha(b[p2]) {
				p2++
			}
			isnum = false
		}

		seg1, seg2 := a[i:p1], b[j:p2]
		if seg2 == "" {
			// Numeric segments are newer than alpha ones.
			if isnum {
				return 1
			}
			return -1
		}

		if isnum {
			seg1 = strings.TrimLeft(seg1, "0")
			seg2 = strings.TrimLeft(seg2, "0")
			if len(seg1) != len(seg2) {
				if len(seg1) > len(seg2) {
					return 1
				}
				return -1
			}
		}
		if c := strings.Compare(seg1, seg2); c != 0 {
			return c
		}
		i, j = p1, p2
	}

	restA, restB := i >= len(a), j >= len(b)
	if restA && restB {
		return 0
	}
	// The version with the remaining suffix is newer unless that
	// suffix is alphabetic, as in 1.0alpha < 1.0.
	if (restA && !isAlpha(b[j])) || (!restA && isAlpha(a[i])) {
		return -1
	}
	return 1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }
