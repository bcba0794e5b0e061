package plan

import (
	"sort"
	"strconv"
)

// CompareVersions orders plan versions: -1 when a < b, 0 when equal, 1 when
// a > b. Versions are compared segment by segment, where a segment is a
// maximal run of digits or non-digits; digit runs compare numerically, so
// "v2" sorts before "v10".
func CompareVersions(a, b string) int {
	segsA := versionSegments(a)
	segsB := versionSegments(b)

	for i := 0; i < len(segsA) && i < len(segsB); i++ {
		sa, sb := segsA[i], segsB[i]

		na, aNum := strconv.Atoi(sa)
		nb, bNum := strconv.Atoi(sb)
		if aNum == nil && bNum == nil {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			}
			continue
		}

		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
	}

	switch {
	case len(segsA) < len(segsB):
		return -1
	case len(segsA) > len(segsB):
		return 1
	}
	return 0
}

func versionSegments(v string) []string {
	var segs []string
	start := 0
	for i := 1; i <= len(v); i++ {
		if i == len(v) || isDigit(v[i]) != isDigit(v[i-1]) {
			segs = append(segs, v[start:i])
			start = i
		}
	}
	return segs
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// SortPlans orders plans in place, oldest version first.
func SortPlans(plans []TrainingPlan) {
	sort.Slice(plans, func(i, j int) bool {
		return CompareVersions(plans[i].Version, plans[j].Version) < 0
	})
}
