package autoupdate

import (
	"regexp"
	"strconv"
	"strings"
)

// Pre-release and post-release suffix priorities (lower = earlier in release cycle)
var suffixPriority = map[string]int{
	"dev":     -5,
	"a":       -4,
	"alpha":   -4,
	"b":       -3,
	"beta":    -3,
	"pre":     -2,
	"preview": -2,
	"rc":      -1,
	"":        0, // release version
	"p":       1,
	"patch":   1,
	"post":    1,
}

// numericPrefixRegex matches the dotted numeric part of a version (1.0.1)
var numericPrefixRegex = regexp.MustCompile(`^\d+(\.\d+)*`)

// releaseSuffixRegex matches suffixes like -rc1, _beta2, .alpha.3, b1
var releaseSuffixRegex = regexp.MustCompile(`^[-_.]?([a-zA-Z]+)[-_.]?(\d*)`)

// parseVersion breaks a version string into components for comparison.
// Returns: numeric parts, suffix type, suffix num
func parseVersion(v string) ([]int, string, int) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")

	// Build metadata never affects ordering
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}

	numeric := numericPrefixRegex.FindString(v)
	rest := v[len(numeric):]

	var nums []int
	if numeric != "" {
		for _, p := range strings.Split(numeric, ".") {
			n, _ := strconv.Atoi(p)
			nums = append(nums, n)
		}
	}

	suffixType := ""
	suffixNum := 0
	if matches := releaseSuffixRegex.FindStringSubmatch(rest); matches != nil {
		suffixType = strings.ToLower(matches[1])
		if matches[2] != "" {
			suffixNum, _ = strconv.Atoi(matches[2])
		}
		if _, known := suffixPriority[suffixType]; !known {
			suffixType = ""
			suffixNum = 0
		}
	}

	return nums, suffixType, suffixNum
}

// compareIntSlices compares two slices of integers, treating missing parts as zero
func compareIntSlices(a, b []int) int {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}

		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// CompareVersions compares two release version strings.
// Returns: -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	nums1, suffix1, suffixNum1 := parseVersion(v1)
	nums2, suffix2, suffixNum2 := parseVersion(v2)

	if cmp := compareIntSlices(nums1, nums2); cmp != 0 {
		return cmp
	}

	// dev < alpha < beta < pre < rc < release < patch
	priority1 := suffixPriority[suffix1]
	priority2 := suffixPriority[suffix2]
	if priority1 < priority2 {
		return -1
	}
	if priority1 > priority2 {
		return 1
	}

	if suffixNum1 < suffixNum2 {
		return -1
	}
	if suffixNum1 > suffixNum2 {
		return 1
	}

	return 0
}

// cleanVersionRegex keeps the leading version token of a release tag
var cleanVersionRegex = regexp.MustCompile(`\d+(\.\d+)*([-.].+)?`)

// CleanTag turns a release tag into a version string. The prefix, if set, is
// removed first, then a leading "v"; the remaining text is trimmed to its
// leading version token. Tags with no digits are returned trimmed.
func CleanTag(tag, prefix string) string {
	v := strings.TrimSpace(tag)
	if prefix != "" {
		v = strings.TrimPrefix(v, prefix)
	}
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
	v = strings.TrimSpace(v)

	if loc := cleanVersionRegex.FindStringIndex(v); loc != nil && loc[0] == 0 {
		return v[loc[0]:loc[1]]
	}
	return v
}
