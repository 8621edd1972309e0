package retrieval

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// markerGroup matches [1], [1, 2], [1;2] and [[1]].
var markerGroup = regexp.MustCompile(`\[\[?\s*(\d+(?:\s*[,;]\s*\d+)*)\s*\]\]?`)

var markerNumber = regexp.MustCompile(`\d+`)

// NormalizeMarkers rewrites every citation marker of text into the [n] form,
// keeping only ordinals in [first, last]. It returns the rewritten text, the
// kept ordinals sorted ascending and the dropped ones in order of appearance.
func NormalizeMarkers(text string, first, last int) (string, []int, []int) {
	var used, dropped []int
	var b strings.Builder
	prev := 0

	for _, loc := range markerGroup.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		var kept []int
		for _, digits := range markerNumber.FindAllString(text[loc[2]:loc[3]], -1) {
			n, err := strconv.Atoi(digits)
			if err != nil || n < first || n > last {
				dropped = append(dropped, n)
				continue
			}
			if !slices.Contains(kept, n) {
				kept = append(kept, n)
			}
		}

		chunk := text[prev:start]
		if len(kept) == 0 {
			// Remove the space that separated the marker from the preceding word.
			chunk = strings.TrimRight(chunk, " ")
		}
		b.WriteString(chunk)
		for _, n := range kept {
			b.WriteString("[" + strconv.Itoa(n) + "]")
			if !slices.Contains(used, n) {
				used = append(used, n)
			}
		}
		prev = end
	}
	b.WriteString(text[prev:])

	slices.Sort(used)
	return b.String(), used, dropped
}

// Markers returns the distinct ordinals cited in text, ascending.
func Markers(text string) []int {
	_, used, _ := NormalizeMarkers(text, 1, int(^uint(0)>>1))
	return used
}
