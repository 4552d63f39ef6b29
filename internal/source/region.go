package source

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrRegion = errors.New("invalid region")

// Region returns the selected part of buf between two character offsets.
// The boundaries can come in any order, as a selection made backwards has
// its mark after the point.
func Region(buf string, start, end int) (string, error) {
	if start > end {
		start, end = end, start
	}
	n := utf8.RuneCountInString(buf)
	if start < 0 || end > n {
		return "", fmt.Errorf("%w: [%d,%d) outside of [0,%d)", ErrRegion, start, end, n)
	}

	var from, to int = len(buf), len(buf)
	i := 0
	for off := range buf {
		if i == start {
			from = off
		}
		if i == end {
			to = off
			break
		}
		i++
	}
	return buf[from:to], nil
}
