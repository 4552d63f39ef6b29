package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationRx = regexp.MustCompile(`^P((?P<day>\d+)D)?(T?(?:(?P<hour>\d+)H)?(?:(?P<minute>\d+)M)?(?:(?P<second>\d+(?:[.,]\d+)?)S)?)?$`)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

var isoUnits = map[string]time.Duration{
	"day":    24 * time.Hour,
	"hour":   time.Hour,
	"minute": time.Minute,
	"second": time.Second,
}

// ParseISODuration parses the day and time part of ISO8601 durations,
// like P1D, PT90S or PT1M30.5S. Years, months and weeks are not supported.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "" || dur == "P" || dur == "PT" {
		return 0, ErrISOFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)
	if match == nil {
		return 0, ErrISOFormat
	}

	// without T the M is ambiguous (month or minute)
	hasT := strings.Contains(dur, "T")
	hasHMS := false

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}
		unit, ok := isoUnits[name]
		if !ok {
			return 0, fmt.Errorf("unknown component %s", name)
		}
		if name != "day" {
			hasHMS = true
			if !hasT {
				return 0, ErrISOFormat
			}
		}

		num, frac, err := parseDecimal(part)
		if err != nil {
			return 0, err
		}
		if float64(num)+frac >= float64(math.MaxInt64)/float64(unit) {
			return 0, fmt.Errorf("%w: %s out of range", ErrISOFormat, part)
		}
		d := time.Duration(num)*unit + time.Duration(frac*float64(unit))
		if ret > math.MaxInt64-d {
			return 0, fmt.Errorf("%w: %s out of range", ErrISOFormat, dur)
		}
		ret += d
	}

	// eg P2DT
	if hasT && !hasHMS {
		return 0, ErrISOFormat
	}
	return ret, nil
}

func parseDecimal(s string) (num int, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	a, b, ok := strings.Cut(s, ".")
	if ok {
		if len(b) > 9 {
			return 0, 0, ErrISOFormat
		}
		f, err := strconv.Atoi(b)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		frac = float64(f) / math.Pow10(len(b))
	}
	num, err = strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: parsing number: %w", ErrISOFormat, err)
	}
	return num, frac, nil
}
