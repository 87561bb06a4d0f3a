package proctable

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is returned by ParseElapsed for anything that is not an etime token.
var ErrUnparseable = errors.New("unparseable elapsed time")

// MaxElapsed is the largest elapsed time, in seconds, that still fits a
// time.Duration. Longer tokens are rejected as unparseable.
const MaxElapsed = math.MaxInt64 / int64(time.Second)

// ParseElapsed converts an etime token ("MM:SS", "HH:MM:SS" or "DD-HH:MM:SS")
// into seconds.
func ParseElapsed(s string) (int64, error) {
	tok := strings.TrimSpace(s)
	var days int64
	hasDays := false
	if d, rest, ok := strings.Cut(tok, "-"); ok {
		n, err := parseField(d)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
		}
		days, hasDays, tok = n, true, rest
	}

	parts := strings.Split(tok, ":")
	vals := make([]int64, len(parts))
	for i, p := range parts {
		n, err := parseField(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
		}
		vals[i] = n
	}

	var (
		secs int64
		ok   bool
	)
	switch {
	case len(vals) == 2 && !hasDays:
		secs, ok = accumulate(0, []int64{1, 60}, vals)
	case len(vals) == 3:
		secs, ok = accumulate(days, []int64{24, 60, 60}, vals)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	return secs, nil
}

// accumulate folds fields into acc as acc = acc*mul[i] + vals[i], failing
// once the running total would pass MaxElapsed.
func accumulate(acc int64, mul, vals []int64) (int64, bool) {
	for i, v := range vals {
		if v > MaxElapsed || acc > (MaxElapsed-v)/mul[i] {
			return 0, false
		}
		acc = acc*mul[i] + v
	}
	return acc, true
}

// parseField accepts only unsigned decimal digits.
func parseField(f string) (int64, error) {
	if f == "" {
		return 0, ErrUnparseable
	}
	for i := 0; i < len(f); i++ {
		if f[i] < '0' || f[i] > '9' {
			return 0, ErrUnparseable
		}
	}
	return strconv.ParseInt(f, 10, 64)
}

// FormatElapsed renders seconds the way ps -o etime does.
func FormatElapsed(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	d := secs / 86400
	h := secs % 86400 / 3600
	m := secs % 3600 / 60
	s := secs % 60
	switch {
	case d > 0:
		return fmt.Sprintf("%d-%02d:%02d:%02d", d, h, m, s)
	case h > 0:
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	default:
		return fmt.Sprintf("%02d:%02d", m, s)
	}
}
