package ledger

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/gavel/pkg/model"
)

// Permanent is the duration of a ban that never expires.
const Permanent time.Duration = -1

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": day, "day": day, "days": day,
	"w": week, "wk": week, "wks": week, "week": week, "weeks": week,
	"mo": month, "mon": month, "month": month, "months": month,
	"y":  year, "yr": year, "yrs": year, "year": year, "years": year,
}

var (
	durationShape     = regexp.MustCompile(`^(\d+\s*[a-z]*[\s,]*)+$`)
	durationComponent = regexp.MustCompile(`(\d+)\s*([a-z]*)`)
)

// ParseDuration reads a ban duration. Any token containing "perma" means
// Permanent. Otherwise the input is one or more "<N> <unit>" components
// ("2 days", "1w 3d", "6h30m") that are summed; a bare number is hours.
// Months are 30 days and years 365. Go duration syntax is accepted as well.
func ParseDuration(s string) (time.Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("%w: empty ban duration", model.ErrInvalidArgument)
	}
	if strings.Contains(in, "perma") {
		return Permanent, nil
	}
	if d, err := time.ParseDuration(in); err == nil {
		return positive(s, d)
	}
	if !durationShape.MatchString(in) {
		return 0, fmt.Errorf("%w: %q is an invalid ban duration", model.ErrInvalidArgument, s)
	}
	var total time.Duration
	for _, m := range durationComponent.FindAllStringSubmatch(in, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is an invalid ban duration", model.ErrInvalidArgument, s)
		}
		unit := time.Hour
		if m[2] != "" {
			u, ok := units[m[2]]
			if !ok {
				return 0, fmt.Errorf("%w: unknown duration unit %q", model.ErrInvalidArgument, m[2])
			}
			unit = u
		}
		if n > int64(math.MaxInt64/unit) || total > math.MaxInt64-time.Duration(n)*unit {
			return 0, fmt.Errorf("%w: %q is too long", model.ErrInvalidArgument, s)
		}
		total += time.Duration(n) * unit
	}
	return positive(s, total)
}

func positive(s string, d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive ban duration", model.ErrInvalidArgument, s)
	}
	return d, nil
}

// FormatDuration renders d the way ban notices show it.
func FormatDuration(d time.Duration) string {
	if d == Permanent {
		return "permanent"
	}
	return d.String()
}
