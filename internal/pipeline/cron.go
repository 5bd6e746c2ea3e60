package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is the set of values a field accepts. A nil set matches
// everything.
type cronField map[int]struct{}

func (f cronField) matches(v int) bool {
	if f == nil {
		return true
	}
	_, ok := f[v]
	return ok
}

// parseCronField accepts "*", "n", "a-b", "*/s", "a-b/s" and comma lists of
// those.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return nil, nil
	}
	set := cronField{}
	for _, part := range strings.Split(field, ",") {
		rng, step := part, 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", part)
			}
			rng, step = base, n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(a)
			to, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("invalid range %q", part)
			}
		default:
			n, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			from, to = n, n
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("%q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = struct{}{}
		}
	}
	return set, nil
}

// schedule is a parsed "minute hour day-of-month month day-of-week"
// expression.
type schedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return schedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return schedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (s schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}

// next returns the first matching minute strictly after t, searching at
// most one year ahead.
func (s schedule) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 1)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("cron: no matching time within a year")
}
