package analytics

import (
	"fmt"
	"time"
)

type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// Range is a half-open [From, To) window. A zero bound is open.
type Range struct {
	From time.Time
	To   time.Time
}

func RangeFor(p Period, now time.Time) (Range, error) {
	switch p {
	case PeriodWeek:
		return Range{From: now.AddDate(0, 0, -7)}, nil
	case PeriodMonth:
		return Range{From: now.AddDate(0, -1, 0)}, nil
	case PeriodYear:
		return Range{From: now.AddDate(-1, 0, 0)}, nil
	case PeriodAll, "":
		return Range{}, nil
	}
	return Range{}, fmt.Errorf("unknown period %q", p)
}

func (r Range) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return fmt.Errorf("range start %s is not before end %s", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	return nil
}
