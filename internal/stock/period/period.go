// Package period models reporting months that start on a fixed cutoff day.
package period

import (
	"fmt"
	"time"
)

// DefaultCutoffDay is the day of month on which a reporting period begins.
const DefaultCutoffDay = 21

// Period is the half-open interval [Begin, End) of one reporting month.
type Period struct {
	Begin time.Time
	End   time.Time
}

// Of returns the period containing t. cutoffDay must be within 1..28 so every
// month has that day.
func Of(t time.Time, cutoffDay int) Period {
	y, m, d := t.Date()
	if d < cutoffDay {
		m--
	}
	begin := time.Date(y, m, cutoffDay, 0, 0, 0, 0, t.Location())
	return Period{Begin: begin, End: begin.AddDate(0, 1, 0)}
}

// Previous returns the period immediately before p.
func (p Period) Previous() Period {
	return Period{Begin: p.Begin.AddDate(0, -1, 0), End: p.Begin}
}

// Next returns the period immediately after p.
func (p Period) Next() Period {
	return Period{Begin: p.End, End: p.End.AddDate(0, 1, 0)}
}

// Contains reports whether t falls within [Begin, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Begin) && t.Before(p.End)
}

// Before reports whether p ends no later than other begins.
func (p Period) Before(other Period) bool {
	return !p.End.After(other.Begin)
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.Begin.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

// MonthsBetween counts whole periods from the start of a to the start of b.
// It is negative when b precedes a.
func MonthsBetween(a, b Period) int {
	ay, am, _ := a.Begin.Date()
	by, bm, _ := b.Begin.Date()
	return (by-ay)*12 + int(bm-am)
}
