package refresh

import "time"

// Policy decides when the weekly refresh is due.
type Policy struct {
	Anchor   time.Weekday
	Location *time.Location
}

// NewPolicy returns a policy anchored on the given weekday. A nil location
// means UTC.
func NewPolicy(anchor time.Weekday, loc *time.Location) Policy {
	if loc == nil {
		loc = time.UTC
	}
	return Policy{Anchor: anchor, Location: loc}
}

// WeekBucket returns midnight of the Sunday that starts t's week. Weeks start
// on Sunday whatever the anchor day is.
func (p Policy) WeekBucket(t time.Time) time.Time {
	t = t.In(p.loc())
	y, m, d := t.Date()
	return time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, p.loc())
}

// Due reports whether a refresh should run at now given the last successful
// fetch. A refresh is due when nothing was ever fetched, or when now falls on
// the anchor day and the last success belongs to an earlier week. A missed
// anchor day is not caught up later in the week.
func (p Policy) Due(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	if now.In(p.loc()).Weekday() != p.Anchor {
		return false
	}
	return !p.WeekBucket(now).Equal(p.WeekBucket(*last))
}

func (p Policy) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}
