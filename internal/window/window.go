// Package window computes contract status and the review, dispute and
// settlement windows from a contract's upload dates.
package window

import (
	"time"
)

type Status string

const (
	Pending Status = "PENDING"
	Active  Status = "ACTIVE"
	Closed  Status = "CLOSED"
)

// Window is a contract's upload period; both bounds are inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Valid() bool {
	return !w.Start.After(w.End)
}

type Policy struct {
	// Location is the calendar used for day arithmetic.
	Location        *time.Location
	ReviewGraceDays int
	SettlementGrace time.Duration
}

func NewPolicy(loc *time.Location, reviewGraceDays int, settlementGrace time.Duration) Policy {
	if loc == nil {
		loc = time.UTC
	}
	return Policy{Location: loc, ReviewGraceDays: reviewGraceDays, SettlementGrace: settlementGrace}
}

func (p Policy) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Local converts t to the policy calendar.
func (p Policy) Local(t time.Time) time.Time {
	return t.In(p.loc())
}

func (p Policy) Status(w Window, now time.Time) Status {
	switch {
	case now.Before(w.Start):
		return Pending
	case now.After(w.End):
		return Closed
	default:
		return Active
	}
}

// ReviewDeadline is upload end plus the grace period in calendar days, so a
// DST shift does not move it off the same wall-clock time.
func (p Policy) ReviewDeadline(w Window) time.Time {
	return w.End.In(p.loc()).AddDate(0, 0, p.ReviewGraceDays)
}

// InReviewWindow reports whether disputes are permitted at now.
func (p Policy) InReviewWindow(w Window, now time.Time) bool {
	return !now.Before(w.Start) && !now.After(p.ReviewDeadline(w))
}

// AskDueDate is the last minute of the review deadline's local day.
func (p Policy) AskDueDate(w Window) time.Time {
	d := p.ReviewDeadline(w)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 0, 0, d.Location())
}

func (p Policy) SettlementEligible(w Window, now time.Time) bool {
	return now.After(w.End.Add(p.SettlementGrace))
}

// SettlementCutoff returns the instant a contract's upload end must precede
// for it to be settlement eligible at now.
func (p Policy) SettlementCutoff(now time.Time) time.Time {
	return now.Add(-p.SettlementGrace)
}
