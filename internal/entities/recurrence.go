package entities

import (
	"fmt"
	"time"
)

// RecurrenceType selects the repetition rule
type RecurrenceType string

const (
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
	RecurYearly  RecurrenceType = "yearly"
)

// RecurrencePattern is a reusable repetition rule owned by at most one
// master entity. The master stores a forward reference to the pattern
// id and the pattern stores a back reference to the master, so the
// pattern id is reserved before either side is persisted.
type RecurrencePattern struct {
	ID        string // Reserved before first persist
	AccountID string
	ObjType   string
	EntityID  string // Master entity owning this pattern

	Type     RecurrenceType
	Interval int // Every N days/weeks/months/years

	DayOfWeekMask int // Weekly: bitmask, Sunday = bit 0
	DayOfMonth    int // Monthly/yearly
	MonthOfYear   int // Yearly

	DateStart time.Time
	DateEnd   time.Time // Zero for no termination
}

// Validate checks the pattern is internally consistent
func (p *RecurrencePattern) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("account ID is required")
	}
	if p.Interval < 1 {
		return fmt.Errorf("interval must be at least 1")
	}
	switch p.Type {
	case RecurDaily:
	case RecurWeekly:
		if p.DayOfWeekMask == 0 {
			return fmt.Errorf("weekly pattern requires a day-of-week mask")
		}
	case RecurMonthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return fmt.Errorf("monthly pattern requires a day of month between 1 and 31")
		}
	case RecurYearly:
		if p.MonthOfYear < 1 || p.MonthOfYear > 12 {
			return fmt.Errorf("yearly pattern requires a month between 1 and 12")
		}
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return fmt.Errorf("yearly pattern requires a day of month between 1 and 31")
		}
	default:
		return fmt.Errorf("unknown recurrence type: %s", p.Type)
	}
	if p.DateStart.IsZero() {
		return fmt.Errorf("start date is required")
	}
	if !p.DateEnd.IsZero() && p.DateEnd.Before(p.DateStart) {
		return fmt.Errorf("end date must not be before start date")
	}
	return nil
}
