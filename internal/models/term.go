package models

import "time"

// TermStatus is the lifecycle state of a term within its academic year.
type TermStatus string

const (
	TermStatusUpcoming  TermStatus = "UPCOMING"
	TermStatusActive    TermStatus = "ACTIVE"
	TermStatusCompleted TermStatus = "COMPLETED"
)

// Term models an academic term owned by an academic year. At most one term
// per year is ACTIVE; COMPLETED is terminal. Term dates stay within the
// owning year's range.
type Term struct {
	ID             string     `db:"id" json:"id"`
	AcademicYearID string     `db:"academic_year_id" json:"academic_year_id"`
	Name           string     `db:"name" json:"name"`
	StartDate      time.Time  `db:"start_date" json:"start_date"`
	EndDate        time.Time  `db:"end_date" json:"end_date"`
	Status         TermStatus `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether no further lifecycle transition is allowed.
func (t *Term) Terminal() bool {
	return t.Status == TermStatusCompleted
}

// MonthsSpanned counts calendar months touched by the term, minimum 1.
// A term running Jan 15 through Mar 10 spans 3 months.
func (t *Term) MonthsSpanned() int {
	months := int(t.EndDate.Month()) - int(t.StartDate.Month()) + 12*(t.EndDate.Year()-t.StartDate.Year()) + 1
	if months < 1 {
		return 1
	}
	return months
}

// CurrentPeriod pairs the active academic year with its active term.
type CurrentPeriod struct {
	AcademicYear AcademicYear `json:"academic_year"`
	Term         Term         `json:"term"`
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYearID string
	Status         TermStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
