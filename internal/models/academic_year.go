package models

import "time"

// AcademicYearStatus is the lifecycle state of an academic year.
type AcademicYearStatus string

const (
	AcademicYearStatusDraft  AcademicYearStatus = "DRAFT"
	AcademicYearStatusActive AcademicYearStatus = "ACTIVE"
	AcademicYearStatusClosed AcademicYearStatus = "CLOSED"
)

// AcademicYear models a school year. At most one year is ACTIVE at any time;
// CLOSED is terminal.
type AcademicYear struct {
	ID        string             `db:"id" json:"id"`
	Name      string             `db:"name" json:"name"`
	StartDate time.Time          `db:"start_date" json:"start_date"`
	EndDate   time.Time          `db:"end_date" json:"end_date"`
	Status    AcademicYearStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt time.Time          `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether no further lifecycle transition is allowed.
func (y *AcademicYear) Terminal() bool {
	return y.Status == AcademicYearStatusClosed
}

// AcademicYearFilter defines filters supported by list endpoints.
type AcademicYearFilter struct {
	Status    AcademicYearStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
