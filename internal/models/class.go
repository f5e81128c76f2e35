package models

import "time"

// Class represents a classroom section within a grade. CurrentEnrollment is a
// denormalized counter mirroring the count of students whose class_id points
// here; it is maintained incrementally inside the same transaction as the
// student row and must satisfy 0 <= current_enrollment <= capacity.
type Class struct {
	ID                string    `db:"id" json:"id"`
	GradeID           string    `db:"grade_id" json:"grade_id"`
	Name              string    `db:"name" json:"name"`
	Capacity          int       `db:"capacity" json:"capacity"`
	CurrentEnrollment int       `db:"current_enrollment" json:"current_enrollment"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// HasSpace reports whether one more student fits.
func (c *Class) HasSpace() bool {
	return c.CurrentEnrollment < c.Capacity
}

// ClassDetail extends Class with grade context for responses.
type ClassDetail struct {
	Class
	GradeName  string `db:"grade_name" json:"grade_name"`
	GradeLevel int    `db:"grade_level" json:"grade_level"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	GradeID   string
	IsActive  *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ClassReconciliation reports a drift repair on the enrollment counter.
type ClassReconciliation struct {
	ClassID     string `json:"class_id"`
	StoredCount int    `json:"stored_count"`
	ActualCount int    `json:"actual_count"`
	Repaired    bool   `json:"repaired"`
}
