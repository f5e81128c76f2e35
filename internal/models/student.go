package models

import "time"

// StudentStatus is the enrollment lifecycle state of a student.
type StudentStatus string

const (
	StudentStatusActive      StudentStatus = "ACTIVE"
	StudentStatusInactive    StudentStatus = "INACTIVE"
	StudentStatusGraduated   StudentStatus = "GRADUATED"
	StudentStatusTransferred StudentStatus = "TRANSFERRED"
)

// Terminal reports whether the status ends class membership for good.
func (s StudentStatus) Terminal() bool {
	switch s {
	case StudentStatusGraduated, StudentStatusTransferred, StudentStatusInactive:
		return true
	}
	return false
}

// Student represents a learner registered in the institution. A student
// belongs to at most one class; terminal statuses force class_id to null.
type Student struct {
	ID        string        `db:"id" json:"id"`
	NIS       string        `db:"nis" json:"nis"`
	FullName  string        `db:"full_name" json:"full_name"`
	ClassID   *string       `db:"class_id" json:"class_id,omitempty"`
	Status    StudentStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Assigned reports whether the student currently occupies a class seat.
func (s *Student) Assigned() bool {
	return s.ClassID != nil && *s.ClassID != ""
}

// StudentDetail carries class and grade context for responses.
type StudentDetail struct {
	Student
	ClassName  *string `db:"class_name" json:"class_name,omitempty"`
	GradeID    *string `db:"grade_id" json:"grade_id,omitempty"`
	GradeName  *string `db:"grade_name" json:"grade_name,omitempty"`
	GradeLevel *int    `db:"grade_level" json:"grade_level,omitempty"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search     string
	ClassID    string
	GradeID    string
	Status     StudentStatus
	Unassigned bool
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
