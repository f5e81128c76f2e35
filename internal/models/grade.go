package models

import (
	"regexp"
	"time"
)

// GradeNamePattern constrains grade names, e.g. N1 (nursery) or P4 (primary).
var GradeNamePattern = regexp.MustCompile(`^[NP]\d+$`)

// Grade represents a grade level on the promotion path. Level is unique and
// totally ordered; promotion moves students to level+1.
type Grade struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Level     int       `db:"level" json:"level"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GradeFilter defines filters supported by list endpoints.
type GradeFilter struct {
	IsActive  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
