package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

// StudentRepository handles persistence for student records. Class assignment
// mutations live in EnrollmentRepository; this repository only covers the
// student master data.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, nis, full_name, class_id, status, created_at, updated_at`

// List returns students matching provided filters with class context.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := `FROM students s
        LEFT JOIN classes c ON c.id = s.class_id
        LEFT JOIN grades g ON g.id = c.grade_id
        WHERE 1=1`
	var args []interface{}

	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		base += fmt.Sprintf(" AND s.class_id = $%d", len(args))
	}
	if filter.GradeID != "" {
		args = append(args, filter.GradeID)
		base += fmt.Sprintf(" AND c.grade_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		base += fmt.Sprintf(" AND s.status = $%d", len(args))
	}
	if filter.Unassigned {
		base += " AND s.class_id IS NULL"
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		base += fmt.Sprintf(" AND (s.full_name ILIKE $%d OR s.nis ILIKE $%d)", len(args), len(args))
	}

	allowedSorts := map[string]string{
		"full_name":  "s.full_name",
		"nis":        "s.nis",
		"status":     "s.status",
		"created_at": "s.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "s.full_name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.nis, s.full_name, s.class_id, s.status, s.created_at, s.updated_at,
        c.name AS class_name, g.name AS grade_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, orderBy, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID loads a student by identifier.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindDetailByID loads a student with class and grade names resolved.
func (r *StudentRepository) FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT s.id, s.nis, s.full_name, s.class_id, s.status, s.created_at, s.updated_at,
        c.name AS class_name, g.name AS grade_name
        FROM students s
        LEFT JOIN classes c ON c.id = s.class_id
        LEFT JOIN grades g ON g.id = c.grade_id
        WHERE s.id = $1`
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByNIS checks student number uniqueness.
func (r *StudentRepository) ExistsByNIS(ctx context.Context, nis, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE nis = $1"
	args := []interface{}{nis}
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student nis: %w", err)
	}
	return true, nil
}

// Create inserts a new student. New students start unassigned and active.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.Status == "" {
		student.Status = models.StudentStatusActive
	}
	student.ClassID = nil
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	const query = `INSERT INTO students (id, nis, full_name, class_id, status, created_at, updated_at)
        VALUES (:id, :nis, :full_name, :class_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies student master data. Status and class assignment change
// through EnrollmentRepository only.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET nis = :nis, full_name = :full_name, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student that owns no bills.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	var bills int
	if err := r.db.GetContext(ctx, &bills, `SELECT COUNT(*) FROM bills WHERE student_id = $1`, id); err != nil {
		return fmt.Errorf("count student bills: %w", err)
	}
	if bills > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "student has billing history; deactivate instead")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

// ListActiveByClass returns the active students currently assigned to a
// class, used by bulk bill generation.
func (r *StudentRepository) ListActiveByClass(ctx context.Context, classID string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE class_id = $1 AND status = $2 ORDER BY full_name`, studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, classID, models.StudentStatusActive); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return students, nil
}
