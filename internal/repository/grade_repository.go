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

// GradeRepository handles persistence for grade levels.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

const gradeColumns = `id, name, level, is_active, created_at, updated_at`

// List returns grades ordered by level.
func (r *GradeRepository) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error) {
	base := "FROM grades WHERE 1=1"
	var args []interface{}

	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		base += fmt.Sprintf(" AND is_active = $%d", len(args))
	}

	sortBy := filter.SortBy
	if sortBy != "name" && sortBy != "level" {
		sortBy = "level"
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
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", gradeColumns, base, sortBy, order, size, offset)

	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list grades: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count grades: %w", err)
	}
	return grades, total, nil
}

// FindByID loads a grade by identifier.
func (r *GradeRepository) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	query := fmt.Sprintf(`SELECT %s FROM grades WHERE id = $1`, gradeColumns)
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// FindByLevel loads the grade occupying the given level, used to resolve the
// promotion target (current level + 1).
func (r *GradeRepository) FindByLevel(ctx context.Context, level int) (*models.Grade, error) {
	query := fmt.Sprintf(`SELECT %s FROM grades WHERE level = $1`, gradeColumns)
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, level); err != nil {
		return nil, err
	}
	return &grade, nil
}

// ExistsByLevel checks level uniqueness.
func (r *GradeRepository) ExistsByLevel(ctx context.Context, level int, excludeID string) (bool, error) {
	query := "SELECT 1 FROM grades WHERE level = $1"
	args := []interface{}{level}
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check grade level: %w", err)
	}
	return true, nil
}

// Create inserts a new grade.
func (r *GradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = now
	}
	grade.UpdatedAt = now

	const query = `INSERT INTO grades (id, name, level, is_active, created_at, updated_at)
        VALUES (:id, :name, :level, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("create grade: %w", err)
	}
	return nil
}

// Update modifies an existing grade.
func (r *GradeRepository) Update(ctx context.Context, grade *models.Grade) error {
	grade.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grades SET name = :name, level = :level, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	return nil
}

// Delete removes a grade unless classes or students still reference it.
func (r *GradeRepository) Delete(ctx context.Context, id string) error {
	const depQuery = `SELECT
        (SELECT COUNT(*) FROM classes WHERE grade_id = $1) +
        (SELECT COUNT(*) FROM students s JOIN classes c ON c.id = s.class_id WHERE c.grade_id = $1)`
	var deps int
	if err := r.db.GetContext(ctx, &deps, depQuery, id); err != nil {
		return fmt.Errorf("count grade dependents: %w", err)
	}
	if deps > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "grade still owns classes or students")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM grades WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete grade: %w", err)
	}
	return nil
}
