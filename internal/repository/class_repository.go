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

// ClassRepository handles persistence for classes and their enrollment counters.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, grade_id, name, capacity, current_enrollment, is_active, created_at, updated_at`

// List returns classes with grade context.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	base := `FROM classes c JOIN grades g ON g.id = c.grade_id WHERE 1=1`
	var args []interface{}

	if filter.GradeID != "" {
		args = append(args, filter.GradeID)
		base += fmt.Sprintf(" AND c.grade_id = $%d", len(args))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		base += fmt.Sprintf(" AND c.is_active = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		base += fmt.Sprintf(" AND c.name ILIKE $%d", len(args))
	}

	allowedSorts := map[string]string{
		"name":        "c.name",
		"capacity":    "c.capacity",
		"grade_level": "g.level",
		"created_at":  "c.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.name"
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

	query := fmt.Sprintf(`SELECT c.id, c.grade_id, c.name, c.capacity, c.current_enrollment, c.is_active, c.created_at, c.updated_at,
        g.name AS grade_name, g.level AS grade_level
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, orderBy, order, size, offset)

	var classes []models.ClassDetail
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID loads a class by identifier.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE id = $1`, classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindFirstAvailableInGrade picks the promotion target class: the first
// active class with space in the grade, ordered by name.
func (r *ClassRepository) FindFirstAvailableInGrade(ctx context.Context, gradeID string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes
        WHERE grade_id = $1 AND is_active = TRUE AND current_enrollment < capacity
        ORDER BY name ASC LIMIT 1`, classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, gradeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNoAvailableClass, "no class with available space in target grade")
		}
		return nil, fmt.Errorf("find available class: %w", err)
	}
	return &class, nil
}

// Create inserts a new class with a zero enrollment counter.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	class.CurrentEnrollment = 0
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now

	const query = `INSERT INTO classes (id, grade_id, name, capacity, current_enrollment, is_active, created_at, updated_at)
        VALUES (:id, :grade_id, :name, :capacity, :current_enrollment, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update modifies class metadata. Capacity may not drop below the current
// enrollment; the check and write share one statement so the counter cannot
// move in between.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET grade_id = :grade_id, name = :name, capacity = :capacity, is_active = :is_active, updated_at = :updated_at
        WHERE id = :id AND :capacity >= current_enrollment`
	res, err := r.db.NamedExecContext(ctx, query, class)
	if err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "capacity cannot be lower than current enrollment")
	}
	return nil
}

// Delete removes a class that has no enrolled students.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	var enrolled int
	if err := r.db.GetContext(ctx, &enrolled, `SELECT COUNT(*) FROM students WHERE class_id = $1`, id); err != nil {
		return fmt.Errorf("count class students: %w", err)
	}
	if enrolled > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "class still has enrolled students")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}

// Reconcile recounts students referencing the class and repairs the stored
// counter when it drifted. Production mutations never use this path; it is a
// drift detection and repair tool.
func (r *ClassRepository) Reconcile(ctx context.Context, id string) (result *models.ClassReconciliation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var stored int
	if err = tx.GetContext(ctx, &stored, `SELECT current_enrollment FROM classes WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, fmt.Errorf("lock class: %w", err)
	}

	var actual int
	if err = tx.GetContext(ctx, &actual, `SELECT COUNT(*) FROM students WHERE class_id = $1`, id); err != nil {
		return nil, fmt.Errorf("count class students: %w", err)
	}

	result = &models.ClassReconciliation{ClassID: id, StoredCount: stored, ActualCount: actual}
	if stored != actual {
		if _, err = tx.ExecContext(ctx, `UPDATE classes SET current_enrollment = $1, updated_at = $2 WHERE id = $3`,
			actual, time.Now().UTC(), id); err != nil {
			return nil, fmt.Errorf("repair enrollment counter: %w", err)
		}
		result.Repaired = true
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile tx: %w", err)
	}
	return result, nil
}
