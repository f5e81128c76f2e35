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

// AcademicYearRepository handles persistence for academic years.
type AcademicYearRepository struct {
	db *sqlx.DB
}

// NewAcademicYearRepository instantiates an academic year repository.
func NewAcademicYearRepository(db *sqlx.DB) *AcademicYearRepository {
	return &AcademicYearRepository{db: db}
}

const academicYearColumns = `id, name, start_date, end_date, status, created_at, updated_at`

// List returns academic years matching provided filters.
func (r *AcademicYearRepository) List(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, int, error) {
	base := "FROM academic_years WHERE 1=1"
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		base += fmt.Sprintf(" AND status = $%d", len(args))
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":       true,
		"start_date": true,
		"end_date":   true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", academicYearColumns, base, sortBy, order, size, offset)

	var years []models.AcademicYear
	if err := r.db.SelectContext(ctx, &years, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list academic years: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count academic years: %w", err)
	}
	return years, total, nil
}

// FindByID loads an academic year by identifier.
func (r *AcademicYearRepository) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	query := fmt.Sprintf(`SELECT %s FROM academic_years WHERE id = $1`, academicYearColumns)
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// FindActive returns the currently active academic year.
func (r *AcademicYearRepository) FindActive(ctx context.Context) (*models.AcademicYear, error) {
	query := fmt.Sprintf(`SELECT %s FROM academic_years WHERE status = $1 LIMIT 1`, academicYearColumns)
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, models.AcademicYearStatusActive); err != nil {
		return nil, err
	}
	return &year, nil
}

// Create inserts a new academic year in draft state.
func (r *AcademicYearRepository) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	if year.Status == "" {
		year.Status = models.AcademicYearStatusDraft
	}
	now := time.Now().UTC()
	if year.CreatedAt.IsZero() {
		year.CreatedAt = now
	}
	year.UpdatedAt = now

	const query = `INSERT INTO academic_years (id, name, start_date, end_date, status, created_at, updated_at)
        VALUES (:id, :name, :start_date, :end_date, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("create academic year: %w", err)
	}
	return nil
}

// Update modifies name and dates of a non-closed academic year.
func (r *AcademicYearRepository) Update(ctx context.Context, year *models.AcademicYear) error {
	year.UpdatedAt = time.Now().UTC()
	const query = `UPDATE academic_years SET name = :name, start_date = :start_date, end_date = :end_date, updated_at = :updated_at
        WHERE id = :id AND status <> 'CLOSED'`
	res, err := r.db.NamedExecContext(ctx, query, year)
	if err != nil {
		return fmt.Errorf("update academic year: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrInvalidState, "closed academic years cannot be modified")
	}
	return nil
}

// Activate atomically demotes any other active year back to draft and marks
// the target active. Closed years cannot be reactivated. The demote and
// activate run in one transaction so no two active years are ever observable.
func (r *AcademicYearRepository) Activate(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate year tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status models.AcademicYearStatus
	if err = tx.GetContext(ctx, &status, `SELECT status FROM academic_years WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return fmt.Errorf("lock academic year: %w", err)
	}
	if status == models.AcademicYearStatusClosed {
		return appErrors.Clone(appErrors.ErrInvalidState, "closed academic years cannot be activated")
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET status = $1, updated_at = $2 WHERE status = $3 AND id <> $4`,
		models.AcademicYearStatusDraft, now, models.AcademicYearStatusActive, id); err != nil {
		return fmt.Errorf("demote active academic years: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET status = $1, updated_at = $2 WHERE id = $3`,
		models.AcademicYearStatusActive, now, id); err != nil {
		return fmt.Errorf("activate academic year: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit activate year tx: %w", err)
	}
	return nil
}

// Close marks an active academic year closed. Every owned term must already
// be completed.
func (r *AcademicYearRepository) Close(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close year tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status models.AcademicYearStatus
	if err = tx.GetContext(ctx, &status, `SELECT status FROM academic_years WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return fmt.Errorf("lock academic year: %w", err)
	}
	if status == models.AcademicYearStatusClosed {
		return appErrors.Clone(appErrors.ErrInvalidState, "academic year is already closed")
	}

	var pending int
	if err = tx.GetContext(ctx, &pending, `SELECT COUNT(*) FROM terms WHERE academic_year_id = $1 AND status <> $2`,
		id, models.TermStatusCompleted); err != nil {
		return fmt.Errorf("count open terms: %w", err)
	}
	if pending > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("%d terms are not yet completed", pending))
	}

	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET status = $1, updated_at = $2 WHERE id = $3`,
		models.AcademicYearStatusClosed, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("close academic year: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit close year tx: %w", err)
	}
	return nil
}

// CountDependents returns the number of terms and bills owned by the year.
func (r *AcademicYearRepository) CountDependents(ctx context.Context, id string) (int, error) {
	const query = `SELECT
        (SELECT COUNT(*) FROM terms WHERE academic_year_id = $1) +
        (SELECT COUNT(*) FROM bills WHERE academic_year_id = $1)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count academic year dependents: %w", err)
	}
	return count, nil
}

// Delete removes an academic year that owns no terms or bills.
func (r *AcademicYearRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM academic_years WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete academic year: %w", err)
	}
	return nil
}
