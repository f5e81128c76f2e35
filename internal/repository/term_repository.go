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

// TermRepository handles persistence for academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

const termColumns = `id, academic_year_id, name, start_date, end_date, status, created_at, updated_at`

// List returns terms matching provided filters.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	base := "FROM terms WHERE 1=1"
	var args []interface{}

	if filter.AcademicYearID != "" {
		args = append(args, filter.AcademicYearID)
		base += fmt.Sprintf(" AND academic_year_id = $%d", len(args))
	}
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", termColumns, base, sortBy, order, size, offset)

	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}

	return terms, total, nil
}

// FindByID loads a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE id = $1`, termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindCurrent returns the active term of the active academic year whose date
// range covers the reference time.
func (r *TermRepository) FindCurrent(ctx context.Context, at time.Time) (*models.CurrentPeriod, error) {
	const query = `SELECT
        y.id AS year_id, y.name AS year_name, y.start_date AS year_start, y.end_date AS year_end, y.status AS year_status,
        t.id, t.academic_year_id, t.name, t.start_date, t.end_date, t.status, t.created_at, t.updated_at
        FROM terms t
        JOIN academic_years y ON y.id = t.academic_year_id
        WHERE t.status = $1 AND y.status = $2 AND t.start_date <= $3 AND t.end_date >= $3
        LIMIT 1`

	var row struct {
		YearID     string                    `db:"year_id"`
		YearName   string                    `db:"year_name"`
		YearStart  time.Time                 `db:"year_start"`
		YearEnd    time.Time                 `db:"year_end"`
		YearStatus models.AcademicYearStatus `db:"year_status"`
		models.Term
	}
	if err := r.db.GetContext(ctx, &row, query, models.TermStatusActive, models.AcademicYearStatusActive, at); err != nil {
		return nil, err
	}
	return &models.CurrentPeriod{
		AcademicYear: models.AcademicYear{
			ID:        row.YearID,
			Name:      row.YearName,
			StartDate: row.YearStart,
			EndDate:   row.YearEnd,
			Status:    row.YearStatus,
		},
		Term: row.Term,
	}, nil
}

// Create inserts a new term in upcoming state.
func (r *TermRepository) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	if term.Status == "" {
		term.Status = models.TermStatusUpcoming
	}
	now := time.Now().UTC()
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now

	const query = `INSERT INTO terms (id, academic_year_id, name, start_date, end_date, status, created_at, updated_at)
        VALUES (:id, :academic_year_id, :name, :start_date, :end_date, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// Update modifies name and dates of a non-completed term.
func (r *TermRepository) Update(ctx context.Context, term *models.Term) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE terms SET name = :name, start_date = :start_date, end_date = :end_date, updated_at = :updated_at
        WHERE id = :id AND status <> 'COMPLETED'`
	res, err := r.db.NamedExecContext(ctx, query, term)
	if err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrInvalidState, "completed terms cannot be modified")
	}
	return nil
}

// Activate marks the target term active and demotes any other active sibling
// back to upcoming, all in one transaction. A sibling that already started
// must be completed by an administrator first; it is never silently demoted.
func (r *TermRepository) Activate(ctx context.Context, id string, at time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate term tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var target models.Term
	if err = tx.GetContext(ctx, &target, fmt.Sprintf(`SELECT %s FROM terms WHERE id = $1 FOR UPDATE`, termColumns), id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return fmt.Errorf("lock term: %w", err)
	}
	if target.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidState, "completed terms cannot be activated")
	}

	var sibling models.Term
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE academic_year_id = $1 AND status = $2 AND id <> $3 FOR UPDATE`, termColumns)
	err = tx.GetContext(ctx, &sibling, query, target.AcademicYearID, models.TermStatusActive, id)
	switch {
	case err == sql.ErrNoRows:
		err = nil
	case err != nil:
		return fmt.Errorf("lock active sibling term: %w", err)
	default:
		if !sibling.StartDate.After(at) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed,
				fmt.Sprintf("term %s already started; complete it before activating another", sibling.Name))
		}
		if _, err = tx.ExecContext(ctx, `UPDATE terms SET status = $1, updated_at = $2 WHERE id = $3`,
			models.TermStatusUpcoming, time.Now().UTC(), sibling.ID); err != nil {
			return fmt.Errorf("demote sibling term: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE terms SET status = $1, updated_at = $2 WHERE id = $3`,
		models.TermStatusActive, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("activate term: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit activate term tx: %w", err)
	}
	return nil
}

// Complete marks an active term completed once its end date has passed.
func (r *TermRepository) Complete(ctx context.Context, id string, at time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete term tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var term models.Term
	if err = tx.GetContext(ctx, &term, fmt.Sprintf(`SELECT %s FROM terms WHERE id = $1 FOR UPDATE`, termColumns), id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return fmt.Errorf("lock term: %w", err)
	}
	if term.Status != models.TermStatusActive {
		return appErrors.Clone(appErrors.ErrInvalidState, "only active terms can be completed")
	}
	if at.Before(term.EndDate) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "term has not reached its end date")
	}

	if _, err = tx.ExecContext(ctx, `UPDATE terms SET status = $1, updated_at = $2 WHERE id = $3`,
		models.TermStatusCompleted, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("complete term: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit complete term tx: %w", err)
	}
	return nil
}

// Delete removes a term that owns no bills.
func (r *TermRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM terms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	return nil
}

// CountBills returns the number of bills referencing the term.
func (r *TermRepository) CountBills(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM bills WHERE term_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count term bills: %w", err)
	}
	return count, nil
}
