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

// TariffRepository handles persistence for fee tariffs and their class
// attachments.
type TariffRepository struct {
	db *sqlx.DB
}

// NewTariffRepository constructs the repository.
func NewTariffRepository(db *sqlx.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

const tariffColumns = `id, name, type, amount, billing_frequency, is_active, created_at, updated_at`

// List returns tariffs matching provided filters.
func (r *TariffRepository) List(ctx context.Context, filter models.TariffFilter) ([]models.Tariff, int, error) {
	base := "FROM tariffs WHERE 1=1"
	var args []interface{}

	if filter.Type != "" {
		args = append(args, filter.Type)
		base += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Frequency != "" {
		args = append(args, filter.Frequency)
		base += fmt.Sprintf(" AND billing_frequency = $%d", len(args))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		base += fmt.Sprintf(" AND is_active = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		base += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}

	allowedSorts := map[string]bool{
		"name":       true,
		"amount":     true,
		"type":       true,
		"created_at": true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "name"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", tariffColumns, base, sortBy, order, size, offset)

	var tariffs []models.Tariff
	if err := r.db.SelectContext(ctx, &tariffs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list tariffs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count tariffs: %w", err)
	}
	return tariffs, total, nil
}

// FindByID loads a tariff by identifier.
func (r *TariffRepository) FindByID(ctx context.Context, id string) (*models.Tariff, error) {
	query := fmt.Sprintf(`SELECT %s FROM tariffs WHERE id = $1`, tariffColumns)
	var tariff models.Tariff
	if err := r.db.GetContext(ctx, &tariff, query, id); err != nil {
		return nil, err
	}
	return &tariff, nil
}

// Create inserts a new tariff.
func (r *TariffRepository) Create(ctx context.Context, tariff *models.Tariff) error {
	if tariff.ID == "" {
		tariff.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tariff.CreatedAt.IsZero() {
		tariff.CreatedAt = now
	}
	tariff.UpdatedAt = now

	const query = `INSERT INTO tariffs (id, name, type, amount, billing_frequency, is_active, created_at, updated_at)
        VALUES (:id, :name, :type, :amount, :billing_frequency, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tariff); err != nil {
		return fmt.Errorf("create tariff: %w", err)
	}
	return nil
}

// Update modifies a tariff. Amount changes only affect bills generated after
// the change; issued bills keep their captured amounts.
func (r *TariffRepository) Update(ctx context.Context, tariff *models.Tariff) error {
	tariff.UpdatedAt = time.Now().UTC()
	const query = `UPDATE tariffs SET name = :name, type = :type, amount = :amount, billing_frequency = :billing_frequency, is_active = :is_active, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, tariff); err != nil {
		return fmt.Errorf("update tariff: %w", err)
	}
	return nil
}

// Delete removes a tariff that no class attachment references. Historical
// bill items keep the captured tariff snapshot so they are not a dependency.
func (r *TariffRepository) Delete(ctx context.Context, id string) error {
	var attachments int
	if err := r.db.GetContext(ctx, &attachments, `SELECT COUNT(*) FROM class_tariffs WHERE tariff_id = $1`, id); err != nil {
		return fmt.Errorf("count tariff attachments: %w", err)
	}
	if attachments > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "tariff is attached to classes; detach it first")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tariffs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete tariff: %w", err)
	}
	return nil
}

// AttachToClass links a tariff to a class. Re-attaching an existing link
// reactivates it instead of duplicating the row.
func (r *TariffRepository) AttachToClass(ctx context.Context, classID, tariffID string) error {
	now := time.Now().UTC()
	const query = `INSERT INTO class_tariffs (id, class_id, tariff_id, is_active, created_at, updated_at)
        VALUES ($1, $2, $3, TRUE, $4, $4)
        ON CONFLICT (class_id, tariff_id) DO UPDATE SET is_active = TRUE, updated_at = $4`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), classID, tariffID, now); err != nil {
		return fmt.Errorf("attach tariff: %w", err)
	}
	return nil
}

// DetachFromClass deactivates the class/tariff link. The row stays so history
// queries can still resolve it.
func (r *TariffRepository) DetachFromClass(ctx context.Context, classID, tariffID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE class_tariffs SET is_active = FALSE, updated_at = $1 WHERE class_id = $2 AND tariff_id = $3`,
		time.Now().UTC(), classID, tariffID)
	if err != nil {
		return fmt.Errorf("detach tariff: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "tariff is not attached to this class")
	}
	return nil
}

// ListByClass returns every attachment for a class with the tariff resolved.
func (r *TariffRepository) ListByClass(ctx context.Context, classID string) ([]models.ClassTariffDetail, error) {
	const query = `SELECT ct.id, ct.class_id, ct.tariff_id, ct.is_active, ct.created_at, ct.updated_at,
        t.name, t.type, t.amount, t.billing_frequency, t.is_active AS tariff_active
        FROM class_tariffs ct
        JOIN tariffs t ON t.id = ct.tariff_id
        WHERE ct.class_id = $1
        ORDER BY t.name`
	var details []models.ClassTariffDetail
	if err := r.db.SelectContext(ctx, &details, query, classID); err != nil {
		return nil, fmt.Errorf("list class tariffs: %w", err)
	}
	return details, nil
}

// ListActiveByClass returns the tariffs that currently bill for a class:
// active attachment and active tariff both required.
func (r *TariffRepository) ListActiveByClass(ctx context.Context, classID string) ([]models.Tariff, error) {
	const query = `SELECT t.id, t.name, t.type, t.amount, t.billing_frequency, t.is_active, t.created_at, t.updated_at
        FROM class_tariffs ct
        JOIN tariffs t ON t.id = ct.tariff_id
        WHERE ct.class_id = $1 AND ct.is_active = TRUE AND t.is_active = TRUE
        ORDER BY t.name`
	var tariffs []models.Tariff
	if err := r.db.SelectContext(ctx, &tariffs, query, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("list active class tariffs: %w", err)
	}
	return tariffs, nil
}
