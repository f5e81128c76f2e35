package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

// BillRepository handles persistence for bills, bill items, and payment
// facts. Every mutation locks the bill row FOR UPDATE, replays the state
// transition on the loaded model, and persists the result in one
// transaction.
type BillRepository struct {
	db *sqlx.DB
}

// NewBillRepository constructs the repository.
func NewBillRepository(db *sqlx.DB) *BillRepository {
	return &BillRepository{db: db}
}

const billColumns = `id, student_id, academic_year_id, term_id, subtotal, discount, tax, total_amount, paid_amount, balance, status, due_date, paid_date, notes, created_at, updated_at`

const billItemColumns = `id, bill_id, tariff_id, name, type, amount, paid_amount, balance, status, created_at`

// insertBillTx writes a bill and its items inside an existing transaction.
// Shared with the Atomic facade so enrollment and billing commit together.
func insertBillTx(ctx context.Context, tx *sqlx.Tx, bill *models.Bill) error {
	if bill.ID == "" {
		bill.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	bill.UpdatedAt = now

	const billQuery = `INSERT INTO bills (id, student_id, academic_year_id, term_id, subtotal, discount, tax, total_amount, paid_amount, balance, status, due_date, paid_date, notes, created_at, updated_at)
        VALUES (:id, :student_id, :academic_year_id, :term_id, :subtotal, :discount, :tax, :total_amount, :paid_amount, :balance, :status, :due_date, :paid_date, :notes, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, billQuery, bill); err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}

	const itemQuery = `INSERT INTO bill_items (id, bill_id, tariff_id, name, type, amount, paid_amount, balance, status, created_at)
        VALUES (:id, :bill_id, :tariff_id, :name, :type, :amount, :paid_amount, :balance, :status, :created_at)`
	for idx := range bill.Items {
		item := &bill.Items[idx]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.BillID = bill.ID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, itemQuery, item); err != nil {
			return fmt.Errorf("insert bill item: %w", err)
		}
	}
	return nil
}

// existsForStudentTermTx reports whether a non-cancelled bill already exists
// for the student and term. Bill generation is idempotent per (student, term).
func existsForStudentTermTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (bool, error) {
	var exists int
	err := tx.GetContext(ctx, &exists,
		`SELECT 1 FROM bills WHERE student_id = $1 AND term_id = $2 AND status <> $3 LIMIT 1`,
		studentID, termID, models.BillStatusCancelled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existing bill: %w", err)
	}
	return true, nil
}

// Create persists a computed bill draft with its items.
func (r *BillRepository) Create(ctx context.Context, bill *models.Bill) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create bill tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var duplicate bool
	if duplicate, err = existsForStudentTermTx(ctx, tx, bill.StudentID, bill.TermID); err != nil {
		return err
	}
	if duplicate {
		return appErrors.Clone(appErrors.ErrConflict, "student already has a bill for this term")
	}

	if err = insertBillTx(ctx, tx, bill); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create bill tx: %w", err)
	}
	return nil
}

// ExistsForStudentTerm is the non-transactional duplicate check used by bulk
// generation to skip students cheaply before drafting.
func (r *BillRepository) ExistsForStudentTerm(ctx context.Context, studentID, termID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists,
		`SELECT 1 FROM bills WHERE student_id = $1 AND term_id = $2 AND status <> $3 LIMIT 1`,
		studentID, termID, models.BillStatusCancelled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existing bill: %w", err)
	}
	return true, nil
}

// FindByID loads a bill with its items.
func (r *BillRepository) FindByID(ctx context.Context, id string) (*models.Bill, error) {
	query := fmt.Sprintf(`SELECT %s FROM bills WHERE id = $1`, billColumns)
	var bill models.Bill
	if err := r.db.GetContext(ctx, &bill, query, id); err != nil {
		return nil, err
	}

	itemQuery := fmt.Sprintf(`SELECT %s FROM bill_items WHERE bill_id = $1 ORDER BY name`, billItemColumns)
	if err := r.db.SelectContext(ctx, &bill.Items, itemQuery, id); err != nil {
		return nil, fmt.Errorf("load bill items: %w", err)
	}
	return &bill, nil
}

// List returns bills matching provided filters with student context.
func (r *BillRepository) List(ctx context.Context, filter models.BillFilter) ([]models.BillDetail, int, error) {
	base := `FROM bills b JOIN students s ON s.id = b.student_id WHERE 1=1`
	var args []interface{}

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		base += fmt.Sprintf(" AND b.student_id = $%d", len(args))
	}
	if filter.AcademicYearID != "" {
		args = append(args, filter.AcademicYearID)
		base += fmt.Sprintf(" AND b.academic_year_id = $%d", len(args))
	}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		base += fmt.Sprintf(" AND b.term_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		base += fmt.Sprintf(" AND b.status = $%d", len(args))
	}

	allowedSorts := map[string]string{
		"due_date":     "b.due_date",
		"total_amount": "b.total_amount",
		"balance":      "b.balance",
		"status":       "b.status",
		"created_at":   "b.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "b.due_date"
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

	query := fmt.Sprintf(`SELECT b.id, b.student_id, b.academic_year_id, b.term_id, b.subtotal, b.discount, b.tax,
        b.total_amount, b.paid_amount, b.balance, b.status, b.due_date, b.paid_date, b.notes, b.created_at, b.updated_at,
        s.full_name AS student_name, s.nis AS student_nis
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, orderBy, order, size, offset)

	var bills []models.BillDetail
	if err := r.db.SelectContext(ctx, &bills, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bills: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}
	return bills, total, nil
}

// lockBill loads a bill row FOR UPDATE.
func lockBill(ctx context.Context, tx *sqlx.Tx, id string) (*models.Bill, error) {
	var bill models.Bill
	query := fmt.Sprintf(`SELECT %s FROM bills WHERE id = $1 FOR UPDATE`, billColumns)
	if err := tx.GetContext(ctx, &bill, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bill not found")
		}
		return nil, fmt.Errorf("lock bill: %w", err)
	}
	return &bill, nil
}

// persistBillTx writes the mutable bill fields back.
func persistBillTx(ctx context.Context, tx *sqlx.Tx, bill *models.Bill) error {
	bill.UpdatedAt = time.Now().UTC()
	const query = `UPDATE bills SET subtotal = :subtotal, discount = :discount, tax = :tax, total_amount = :total_amount,
        paid_amount = :paid_amount, balance = :balance, status = :status, paid_date = :paid_date, notes = :notes, updated_at = :updated_at
        WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, bill); err != nil {
		return fmt.Errorf("persist bill: %w", err)
	}
	return nil
}

// insertPaymentTx records a payment fact.
func insertPaymentTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payments (id, bill_id, bill_item_id, amount, method, reference, reversal, reason, created_at)
        VALUES (:id, :bill_id, :bill_item_id, :amount, :method, :reference, :reversal, :reason, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// mutate runs fn against a locked bill and persists the outcome.
func (r *BillRepository) mutate(ctx context.Context, id string, fn func(tx *sqlx.Tx, bill *models.Bill) error) (bill *models.Bill, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bill tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	bill, err = lockBill(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err = fn(tx, bill); err != nil {
		return nil, err
	}
	if err = persistBillTx(ctx, tx, bill); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bill tx: %w", err)
	}
	return bill, nil
}

// RecordPayment applies a payment to the bill-level ledger and stores the
// payment fact.
func (r *BillRepository) RecordPayment(ctx context.Context, billID string, amount decimal.Decimal, method, reference string) (*models.Bill, error) {
	return r.mutate(ctx, billID, func(tx *sqlx.Tx, bill *models.Bill) error {
		now := time.Now().UTC()
		if err := bill.ApplyPayment(amount, now); err != nil {
			return err
		}
		return insertPaymentTx(ctx, tx, &models.Payment{
			BillID:    billID,
			Amount:    amount,
			Method:    method,
			Reference: reference,
		})
	})
}

// ReversePayment undoes part or all of the recorded payments and stores a
// reversal fact.
func (r *BillRepository) ReversePayment(ctx context.Context, billID string, amount decimal.Decimal, reason string) (*models.Bill, error) {
	return r.mutate(ctx, billID, func(tx *sqlx.Tx, bill *models.Bill) error {
		if err := bill.ReversePayment(amount); err != nil {
			return err
		}
		bill.AppendNote(fmt.Sprintf("payment of %s reversed: %s", amount.StringFixed(2), reason), time.Now().UTC())
		return insertPaymentTx(ctx, tx, &models.Payment{
			BillID:   billID,
			Amount:   amount,
			Reversal: true,
			Reason:   reason,
		})
	})
}

// Cancel voids an unpaid bill.
func (r *BillRepository) Cancel(ctx context.Context, billID, reason string) (*models.Bill, error) {
	return r.mutate(ctx, billID, func(tx *sqlx.Tx, bill *models.Bill) error {
		if err := bill.Cancel(); err != nil {
			return err
		}
		if reason != "" {
			bill.AppendNote("cancelled: "+reason, time.Now().UTC())
		}
		return nil
	})
}

// ApplyDiscount sets the discount on a pending bill.
func (r *BillRepository) ApplyDiscount(ctx context.Context, billID string, discount decimal.Decimal, reason string) (*models.Bill, error) {
	return r.mutate(ctx, billID, func(tx *sqlx.Tx, bill *models.Bill) error {
		if err := bill.ApplyDiscount(discount); err != nil {
			return err
		}
		if reason != "" {
			bill.AppendNote(fmt.Sprintf("discount of %s applied: %s", discount.StringFixed(2), reason), time.Now().UTC())
		}
		return nil
	})
}

// AppendNote attaches a timestamped note to the bill.
func (r *BillRepository) AppendNote(ctx context.Context, billID, note string) (*models.Bill, error) {
	if strings.TrimSpace(note) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "note cannot be empty")
	}
	return r.mutate(ctx, billID, func(tx *sqlx.Tx, bill *models.Bill) error {
		bill.AppendNote(note, time.Now().UTC())
		return nil
	})
}

// RecordItemPayment applies a payment to a single line's independent ledger
// and stores the payment fact against that item.
func (r *BillRepository) RecordItemPayment(ctx context.Context, billID, itemID string, amount decimal.Decimal, method, reference string) (item *models.BillItem, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin item payment tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	bill, err := lockBill(ctx, tx, billID)
	if err != nil {
		return nil, err
	}
	if !bill.Payable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("bill is %s and cannot accept payments", strings.ToLower(string(bill.Status))))
	}

	var loaded models.BillItem
	itemQuery := fmt.Sprintf(`SELECT %s FROM bill_items WHERE id = $1 AND bill_id = $2 FOR UPDATE`, billItemColumns)
	if err = tx.GetContext(ctx, &loaded, itemQuery, itemID, billID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bill item not found")
		}
		return nil, fmt.Errorf("lock bill item: %w", err)
	}

	if err = loaded.ApplyPayment(amount); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE bill_items SET paid_amount = $1, balance = $2, status = $3 WHERE id = $4`,
		loaded.PaidAmount, loaded.Balance, loaded.Status, loaded.ID); err != nil {
		return nil, fmt.Errorf("persist bill item: %w", err)
	}
	if err = insertPaymentTx(ctx, tx, &models.Payment{
		BillID:     billID,
		BillItemID: &loaded.ID,
		Amount:     amount,
		Method:     method,
		Reference:  reference,
	}); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit item payment tx: %w", err)
	}
	return &loaded, nil
}

// MarkOverdueBatch flips every pending bill whose due date has passed to
// overdue. Returns the number of bills transitioned; safe to rerun.
func (r *BillRepository) MarkOverdueBatch(ctx context.Context, today time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bills SET status = $1, updated_at = $2 WHERE status = $3 AND due_date < $4`,
		models.BillStatusOverdue, time.Now().UTC(), models.BillStatusPending, today)
	if err != nil {
		return 0, fmt.Errorf("mark overdue bills: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count overdue transitions: %w", err)
	}
	return int(n), nil
}

// ListPayments returns the payment facts recorded against a bill, newest first.
func (r *BillRepository) ListPayments(ctx context.Context, billID string) ([]models.Payment, error) {
	const query = `SELECT id, bill_id, bill_item_id, amount, method, reference, reversal, reason, created_at
        FROM payments WHERE bill_id = $1 ORDER BY created_at DESC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, billID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// CountByStatus returns bill counts per status for the given term.
func (r *BillRepository) CountByStatus(ctx context.Context, termID string) (map[models.BillStatus]int, error) {
	rows := []struct {
		Status models.BillStatus `db:"status"`
		Count  int               `db:"count"`
	}{}
	const query = `SELECT status, COUNT(*) AS count FROM bills WHERE term_id = $1 GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query, termID); err != nil {
		return nil, fmt.Errorf("count bills by status: %w", err)
	}
	counts := make(map[models.BillStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// SummaryByClass aggregates billing totals per class for the given term.
// Cancelled bills are excluded.
func (r *BillRepository) SummaryByClass(ctx context.Context, termID string) ([]models.ClassBillingSummary, error) {
	const query = `SELECT c.id AS class_id, c.name AS class_name,
        COUNT(b.id) AS bill_count,
        COALESCE(SUM(b.total_amount), 0) AS total_billed,
        COALESCE(SUM(b.paid_amount), 0) AS total_paid,
        COALESCE(SUM(b.balance), 0) AS outstanding
        FROM classes c
        LEFT JOIN students s ON s.class_id = c.id
        LEFT JOIN bills b ON b.student_id = s.id AND b.term_id = $1 AND b.status <> $2
        GROUP BY c.id, c.name
        ORDER BY c.name`
	var summaries []models.ClassBillingSummary
	if err := r.db.SelectContext(ctx, &summaries, query, termID, models.BillStatusCancelled); err != nil {
		return nil, fmt.Errorf("summarize bills by class: %w", err)
	}
	return summaries, nil
}
