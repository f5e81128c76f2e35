package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

func billRow(id string, total, paid string, status models.BillStatus) *sqlmock.Rows {
	now := time.Now()
	due := now.Add(30 * 24 * time.Hour)
	totalDec, _ := decimal.NewFromString(total)
	paidDec, _ := decimal.NewFromString(paid)
	balance := totalDec.Sub(paidDec)
	return sqlmock.NewRows([]string{"id", "student_id", "academic_year_id", "term_id", "subtotal", "discount", "tax",
		"total_amount", "paid_amount", "balance", "status", "due_date", "paid_date", "notes", "created_at", "updated_at"}).
		AddRow(id, "stu-1", "year-1", "term-1", total, "0", "0", total, paid, balance.String(), status, due, nil, "", now, now)
}

func expectLockBill(mock sqlmock.Sqlmock, id string, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+billColumns+" FROM bills WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(rows)
}

func TestBillRepositoryCreateRejectsDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM bills WHERE student_id = $1 AND term_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("stu-1", "term-1", models.BillStatusCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Bill{StudentID: "stu-1", TermID: "term-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillRepositoryCreateInsertsBillAndItems(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM bills WHERE student_id = $1 AND term_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("stu-1", "term-1", models.BillStatusCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))
	mock.ExpectExec("INSERT INTO bills").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bill_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO bill_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	bill := &models.Bill{
		StudentID:      "stu-1",
		AcademicYearID: "year-1",
		TermID:         "term-1",
		Subtotal:       decimal.NewFromInt(1100),
		TotalAmount:    decimal.NewFromInt(1100),
		Balance:        decimal.NewFromInt(1100),
		Status:         models.BillStatusPending,
		DueDate:        time.Now().Add(30 * 24 * time.Hour),
		Items: []models.BillItem{
			{TariffID: "tariff-1", Name: "Tuition", Amount: decimal.NewFromInt(900), Balance: decimal.NewFromInt(900), Status: models.BillItemStatusPending},
			{TariffID: "tariff-2", Name: "Activity Fee", Amount: decimal.NewFromInt(200), Balance: decimal.NewFromInt(200), Status: models.BillItemStatusPending},
		},
	}
	require.NoError(t, repo.Create(context.Background(), bill))
	assert.NotEmpty(t, bill.ID)
	assert.Equal(t, bill.ID, bill.Items[0].BillID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillRepositoryRecordPaymentSettlesBill(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	mock.ExpectBegin()
	expectLockBill(mock, "bill-1", billRow("bill-1", "1000", "0", models.BillStatusPending))
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bills SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	bill, err := repo.RecordPayment(context.Background(), "bill-1", decimal.NewFromInt(1000), "TRANSFER", "tx-99")
	require.NoError(t, err)
	assert.Equal(t, models.BillStatusPaid, bill.Status)
	assert.NotNil(t, bill.PaidDate)
	assert.True(t, bill.Balance.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillRepositoryRecordPaymentRejectsOverpayment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	mock.ExpectBegin()
	expectLockBill(mock, "bill-1", billRow("bill-1", "1000", "800", models.BillStatusPending))
	mock.ExpectRollback()

	_, err := repo.RecordPayment(context.Background(), "bill-1", decimal.NewFromInt(500), "CASH", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrOverpayment))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillRepositoryCancelWithPayments(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	mock.ExpectBegin()
	expectLockBill(mock, "bill-1", billRow("bill-1", "1000", "200", models.BillStatusPending))
	mock.ExpectRollback()

	_, err := repo.Cancel(context.Background(), "bill-1", "wrong student")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillRepositoryCancelNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + billColumns + " FROM bills WHERE id = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Cancel(context.Background(), "missing", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillRepositoryMarkOverdueBatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	today := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bills SET status = $1, updated_at = $2 WHERE status = $3 AND due_date < $4")).
		WithArgs(models.BillStatusOverdue, sqlmock.AnyArg(), models.BillStatusPending, today).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.MarkOverdueBatch(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBillRepository(db)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow(models.BillStatusPending, 12).
		AddRow(models.BillStatusPaid, 30)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM bills WHERE term_id = $1 GROUP BY status")).
		WithArgs("term-1").
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, 12, counts[models.BillStatusPending])
	assert.Equal(t, 30, counts[models.BillStatusPaid])
	require.NoError(t, mock.ExpectationsWereMet())
}
