package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

func pendingBill(total int64) *Bill {
	bill := &Bill{
		Subtotal:   decimal.NewFromInt(total),
		Discount:   decimal.Zero,
		Tax:        decimal.Zero,
		PaidAmount: decimal.Zero,
		Status:     BillStatusPending,
		DueDate:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	bill.RecomputeTotals()
	return bill
}

func TestApplyPaymentPartialThenFull(t *testing.T) {
	bill := pendingBill(1000)
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, bill.ApplyPayment(decimal.NewFromInt(400), now))
	assert.Equal(t, BillStatusPending, bill.Status)
	assert.True(t, bill.Balance.Equal(decimal.NewFromInt(600)))
	assert.Nil(t, bill.PaidDate)

	require.NoError(t, bill.ApplyPayment(decimal.NewFromInt(600), now))
	assert.Equal(t, BillStatusPaid, bill.Status)
	assert.True(t, bill.Balance.IsZero())
	require.NotNil(t, bill.PaidDate)
	assert.Equal(t, now, *bill.PaidDate)
}

func TestApplyPaymentRejectsOverpayment(t *testing.T) {
	bill := pendingBill(100)
	err := bill.ApplyPayment(decimal.NewFromInt(101), time.Now())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOverpayment.Code, appErrors.FromError(err).Code)
	assert.True(t, bill.PaidAmount.IsZero())
}

func TestApplyPaymentRejectsNonPositiveAmount(t *testing.T) {
	bill := pendingBill(100)
	require.Error(t, bill.ApplyPayment(decimal.Zero, time.Now()))
	require.Error(t, bill.ApplyPayment(decimal.NewFromInt(-5), time.Now()))
}

func TestApplyPaymentOnCancelledBill(t *testing.T) {
	bill := pendingBill(100)
	require.NoError(t, bill.Cancel())
	err := bill.ApplyPayment(decimal.NewFromInt(10), time.Now())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestOverdueBillStillAcceptsPayment(t *testing.T) {
	bill := pendingBill(200)
	require.True(t, bill.MarkOverdue(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, bill.ApplyPayment(decimal.NewFromInt(200), time.Now()))
	assert.Equal(t, BillStatusPaid, bill.Status)
}

func TestReversePaymentReopensPaidBill(t *testing.T) {
	bill := pendingBill(500)
	now := time.Now().UTC()
	require.NoError(t, bill.ApplyPayment(decimal.NewFromInt(500), now))
	require.Equal(t, BillStatusPaid, bill.Status)

	require.NoError(t, bill.ReversePayment(decimal.NewFromInt(200)))
	assert.Equal(t, BillStatusPending, bill.Status)
	assert.Nil(t, bill.PaidDate)
	assert.True(t, bill.Balance.Equal(decimal.NewFromInt(200)))
	assert.True(t, bill.PaidAmount.Equal(decimal.NewFromInt(300)))
}

func TestReversePaymentBounds(t *testing.T) {
	bill := pendingBill(500)
	require.NoError(t, bill.ApplyPayment(decimal.NewFromInt(100), time.Now()))

	require.Error(t, bill.ReversePayment(decimal.NewFromInt(101)))
	require.Error(t, bill.ReversePayment(decimal.Zero))

	cancelled := pendingBill(100)
	require.NoError(t, cancelled.Cancel())
	require.Error(t, cancelled.ReversePayment(decimal.NewFromInt(1)))
}

func TestCancelRequiresZeroPaid(t *testing.T) {
	bill := pendingBill(300)
	require.NoError(t, bill.ApplyPayment(decimal.NewFromInt(50), time.Now()))

	err := bill.Cancel()
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)

	require.NoError(t, bill.ReversePayment(decimal.NewFromInt(50)))
	require.NoError(t, bill.Cancel())
	assert.Equal(t, BillStatusCancelled, bill.Status)
}

func TestCancelTerminal(t *testing.T) {
	bill := pendingBill(300)
	require.NoError(t, bill.Cancel())
	require.Error(t, bill.Cancel())
}

func TestApplyDiscountRecomputesTotals(t *testing.T) {
	bill := pendingBill(1000)
	require.NoError(t, bill.ApplyDiscount(decimal.NewFromInt(250)))
	assert.True(t, bill.TotalAmount.Equal(decimal.NewFromInt(750)))
	assert.True(t, bill.Balance.Equal(decimal.NewFromInt(750)))
}

func TestApplyDiscountRules(t *testing.T) {
	bill := pendingBill(100)
	require.Error(t, bill.ApplyDiscount(decimal.NewFromInt(-1)))
	require.Error(t, bill.ApplyDiscount(decimal.NewFromInt(101)))

	overdue := pendingBill(100)
	overdue.Status = BillStatusOverdue
	err := overdue.ApplyDiscount(decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestApplyDiscountCannotUndercutPaidAmount(t *testing.T) {
	bill := pendingBill(200)
	require.NoError(t, bill.ApplyPayment(decimal.NewFromInt(100), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))

	err := bill.ApplyDiscount(decimal.NewFromInt(150))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.True(t, bill.TotalAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, bill.PaidAmount.Add(bill.Balance).Equal(bill.TotalAmount))

	// Discounting down to exactly the paid amount is allowed.
	require.NoError(t, bill.ApplyDiscount(decimal.NewFromInt(100)))
	assert.True(t, bill.TotalAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, bill.Balance.IsZero())
	assert.True(t, bill.PaidAmount.Add(bill.Balance).Equal(bill.TotalAmount))
}

func TestMarkOverdueIdempotent(t *testing.T) {
	bill := pendingBill(100)
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, bill.MarkOverdue(today))
	assert.Equal(t, BillStatusOverdue, bill.Status)
	assert.False(t, bill.MarkOverdue(today))
}

func TestMarkOverdueRespectsDueDate(t *testing.T) {
	bill := pendingBill(100)
	assert.False(t, bill.MarkOverdue(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, BillStatusPending, bill.Status)
}

func TestAppendNoteAccumulates(t *testing.T) {
	bill := pendingBill(100)
	now := time.Date(2026, 1, 10, 14, 30, 0, 0, time.UTC)

	bill.AppendNote("first", now)
	bill.AppendNote("second", now)
	bill.AppendNote("", now)

	assert.Equal(t, "[2026-01-10 14:30] first\n[2026-01-10 14:30] second", bill.Notes)
}

func TestBillItemLedgerIsIndependent(t *testing.T) {
	item := &BillItem{
		Amount:     decimal.NewFromInt(300),
		PaidAmount: decimal.Zero,
		Balance:    decimal.NewFromInt(300),
		Status:     BillItemStatusPending,
	}

	require.NoError(t, item.ApplyPayment(decimal.NewFromInt(100)))
	assert.Equal(t, BillItemStatusPartial, item.Status)

	err := item.ApplyPayment(decimal.NewFromInt(201))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOverpayment.Code, appErrors.FromError(err).Code)

	require.NoError(t, item.ApplyPayment(decimal.NewFromInt(200)))
	assert.Equal(t, BillItemStatusPaid, item.Status)
	require.Error(t, item.ApplyPayment(decimal.NewFromInt(1)))
}
