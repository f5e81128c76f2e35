package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

// BillStatus is the payment state of a bill.
//
// pending -> {overdue, paid, cancelled}
// overdue -> {paid, cancelled}
// paid    -> pending (payment reversal only)
// cancelled is terminal. Cancellation requires paid_amount == 0.
type BillStatus string

const (
	BillStatusPending   BillStatus = "PENDING"
	BillStatusOverdue   BillStatus = "OVERDUE"
	BillStatusPaid      BillStatus = "PAID"
	BillStatusCancelled BillStatus = "CANCELLED"
)

// BillItemStatus is the payment state of a single line.
type BillItemStatus string

const (
	BillItemStatusPending BillItemStatus = "PENDING"
	BillItemStatusPartial BillItemStatus = "PARTIAL"
	BillItemStatusPaid    BillItemStatus = "PAID"
)

// Bill charges one student for one term. Invariants after every operation:
// total_amount = subtotal - discount + tax, paid_amount + balance =
// total_amount, balance >= 0, paid_amount <= total_amount.
type Bill struct {
	ID             string          `db:"id" json:"id"`
	StudentID      string          `db:"student_id" json:"student_id"`
	AcademicYearID string          `db:"academic_year_id" json:"academic_year_id"`
	TermID         string          `db:"term_id" json:"term_id"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount       decimal.Decimal `db:"discount" json:"discount"`
	Tax            decimal.Decimal `db:"tax" json:"tax"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount     decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	Status         BillStatus      `db:"status" json:"status"`
	DueDate        time.Time       `db:"due_date" json:"due_date"`
	PaidDate       *time.Time      `db:"paid_date" json:"paid_date,omitempty"`
	Notes          string          `db:"notes" json:"notes"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Items []BillItem `json:"items,omitempty"`
}

// BillItem is a charge snapshot for one tariff within a bill. Its payment
// ledger is independent from the bill-level ledger: paying an item does not
// roll up into Bill.PaidAmount. Callers pick one granularity per bill.
type BillItem struct {
	ID         string          `db:"id" json:"id"`
	BillID     string          `db:"bill_id" json:"bill_id"`
	TariffID   string          `db:"tariff_id" json:"tariff_id"`
	Name       string          `db:"name" json:"name"`
	Type       string          `db:"type" json:"type"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	PaidAmount decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Balance    decimal.Decimal `db:"balance" json:"balance"`
	Status     BillItemStatus  `db:"status" json:"status"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// RecomputeTotals rederives total_amount and balance from subtotal, discount,
// tax and paid_amount, clamping balance at zero.
func (b *Bill) RecomputeTotals() {
	b.TotalAmount = b.Subtotal.Sub(b.Discount).Add(b.Tax)
	b.Balance = b.TotalAmount.Sub(b.PaidAmount)
	if b.Balance.IsNegative() {
		b.Balance = decimal.Zero
	}
}

// Payable reports whether the bill can accept payments.
func (b *Bill) Payable() bool {
	return b.Status == BillStatusPending || b.Status == BillStatusOverdue
}

// ApplyPayment records a settled payment against the bill-level ledger.
func (b *Bill) ApplyPayment(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}
	if !b.Payable() {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("bill is %s and cannot accept payments", strings.ToLower(string(b.Status))))
	}
	if amount.GreaterThan(b.Balance) {
		return appErrors.Clone(appErrors.ErrOverpayment, "payment exceeds outstanding balance")
	}

	b.PaidAmount = b.PaidAmount.Add(amount)
	b.Balance = b.TotalAmount.Sub(b.PaidAmount)
	if b.Balance.LessThanOrEqual(decimal.Zero) {
		b.Balance = decimal.Zero
		b.Status = BillStatusPaid
		paidAt := now
		b.PaidDate = &paidAt
	}
	return nil
}

// ReversePayment undoes part or all of the recorded payments. A fully paid
// bill reverts to pending when its balance reopens; paid_date clears.
func (b *Bill) ReversePayment(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrValidation, "reversal amount must be positive")
	}
	if b.Status == BillStatusCancelled {
		return appErrors.Clone(appErrors.ErrInvalidState, "cannot reverse payments on a cancelled bill")
	}
	if amount.GreaterThan(b.PaidAmount) {
		return appErrors.Clone(appErrors.ErrValidation, "reversal exceeds paid amount")
	}

	b.PaidAmount = b.PaidAmount.Sub(amount)
	b.Balance = b.TotalAmount.Sub(b.PaidAmount)
	if b.Status == BillStatusPaid && b.Balance.IsPositive() {
		b.Status = BillStatusPending
		b.PaidDate = nil
	}
	return nil
}

// Cancel voids an unpaid bill. Bills with any recorded payment must have the
// payments reversed first.
func (b *Bill) Cancel() error {
	if b.Status == BillStatusPaid || b.Status == BillStatusCancelled {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot cancel a %s bill", strings.ToLower(string(b.Status))))
	}
	if b.PaidAmount.IsPositive() {
		return appErrors.Clone(appErrors.ErrInvalidState, "cannot cancel a bill with recorded payments")
	}
	b.Status = BillStatusCancelled
	return nil
}

// ApplyDiscount sets the discount on a not-yet-settled bill and recomputes
// totals. Discounts that would push total_amount negative or below the amount
// already paid are rejected.
func (b *Bill) ApplyDiscount(discount decimal.Decimal) error {
	if discount.IsNegative() {
		return appErrors.Clone(appErrors.ErrValidation, "discount cannot be negative")
	}
	if b.Status != BillStatusPending {
		return appErrors.Clone(appErrors.ErrInvalidState, "discount only applies to pending bills")
	}
	total := b.Subtotal.Sub(discount).Add(b.Tax)
	if total.IsNegative() {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "discount exceeds billable amount")
	}
	if total.LessThan(b.PaidAmount) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "discount would reduce the total below the amount already paid")
	}
	b.Discount = discount
	b.RecomputeTotals()
	return nil
}

// MarkOverdue transitions a pending bill past its due date. Returns true when
// a transition happened; idempotent otherwise.
func (b *Bill) MarkOverdue(today time.Time) bool {
	if b.Status != BillStatusPending || !b.DueDate.Before(today) {
		return false
	}
	b.Status = BillStatusOverdue
	return true
}

// AppendNote appends a timestamped free-text note. The source system keeps
// notes in place of a structured audit trail.
func (b *Bill) AppendNote(note string, now time.Time) {
	if note == "" {
		return
	}
	entry := fmt.Sprintf("[%s] %s", now.UTC().Format("2006-01-02 15:04"), note)
	if b.Notes == "" {
		b.Notes = entry
		return
	}
	b.Notes = b.Notes + "\n" + entry
}

// ApplyPayment records a payment against this line's independent ledger.
func (i *BillItem) ApplyPayment(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}
	if i.Status == BillItemStatusPaid {
		return appErrors.Clone(appErrors.ErrInvalidState, "bill item is already paid")
	}
	if amount.GreaterThan(i.Balance) {
		return appErrors.Clone(appErrors.ErrOverpayment, "payment exceeds item balance")
	}

	i.PaidAmount = i.PaidAmount.Add(amount)
	i.Balance = i.Amount.Sub(i.PaidAmount)
	switch {
	case i.Balance.LessThanOrEqual(decimal.Zero):
		i.Balance = decimal.Zero
		i.Status = BillItemStatusPaid
	case i.PaidAmount.IsPositive():
		i.Status = BillItemStatusPartial
	}
	return nil
}

// BillFilter defines filters supported by bill list endpoints.
type BillFilter struct {
	StudentID      string
	AcademicYearID string
	TermID         string
	Status         BillStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// BillDetail adds student context for responses.
type BillDetail struct {
	Bill
	StudentName string `db:"student_name" json:"student_name"`
	StudentNIS  string `db:"student_nis" json:"student_nis"`
}

// ClassBillingSummary aggregates outstanding amounts per class for dashboards.
type ClassBillingSummary struct {
	ClassID     string          `db:"class_id" json:"class_id"`
	ClassName   string          `db:"class_name" json:"class_name"`
	BillCount   int             `db:"bill_count" json:"bill_count"`
	TotalBilled decimal.Decimal `db:"total_billed" json:"total_billed"`
	TotalPaid   decimal.Decimal `db:"total_paid" json:"total_paid"`
	Outstanding decimal.Decimal `db:"outstanding" json:"outstanding"`
}
