package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
	"github.com/noah-isme/sas-billing-api/pkg/jobs"
)

type billRepository interface {
	Create(ctx context.Context, bill *models.Bill) error
	ExistsForStudentTerm(ctx context.Context, studentID, termID string) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Bill, error)
	List(ctx context.Context, filter models.BillFilter) ([]models.BillDetail, int, error)
	RecordPayment(ctx context.Context, billID string, amount decimal.Decimal, method, reference string) (*models.Bill, error)
	ReversePayment(ctx context.Context, billID string, amount decimal.Decimal, reason string) (*models.Bill, error)
	Cancel(ctx context.Context, billID, reason string) (*models.Bill, error)
	ApplyDiscount(ctx context.Context, billID string, discount decimal.Decimal, reason string) (*models.Bill, error)
	AppendNote(ctx context.Context, billID, note string) (*models.Bill, error)
	RecordItemPayment(ctx context.Context, billID, itemID string, amount decimal.Decimal, method, reference string) (*models.BillItem, error)
	MarkOverdueBatch(ctx context.Context, today time.Time) (int, error)
	ListPayments(ctx context.Context, billID string) ([]models.Payment, error)
}

type classTariffReader interface {
	ListActiveByClass(ctx context.Context, classID string) ([]models.Tariff, error)
}

type classStudentLister interface {
	ListActiveByClass(ctx context.Context, classID string) ([]models.Student, error)
}

type periodResolver interface {
	Current(ctx context.Context) (*models.CurrentPeriod, error)
}

type billingMetrics interface {
	RecordBillGenerated()
	RecordPayment(reversal bool)
	RecordOverdueSwept(count int)
}

// RecordPaymentRequest records a settled payment against a bill.
type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Method    string          `json:"method" validate:"required"`
	Reference string          `json:"reference"`
}

// ReversePaymentRequest undoes part or all of the recorded payments.
type ReversePaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Reason string          `json:"reason" validate:"required"`
}

// ApplyDiscountRequest sets the discount on a pending bill.
type ApplyDiscountRequest struct {
	Discount decimal.Decimal `json:"discount" validate:"required"`
	Reason   string          `json:"reason"`
}

// CancelBillRequest voids an unpaid bill.
type CancelBillRequest struct {
	Reason string `json:"reason"`
}

// AppendNoteRequest attaches a free-text note to a bill.
type AppendNoteRequest struct {
	Note string `json:"note" validate:"required"`
}

// BulkGenerateResult reports how many bills were enqueued for a class.
type BulkGenerateResult struct {
	ClassID  string `json:"class_id"`
	Enqueued int    `json:"enqueued"`
	Skipped  int    `json:"skipped"`
}

const jobTypeGenerateBill = "generate_bill"

// BillGenerationJob is the payload carried by queued bill-generation work.
type BillGenerationJob struct {
	StudentID string `json:"student_id"`
}

// BillingService drafts, issues, and settles student bills. Bill amounts are
// tariff snapshots taken at generation time; tariff edits never reprice an
// issued bill.
type BillingService struct {
	bills     billRepository
	tariffs   classTariffReader
	students  studentReader
	roster    classStudentLister
	periods   periodResolver
	queue     *jobs.Queue[BillGenerationJob]
	metrics   billingMetrics
	dueDays   int
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBillingService constructs BillingService. The queue is optional; without
// it bulk generation runs inline.
func NewBillingService(bills billRepository, tariffs classTariffReader, students studentReader, roster classStudentLister, periods periodResolver, metrics billingMetrics, dueDays int, validate *validator.Validate, logger *zap.Logger) *BillingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dueDays <= 0 {
		dueDays = 30
	}
	return &BillingService{
		bills:     bills,
		tariffs:   tariffs,
		students:  students,
		roster:    roster,
		periods:   periods,
		metrics:   metrics,
		dueDays:   dueDays,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AttachQueue wires the background queue used by bulk generation.
func (s *BillingService) AttachQueue(queue *jobs.Queue[BillGenerationJob]) {
	s.queue = queue
}

// HandleJob processes queued billing jobs.
func (s *BillingService) HandleJob(ctx context.Context, job jobs.Job[BillGenerationJob]) error {
	switch job.Type {
	case jobTypeGenerateBill:
		_, err := s.Generate(ctx, job.Payload.StudentID)
		if err != nil {
			if appErrors.FromError(err).Code == appErrors.ErrConflict.Code {
				return nil
			}
			if appErrors.FromError(err).Code == appErrors.ErrNoTariffsConfigured.Code {
				s.logger.Warn("skipping bill generation, no tariffs configured", zap.String("student_id", job.Payload.StudentID))
				return nil
			}
		}
		return err
	default:
		return fmt.Errorf("unknown job type %s", job.Type)
	}
}

// Draft computes a bill charging the student for the given class in the
// current period without persisting it. The due date is anchored to the term
// start, not the generation time. Returns ErrNoTariffsConfigured when the
// class has no active tariffs attached.
func (s *BillingService) Draft(ctx context.Context, student *models.Student, classID string) (*models.Bill, error) {
	period, err := s.periods.Current(ctx)
	if err != nil {
		return nil, err
	}

	tariffs, err := s.tariffs.ListActiveByClass(ctx, classID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load class tariffs")
	}
	if len(tariffs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoTariffsConfigured, "")
	}

	items, subtotal, err := BuildItems(tariffs, period.Term)
	if err != nil {
		return nil, err
	}

	bill := &models.Bill{
		ID:             uuid.NewString(),
		StudentID:      student.ID,
		AcademicYearID: period.AcademicYear.ID,
		TermID:         period.Term.ID,
		Subtotal:       subtotal,
		Discount:       decimal.Zero,
		Tax:            decimal.Zero,
		PaidAmount:     decimal.Zero,
		Status:         models.BillStatusPending,
		DueDate:        period.Term.StartDate.AddDate(0, 0, s.dueDays),
		Items:          items,
	}
	bill.RecomputeTotals()
	return bill, nil
}

// Generate drafts and persists a bill for one student in the current period.
// Generation is idempotent per student and term: an existing non-cancelled
// bill makes this a conflict.
func (s *BillingService) Generate(ctx context.Context, studentID string) (*models.Bill, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapInternal(err, "failed to load student")
	}
	if student.Status != models.StudentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "bills are only generated for active students")
	}

	if !student.Assigned() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "student is not assigned to any class")
	}
	bill, err := s.Draft(ctx, student, *student.ClassID)
	if err != nil {
		return nil, err
	}
	if err := s.bills.Create(ctx, bill); err != nil {
		return nil, wrapInternal(err, "failed to create bill")
	}
	if s.metrics != nil {
		s.metrics.RecordBillGenerated()
	}
	s.logger.Info("bill generated",
		zap.String("bill_id", bill.ID),
		zap.String("student_id", student.ID),
		zap.String("term_id", bill.TermID),
		zap.String("total", bill.TotalAmount.StringFixed(2)))
	return bill, nil
}

// GenerateForClass enqueues bill generation for every active student in the
// class, skipping students who already have a bill for the current term.
func (s *BillingService) GenerateForClass(ctx context.Context, classID string) (*BulkGenerateResult, error) {
	period, err := s.periods.Current(ctx)
	if err != nil {
		return nil, err
	}
	students, err := s.roster.ListActiveByClass(ctx, classID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list class students")
	}

	result := &BulkGenerateResult{ClassID: classID}
	for _, student := range students {
		exists, err := s.bills.ExistsForStudentTerm(ctx, student.ID, period.Term.ID)
		if err != nil {
			return nil, wrapInternal(err, "failed to check existing bill")
		}
		if exists {
			result.Skipped++
			continue
		}
		if s.queue != nil {
			if err := s.queue.Enqueue(jobs.Job[BillGenerationJob]{
				ID:      uuid.NewString(),
				Type:    jobTypeGenerateBill,
				Payload: BillGenerationJob{StudentID: student.ID},
			}); err != nil {
				return nil, wrapInternal(err, "failed to enqueue bill generation")
			}
		} else {
			if _, err := s.Generate(ctx, student.ID); err != nil {
				code := appErrors.FromError(err).Code
				if code == appErrors.ErrConflict.Code || code == appErrors.ErrNoTariffsConfigured.Code {
					result.Skipped++
					continue
				}
				return nil, err
			}
		}
		result.Enqueued++
	}
	s.logger.Info("bulk bill generation scheduled",
		zap.String("class_id", classID),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// HasBill reports whether the student already has a non-cancelled bill for
// the term.
func (s *BillingService) HasBill(ctx context.Context, studentID, termID string) (bool, error) {
	exists, err := s.bills.ExistsForStudentTerm(ctx, studentID, termID)
	if err != nil {
		return false, wrapInternal(err, "failed to check existing bill")
	}
	return exists, nil
}

// Get loads a bill with its items.
func (s *BillingService) Get(ctx context.Context, id string) (*models.Bill, error) {
	bill, err := s.bills.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bill not found")
		}
		return nil, wrapInternal(err, "failed to load bill")
	}
	return bill, nil
}

// List returns paginated bills.
func (s *BillingService) List(ctx context.Context, filter models.BillFilter) ([]models.BillDetail, *models.Pagination, error) {
	bills, total, err := s.bills.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapInternal(err, "failed to list bills")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return bills, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListPayments returns the payment facts recorded against a bill.
func (s *BillingService) ListPayments(ctx context.Context, billID string) ([]models.Payment, error) {
	if _, err := s.Get(ctx, billID); err != nil {
		return nil, err
	}
	payments, err := s.bills.ListPayments(ctx, billID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list payments")
	}
	return payments, nil
}

// RecordPayment applies a payment to the bill-level ledger.
func (s *BillingService) RecordPayment(ctx context.Context, billID string, req RecordPaymentRequest) (*models.Bill, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	bill, err := s.bills.RecordPayment(ctx, billID, req.Amount, req.Method, req.Reference)
	if err != nil {
		return nil, wrapInternal(err, "failed to record payment")
	}
	if s.metrics != nil {
		s.metrics.RecordPayment(false)
	}
	s.logger.Info("payment recorded",
		zap.String("bill_id", billID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("status", string(bill.Status)))
	return bill, nil
}

// ReversePayment undoes part or all of the recorded payments.
func (s *BillingService) ReversePayment(ctx context.Context, billID string, req ReversePaymentRequest) (*models.Bill, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reversal payload")
	}
	bill, err := s.bills.ReversePayment(ctx, billID, req.Amount, req.Reason)
	if err != nil {
		return nil, wrapInternal(err, "failed to reverse payment")
	}
	if s.metrics != nil {
		s.metrics.RecordPayment(true)
	}
	s.logger.Info("payment reversed",
		zap.String("bill_id", billID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("status", string(bill.Status)))
	return bill, nil
}

// Cancel voids an unpaid bill.
func (s *BillingService) Cancel(ctx context.Context, billID string, req CancelBillRequest) (*models.Bill, error) {
	bill, err := s.bills.Cancel(ctx, billID, req.Reason)
	if err != nil {
		return nil, wrapInternal(err, "failed to cancel bill")
	}
	s.logger.Info("bill cancelled", zap.String("bill_id", billID))
	return bill, nil
}

// ApplyDiscount sets the discount on a pending bill.
func (s *BillingService) ApplyDiscount(ctx context.Context, billID string, req ApplyDiscountRequest) (*models.Bill, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid discount payload")
	}
	bill, err := s.bills.ApplyDiscount(ctx, billID, req.Discount, req.Reason)
	if err != nil {
		return nil, wrapInternal(err, "failed to apply discount")
	}
	s.logger.Info("discount applied",
		zap.String("bill_id", billID),
		zap.String("discount", req.Discount.StringFixed(2)))
	return bill, nil
}

// AppendNote attaches a timestamped note to a bill.
func (s *BillingService) AppendNote(ctx context.Context, billID string, req AppendNoteRequest) (*models.Bill, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid note payload")
	}
	bill, err := s.bills.AppendNote(ctx, billID, req.Note)
	if err != nil {
		return nil, wrapInternal(err, "failed to append note")
	}
	return bill, nil
}

// RecordItemPayment applies a payment to one line's independent ledger.
func (s *BillingService) RecordItemPayment(ctx context.Context, billID, itemID string, req RecordPaymentRequest) (*models.BillItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	item, err := s.bills.RecordItemPayment(ctx, billID, itemID, req.Amount, req.Method, req.Reference)
	if err != nil {
		return nil, wrapInternal(err, "failed to record item payment")
	}
	if s.metrics != nil {
		s.metrics.RecordPayment(false)
	}
	s.logger.Info("item payment recorded",
		zap.String("bill_id", billID),
		zap.String("item_id", itemID),
		zap.String("amount", req.Amount.StringFixed(2)))
	return item, nil
}

// MarkOverdue sweeps every pending bill past its due date to overdue. The
// scheduler runs this nightly; it is also exposed for manual runs.
func (s *BillingService) MarkOverdue(ctx context.Context) (int, error) {
	count, err := s.bills.MarkOverdueBatch(ctx, s.now())
	if err != nil {
		return 0, wrapInternal(err, "failed to mark overdue bills")
	}
	if s.metrics != nil {
		s.metrics.RecordOverdueSwept(count)
	}
	if count > 0 {
		s.logger.Info("bills marked overdue", zap.Int("count", count))
	}
	return count, nil
}
