package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type atomicRepository interface {
	AssignAndBill(ctx context.Context, studentID, classID string, bill *models.Bill) error
	TransferAndBill(ctx context.Context, studentID, targetClassID string, bill *models.Bill) error
}

type billDrafter interface {
	Draft(ctx context.Context, student *models.Student, classID string) (*models.Bill, error)
	HasBill(ctx context.Context, studentID, termID string) (bool, error)
}

type promotionResolver interface {
	ResolvePromotionTarget(ctx context.Context, studentID, targetClassID string) (*models.Class, error)
}

// EnrollmentBillingOutcome reports a coordinated enrollment mutation. Bill is
// nil when no bill was generated, with BillSkipReason saying why.
type EnrollmentBillingOutcome struct {
	Student        *models.StudentDetail `json:"student"`
	Bill           *models.Bill          `json:"bill,omitempty"`
	BillSkipReason string                `json:"bill_skip_reason,omitempty"`
}

// EnrollmentBillingService coordinates seat mutations with bill generation.
// The two sides commit in one transaction: either the student gets the seat
// and the bill, or neither. A class with no tariffs configured is the one
// tolerated degradation: the seat mutation proceeds and the gap is logged.
type EnrollmentBillingService struct {
	atomic   atomicRepository
	billing  billDrafter
	promoter promotionResolver
	students studentReader
	logger   *zap.Logger
}

// NewEnrollmentBillingService constructs the coordinator.
func NewEnrollmentBillingService(atomic atomicRepository, billing billDrafter, promoter promotionResolver, students studentReader, logger *zap.Logger) *EnrollmentBillingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentBillingService{atomic: atomic, billing: billing, promoter: promoter, students: students, logger: logger}
}

// draftFor computes the bill to pair with a seat mutation into classID.
// Returns a nil bill with a reason when billing is legitimately skipped.
func (s *EnrollmentBillingService) draftFor(ctx context.Context, student *models.Student, classID string) (*models.Bill, string, error) {
	bill, err := s.billing.Draft(ctx, student, classID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNoTariffsConfigured) {
			s.logger.Warn("enrolling without bill, class has no active tariffs",
				zap.String("student_id", student.ID),
				zap.String("class_id", classID))
			return nil, "class has no active tariffs configured", nil
		}
		return nil, "", err
	}
	exists, err := s.billing.HasBill(ctx, student.ID, bill.TermID)
	if err != nil {
		return nil, "", err
	}
	if exists {
		return nil, "student already billed for the current term", nil
	}
	return bill, "", nil
}

func (s *EnrollmentBillingService) loadStudent(ctx context.Context, studentID string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapInternal(err, "failed to load student")
	}
	return student, nil
}

func (s *EnrollmentBillingService) outcome(ctx context.Context, studentID string, bill *models.Bill, skipReason string) (*EnrollmentBillingOutcome, error) {
	detail, err := s.students.FindDetailByID(ctx, studentID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load student detail")
	}
	return &EnrollmentBillingOutcome{Student: detail, Bill: bill, BillSkipReason: skipReason}, nil
}

// AssignAndBill places the student into the class and generates their bill
// for the current term in one transaction.
func (s *EnrollmentBillingService) AssignAndBill(ctx context.Context, studentID, classID string) (*EnrollmentBillingOutcome, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.Status != models.StudentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only active students can be assigned to a class")
	}

	bill, skipReason, err := s.draftFor(ctx, student, classID)
	if err != nil {
		return nil, err
	}
	if err := s.atomic.AssignAndBill(ctx, studentID, classID, bill); err != nil {
		return nil, wrapInternal(err, "failed to assign and bill student")
	}

	s.logger.Info("student assigned with billing",
		zap.String("student_id", studentID),
		zap.String("class_id", classID),
		zap.Bool("billed", bill != nil))
	return s.outcome(ctx, studentID, bill, skipReason)
}

// TransferAndBill moves the student to the target class and, when they have
// no bill for the current term yet, generates one priced by the target
// class's tariffs. Both commit together.
func (s *EnrollmentBillingService) TransferAndBill(ctx context.Context, studentID, targetClassID string) (*EnrollmentBillingOutcome, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	bill, skipReason, err := s.draftFor(ctx, student, targetClassID)
	if err != nil {
		return nil, err
	}
	if err := s.atomic.TransferAndBill(ctx, studentID, targetClassID, bill); err != nil {
		return nil, wrapInternal(err, "failed to transfer and bill student")
	}

	s.logger.Info("student transferred with billing",
		zap.String("student_id", studentID),
		zap.String("target_class_id", targetClassID),
		zap.Bool("billed", bill != nil))
	return s.outcome(ctx, studentID, bill, skipReason)
}

// PromoteAndBill moves the student into the next grade, either into the
// requested class or the first one with space, and generates their bill for
// the current term in one transaction.
func (s *EnrollmentBillingService) PromoteAndBill(ctx context.Context, studentID, targetClassID string) (*EnrollmentBillingOutcome, error) {
	target, err := s.promoter.ResolvePromotionTarget(ctx, studentID, targetClassID)
	if err != nil {
		return nil, err
	}
	outcome, err := s.TransferAndBill(ctx, studentID, target.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("student promoted with billing",
		zap.String("student_id", studentID),
		zap.String("target_class_id", target.ID))
	return outcome, nil
}
