package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type mockAtomicRepo struct {
	assignCalls   int
	transferCalls int
	lastClassID   string
	lastBill      *models.Bill
	err           error
}

func (m *mockAtomicRepo) AssignAndBill(ctx context.Context, studentID, classID string, bill *models.Bill) error {
	m.assignCalls++
	m.lastClassID = classID
	m.lastBill = bill
	return m.err
}

func (m *mockAtomicRepo) TransferAndBill(ctx context.Context, studentID, targetClassID string, bill *models.Bill) error {
	m.transferCalls++
	m.lastClassID = targetClassID
	m.lastBill = bill
	return m.err
}

type mockDrafter struct {
	bill     *models.Bill
	draftErr error
	hasBill  bool
}

func (m *mockDrafter) Draft(ctx context.Context, student *models.Student, classID string) (*models.Bill, error) {
	if m.draftErr != nil {
		return nil, m.draftErr
	}
	return m.bill, nil
}

func (m *mockDrafter) HasBill(ctx context.Context, studentID, termID string) (bool, error) {
	return m.hasBill, nil
}

type mockPromoter struct {
	target        *models.Class
	err           error
	lastRequested string
}

func (m *mockPromoter) ResolvePromotionTarget(ctx context.Context, studentID, targetClassID string) (*models.Class, error) {
	m.lastRequested = targetClassID
	return m.target, m.err
}

func draftedBill() *models.Bill {
	bill := &models.Bill{
		ID:        "bill-1",
		StudentID: "stu-1",
		TermID:    "term-1",
		Subtotal:  decimal.NewFromInt(500),
		Status:    models.BillStatusPending,
	}
	bill.RecomputeTotals()
	return bill
}

func coordinatorFixture(atomic *mockAtomicRepo, drafter *mockDrafter, promoter *mockPromoter) *EnrollmentBillingService {
	students := &stubStudents{students: map[string]*models.Student{"stu-1": activeAssignedStudent("stu-1", "class-1")}}
	return NewEnrollmentBillingService(atomic, drafter, promoter, students, nil)
}

func TestAssignAndBillCommitsBoth(t *testing.T) {
	atomic := &mockAtomicRepo{}
	svc := coordinatorFixture(atomic, &mockDrafter{bill: draftedBill()}, &mockPromoter{})

	outcome, err := svc.AssignAndBill(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, 1, atomic.assignCalls)
	require.NotNil(t, atomic.lastBill)
	assert.Equal(t, "bill-1", atomic.lastBill.ID)
	require.NotNil(t, outcome.Bill)
	assert.Empty(t, outcome.BillSkipReason)
	assert.Equal(t, "stu-1", outcome.Student.ID)
}

func TestAssignAndBillToleratesMissingTariffs(t *testing.T) {
	atomic := &mockAtomicRepo{}
	drafter := &mockDrafter{draftErr: appErrors.Clone(appErrors.ErrNoTariffsConfigured, "")}
	svc := coordinatorFixture(atomic, drafter, &mockPromoter{})

	outcome, err := svc.AssignAndBill(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, 1, atomic.assignCalls)
	assert.Nil(t, atomic.lastBill)
	assert.Nil(t, outcome.Bill)
	assert.NotEmpty(t, outcome.BillSkipReason)
}

func TestAssignAndBillSkipsExistingBill(t *testing.T) {
	atomic := &mockAtomicRepo{}
	drafter := &mockDrafter{bill: draftedBill(), hasBill: true}
	svc := coordinatorFixture(atomic, drafter, &mockPromoter{})

	outcome, err := svc.AssignAndBill(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, 1, atomic.assignCalls)
	assert.Nil(t, atomic.lastBill)
	assert.Nil(t, outcome.Bill)
	assert.Equal(t, "student already billed for the current term", outcome.BillSkipReason)
}

func TestAssignAndBillRequiresActiveStudent(t *testing.T) {
	atomic := &mockAtomicRepo{}
	svc := coordinatorFixture(atomic, &mockDrafter{bill: draftedBill()}, &mockPromoter{})
	students := svc.students.(*stubStudents)
	students.students["stu-1"].Status = models.StudentStatusGraduated

	_, err := svc.AssignAndBill(context.Background(), "stu-1", "class-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, atomic.assignCalls)
}

func TestAssignAndBillStudentNotFound(t *testing.T) {
	atomic := &mockAtomicRepo{}
	svc := coordinatorFixture(atomic, &mockDrafter{}, &mockPromoter{})

	_, err := svc.AssignAndBill(context.Background(), "missing", "class-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignAndBillPropagatesAtomicFailure(t *testing.T) {
	atomic := &mockAtomicRepo{err: appErrors.Clone(appErrors.ErrCapacityExceeded, "")}
	svc := coordinatorFixture(atomic, &mockDrafter{bill: draftedBill()}, &mockPromoter{})

	_, err := svc.AssignAndBill(context.Background(), "stu-1", "class-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
}

func TestTransferAndBillUsesTargetClassTariffs(t *testing.T) {
	atomic := &mockAtomicRepo{}
	svc := coordinatorFixture(atomic, &mockDrafter{bill: draftedBill()}, &mockPromoter{})

	outcome, err := svc.TransferAndBill(context.Background(), "stu-1", "class-2")
	require.NoError(t, err)
	assert.Equal(t, 1, atomic.transferCalls)
	assert.Equal(t, "class-2", atomic.lastClassID)
	require.NotNil(t, outcome.Bill)
}

func TestPromoteAndBillResolvesTarget(t *testing.T) {
	atomic := &mockAtomicRepo{}
	promoter := &mockPromoter{target: &models.Class{ID: "class-9", GradeID: "grade-2"}}
	svc := coordinatorFixture(atomic, &mockDrafter{bill: draftedBill()}, promoter)

	_, err := svc.PromoteAndBill(context.Background(), "stu-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, atomic.transferCalls)
	assert.Equal(t, "class-9", atomic.lastClassID)
}

func TestPromoteAndBillForwardsRequestedClass(t *testing.T) {
	atomic := &mockAtomicRepo{}
	promoter := &mockPromoter{target: &models.Class{ID: "class-9", GradeID: "grade-2"}}
	svc := coordinatorFixture(atomic, &mockDrafter{bill: draftedBill()}, promoter)

	_, err := svc.PromoteAndBill(context.Background(), "stu-1", "class-9")
	require.NoError(t, err)
	assert.Equal(t, "class-9", promoter.lastRequested)
	assert.Equal(t, "class-9", atomic.lastClassID)
}

func TestPromoteAndBillStopsOnResolutionFailure(t *testing.T) {
	atomic := &mockAtomicRepo{}
	promoter := &mockPromoter{err: appErrors.Clone(appErrors.ErrPreconditionFailed, "student is in the top grade")}
	svc := coordinatorFixture(atomic, &mockDrafter{bill: draftedBill()}, promoter)

	_, err := svc.PromoteAndBill(context.Background(), "stu-1", "")
	require.Error(t, err)
	assert.Equal(t, 0, atomic.transferCalls)
}
