package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	assigned    [][2]string
	transferred [][2]string
	removed     []string
	statuses    map[string]models.StudentStatus
	err         error
}

func (m *mockEnrollmentRepo) Assign(ctx context.Context, studentID, classID string) error {
	if m.err != nil {
		return m.err
	}
	m.assigned = append(m.assigned, [2]string{studentID, classID})
	return nil
}

func (m *mockEnrollmentRepo) Remove(ctx context.Context, studentID string) error {
	if m.err != nil {
		return m.err
	}
	m.removed = append(m.removed, studentID)
	return nil
}

func (m *mockEnrollmentRepo) Transfer(ctx context.Context, studentID, targetClassID string) error {
	if m.err != nil {
		return m.err
	}
	m.transferred = append(m.transferred, [2]string{studentID, targetClassID})
	return nil
}

func (m *mockEnrollmentRepo) SetTerminalStatus(ctx context.Context, studentID string, status models.StudentStatus) error {
	if m.err != nil {
		return m.err
	}
	if m.statuses == nil {
		m.statuses = make(map[string]models.StudentStatus)
	}
	m.statuses[studentID] = status
	return nil
}

type mockClassReader struct {
	classes        map[string]*models.Class
	availableGrade map[string]*models.Class
	reconciliation *models.ClassReconciliation
}

func (m *mockClassReader) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return class, nil
}

func (m *mockClassReader) FindFirstAvailableInGrade(ctx context.Context, gradeID string) (*models.Class, error) {
	class, ok := m.availableGrade[gradeID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNoAvailableClass, "")
	}
	return class, nil
}

func (m *mockClassReader) Reconcile(ctx context.Context, id string) (*models.ClassReconciliation, error) {
	return m.reconciliation, nil
}

type mockGradeReader struct {
	byID    map[string]*models.Grade
	byLevel map[int]*models.Grade
}

func (m *mockGradeReader) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	grade, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return grade, nil
}

func (m *mockGradeReader) FindByLevel(ctx context.Context, level int) (*models.Grade, error) {
	grade, ok := m.byLevel[level]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return grade, nil
}

func newEnrollmentFixture(repo *mockEnrollmentRepo, students *stubStudents, classes *mockClassReader, grades *mockGradeReader) *EnrollmentService {
	return NewEnrollmentService(repo, students, classes, grades, nil, nil)
}

func TestAssignValidatesPayload(t *testing.T) {
	svc := newEnrollmentFixture(&mockEnrollmentRepo{}, &stubStudents{}, &mockClassReader{}, &mockGradeReader{})

	_, err := svc.Assign(context.Background(), AssignStudentRequest{StudentID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignHappyPath(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &stubStudents{students: map[string]*models.Student{"stu-1": activeAssignedStudent("stu-1", "class-1")}}
	svc := newEnrollmentFixture(repo, students, &mockClassReader{}, &mockGradeReader{})

	detail, err := svc.Assign(context.Background(), AssignStudentRequest{StudentID: "stu-1", ClassID: "class-1"})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", detail.ID)
	require.Len(t, repo.assigned, 1)
	assert.Equal(t, [2]string{"stu-1", "class-1"}, repo.assigned[0])
}

func TestAssignKeepsTypedRepositoryErrors(t *testing.T) {
	repo := &mockEnrollmentRepo{err: appErrors.Clone(appErrors.ErrCapacityExceeded, "class N1-A is full (30/30)")}
	svc := newEnrollmentFixture(repo, &stubStudents{}, &mockClassReader{}, &mockGradeReader{})

	_, err := svc.Assign(context.Background(), AssignStudentRequest{StudentID: "stu-1", ClassID: "class-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))

	repo.err = appErrors.Clone(appErrors.ErrAlreadyAssigned, "")
	_, err = svc.Assign(context.Background(), AssignStudentRequest{StudentID: "stu-1", ClassID: "class-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyAssigned))
}

func TestRemoveReleasesSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &stubStudents{students: map[string]*models.Student{"stu-1": {ID: "stu-1", Status: models.StudentStatusActive}}}
	svc := newEnrollmentFixture(repo, students, &mockClassReader{}, &mockGradeReader{})

	_, err := svc.Remove(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Contains(t, repo.removed, "stu-1")
}

func TestTransferHappyPath(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &stubStudents{students: map[string]*models.Student{"stu-1": activeAssignedStudent("stu-1", "class-2")}}
	svc := newEnrollmentFixture(repo, students, &mockClassReader{}, &mockGradeReader{})

	_, err := svc.Transfer(context.Background(), "stu-1", TransferStudentRequest{TargetClassID: "class-2"})
	require.NoError(t, err)
	require.Len(t, repo.transferred, 1)
	assert.Equal(t, [2]string{"stu-1", "class-2"}, repo.transferred[0])
}

func promotionFixture(repo *mockEnrollmentRepo) *EnrollmentService {
	students := &stubStudents{students: map[string]*models.Student{"stu-1": activeAssignedStudent("stu-1", "class-1")}}
	classes := &mockClassReader{
		classes: map[string]*models.Class{
			"class-1": {ID: "class-1", GradeID: "grade-1", Name: "N1-A", Capacity: 30, IsActive: true},
		},
		availableGrade: map[string]*models.Class{
			"grade-2": {ID: "class-5", GradeID: "grade-2", Name: "N2-A", Capacity: 30, IsActive: true},
		},
	}
	grades := &mockGradeReader{
		byID: map[string]*models.Grade{
			"grade-1": {ID: "grade-1", Name: "N1", Level: 1},
			"grade-9": {ID: "grade-9", Name: "P6", Level: 9},
		},
		byLevel: map[int]*models.Grade{
			2: {ID: "grade-2", Name: "N2", Level: 2},
		},
	}
	return newEnrollmentFixture(repo, students, classes, grades)
}

func TestPromoteMovesToNextGrade(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := promotionFixture(repo)

	_, err := svc.Promote(context.Background(), "stu-1", PromoteStudentRequest{})
	require.NoError(t, err)
	require.Len(t, repo.transferred, 1)
	assert.Equal(t, [2]string{"stu-1", "class-5"}, repo.transferred[0])
}

func TestPromoteHonoursRequestedClass(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := promotionFixture(repo)
	classes := svc.classes.(*mockClassReader)
	classes.classes["class-6"] = &models.Class{ID: "class-6", GradeID: "grade-2", Name: "N2-B", Capacity: 30, CurrentEnrollment: 12, IsActive: true}

	_, err := svc.Promote(context.Background(), "stu-1", PromoteStudentRequest{TargetClassID: "class-6"})
	require.NoError(t, err)
	require.Len(t, repo.transferred, 1)
	assert.Equal(t, [2]string{"stu-1", "class-6"}, repo.transferred[0])
}

func TestPromoteRejectsClassOutsideNextGrade(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := promotionFixture(repo)
	classes := svc.classes.(*mockClassReader)
	classes.classes["class-9"] = &models.Class{ID: "class-9", GradeID: "grade-3", Name: "N3-A", Capacity: 30, IsActive: true}

	_, err := svc.Promote(context.Background(), "stu-1", PromoteStudentRequest{TargetClassID: "class-9"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.transferred)
}

func TestPromoteRejectsFullRequestedClass(t *testing.T) {
	svc := promotionFixture(&mockEnrollmentRepo{})
	classes := svc.classes.(*mockClassReader)
	classes.classes["class-6"] = &models.Class{ID: "class-6", GradeID: "grade-2", Name: "N2-B", Capacity: 30, CurrentEnrollment: 30, IsActive: true}

	_, err := svc.Promote(context.Background(), "stu-1", PromoteStudentRequest{TargetClassID: "class-6"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
}

func TestPromoteFromTopGradeFails(t *testing.T) {
	svc := promotionFixture(&mockEnrollmentRepo{})
	classes := svc.classes.(*mockClassReader)
	classes.classes["class-1"].GradeID = "grade-9"

	_, err := svc.Promote(context.Background(), "stu-1", PromoteStudentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestPromoteWithoutTargetClass(t *testing.T) {
	svc := promotionFixture(&mockEnrollmentRepo{})
	classes := svc.classes.(*mockClassReader)
	classes.availableGrade = map[string]*models.Class{}

	_, err := svc.Promote(context.Background(), "stu-1", PromoteStudentRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNoAvailableClass))
}

func TestPromoteRequiresAssignment(t *testing.T) {
	students := &stubStudents{students: map[string]*models.Student{"stu-1": {ID: "stu-1", Status: models.StudentStatusActive}}}
	svc := newEnrollmentFixture(&mockEnrollmentRepo{}, students, &mockClassReader{}, &mockGradeReader{})

	_, err := svc.Promote(context.Background(), "stu-1", PromoteStudentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestTerminalTransitions(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &stubStudents{students: map[string]*models.Student{"stu-1": activeAssignedStudent("stu-1", "class-1")}}
	svc := newEnrollmentFixture(repo, students, &mockClassReader{}, &mockGradeReader{})

	_, err := svc.Graduate(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusGraduated, repo.statuses["stu-1"])

	_, err = svc.Deactivate(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusInactive, repo.statuses["stu-1"])

	_, err = svc.MarkTransferred(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusTransferred, repo.statuses["stu-1"])
}

func TestReconcileReportsRepair(t *testing.T) {
	classes := &mockClassReader{reconciliation: &models.ClassReconciliation{
		ClassID:     "class-1",
		StoredCount: 28,
		ActualCount: 27,
		Repaired:    true,
	}}
	svc := newEnrollmentFixture(&mockEnrollmentRepo{}, &stubStudents{}, classes, &mockGradeReader{})

	result, err := svc.Reconcile(context.Background(), "class-1")
	require.NoError(t, err)
	assert.True(t, result.Repaired)
	assert.Equal(t, 27, result.ActualCount)
}
