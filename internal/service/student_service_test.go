package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type mockStudentRepo struct {
	students    map[string]models.Student
	existsByNIS map[string]string
	deleted     []string
	lastFilter  models.StudentFilter
	listTotal   int
	deleteErr   error
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	m.lastFilter = filter
	details := make([]models.StudentDetail, 0, len(m.students))
	for _, s := range m.students {
		details = append(details, models.StudentDetail{Student: s})
	}
	return details, m.listTotal, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		copied := s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return &models.StudentDetail{Student: s}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByNIS(ctx context.Context, nis, excludeID string) (bool, error) {
	if id, ok := m.existsByNIS[nis]; ok {
		if excludeID == "" || id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string]models.Student)
	}
	if student.ID == "" {
		student.ID = "generated"
	}
	if student.Status == "" {
		student.Status = models.StudentStatusActive
	}
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func TestStudentCreateStartsActiveAndUnassigned(t *testing.T) {
	repo := &mockStudentRepo{existsByNIS: map[string]string{}}
	svc := NewStudentService(repo, nil, nil)

	student, err := svc.Create(context.Background(), CreateStudentRequest{NIS: "1234", FullName: "Jane Doe"})
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, models.StudentStatusActive, student.Status)
	assert.False(t, student.Assigned())
}

func TestStudentCreateDuplicateNIS(t *testing.T) {
	repo := &mockStudentRepo{existsByNIS: map[string]string{"1234": "other"}}
	svc := NewStudentService(repo, nil, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{NIS: "1234", FullName: "Jane Doe"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestStudentCreateValidatesPayload(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{NIS: "1234"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentUpdate(t *testing.T) {
	repo := &mockStudentRepo{
		students:    map[string]models.Student{"stu-1": {ID: "stu-1", NIS: "111", FullName: "Old Name", Status: models.StudentStatusActive}},
		existsByNIS: map[string]string{"111": "stu-1"},
	}
	svc := NewStudentService(repo, nil, nil)

	// Keeping your own NIS is not a conflict.
	updated, err := svc.Update(context.Background(), "stu-1", UpdateStudentRequest{NIS: "111", FullName: "New Name"})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.FullName)
}

func TestStudentUpdateNotFound(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil)

	_, err := svc.Update(context.Background(), "missing", UpdateStudentRequest{NIS: "1", FullName: "X"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStudentDeleteKeepsTypedErrors(t *testing.T) {
	repo := &mockStudentRepo{
		students:  map[string]models.Student{"stu-1": {ID: "stu-1", NIS: "111", FullName: "Jane"}},
		deleteErr: appErrors.Clone(appErrors.ErrPreconditionFailed, "student has billing history"),
	}
	svc := NewStudentService(repo, nil, nil)

	err := svc.Delete(context.Background(), "stu-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestStudentListDefaultsPagination(t *testing.T) {
	repo := &mockStudentRepo{listTotal: 42}
	svc := NewStudentService(repo, nil, nil)

	_, pagination, err := svc.List(context.Background(), models.StudentFilter{Unassigned: true})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 42, pagination.TotalCount)
	assert.True(t, repo.lastFilter.Unassigned)
}
