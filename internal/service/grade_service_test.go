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

type mockGradeRepo struct {
	grades     map[string]*models.Grade
	takenLevel map[int]string
	created    *models.Grade
	deleted    []string
	deleteErr  error
}

func (m *mockGradeRepo) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error) {
	var result []models.Grade
	for _, grade := range m.grades {
		if filter.IsActive != nil && grade.IsActive != *filter.IsActive {
			continue
		}
		result = append(result, *grade)
	}
	return result, len(result), nil
}

func (m *mockGradeRepo) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	grade, ok := m.grades[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *grade
	return &copied, nil
}

func (m *mockGradeRepo) ExistsByLevel(ctx context.Context, level int, excludeID string) (bool, error) {
	id, taken := m.takenLevel[level]
	return taken && id != excludeID, nil
}

func (m *mockGradeRepo) Create(ctx context.Context, grade *models.Grade) error {
	grade.ID = "grade-new"
	m.created = grade
	if m.grades == nil {
		m.grades = make(map[string]*models.Grade)
	}
	m.grades[grade.ID] = grade
	return nil
}

func (m *mockGradeRepo) Update(ctx context.Context, grade *models.Grade) error {
	m.grades[grade.ID] = grade
	return nil
}

func (m *mockGradeRepo) Delete(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func TestGradeCreate(t *testing.T) {
	repo := &mockGradeRepo{}
	svc := NewGradeService(repo, nil, nil)

	grade, err := svc.Create(context.Background(), CreateGradeRequest{Name: "N1", Level: 1, IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, "N1", grade.Name)
	assert.Equal(t, 1, grade.Level)
	require.NotNil(t, repo.created)
}

func TestGradeCreateRejectsBadName(t *testing.T) {
	svc := NewGradeService(&mockGradeRepo{}, nil, nil)

	for _, name := range []string{"Grade1", "n1", "N", "P1A"} {
		_, err := svc.Create(context.Background(), CreateGradeRequest{Name: name, Level: 1})
		require.Error(t, err, "name %q should be rejected", name)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestGradeCreateRejectsDuplicateLevel(t *testing.T) {
	repo := &mockGradeRepo{takenLevel: map[int]string{3: "grade-3"}}
	svc := NewGradeService(repo, nil, nil)

	_, err := svc.Create(context.Background(), CreateGradeRequest{Name: "N3", Level: 3})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestGradeUpdateAllowsKeepingOwnLevel(t *testing.T) {
	repo := &mockGradeRepo{
		grades:     map[string]*models.Grade{"grade-3": {ID: "grade-3", Name: "N3", Level: 3, IsActive: true}},
		takenLevel: map[int]string{3: "grade-3"},
	}
	svc := NewGradeService(repo, nil, nil)

	grade, err := svc.Update(context.Background(), "grade-3", UpdateGradeRequest{Name: "P3", Level: 3})
	require.NoError(t, err)
	assert.Equal(t, "P3", grade.Name)
}

func TestGradeUpdateRejectsTakenLevel(t *testing.T) {
	repo := &mockGradeRepo{
		grades:     map[string]*models.Grade{"grade-3": {ID: "grade-3", Name: "N3", Level: 3}},
		takenLevel: map[int]string{4: "grade-4"},
	}
	svc := NewGradeService(repo, nil, nil)

	_, err := svc.Update(context.Background(), "grade-3", UpdateGradeRequest{Name: "N4", Level: 4})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestGradeGetNotFound(t *testing.T) {
	svc := NewGradeService(&mockGradeRepo{}, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGradeDeleteKeepsTypedErrors(t *testing.T) {
	repo := &mockGradeRepo{
		grades:    map[string]*models.Grade{"grade-1": {ID: "grade-1", Name: "N1", Level: 1}},
		deleteErr: appErrors.Clone(appErrors.ErrPreconditionFailed, "grade still owns classes"),
	}
	svc := NewGradeService(repo, nil, nil)

	err := svc.Delete(context.Background(), "grade-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}
