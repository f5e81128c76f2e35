package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type mockYearRepo struct {
	years      map[string]*models.AcademicYear
	created    *models.AcademicYear
	activated  []string
	closed     []string
	deleted    []string
	dependents int
}

func (m *mockYearRepo) List(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, int, error) {
	return nil, 0, nil
}

func (m *mockYearRepo) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	year, ok := m.years[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *year
	return &copied, nil
}

func (m *mockYearRepo) FindActive(ctx context.Context) (*models.AcademicYear, error) {
	for _, year := range m.years {
		if year.Status == models.AcademicYearStatusActive {
			return year, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockYearRepo) Create(ctx context.Context, year *models.AcademicYear) error {
	year.ID = "year-new"
	year.Status = models.AcademicYearStatusDraft
	m.created = year
	if m.years == nil {
		m.years = make(map[string]*models.AcademicYear)
	}
	m.years[year.ID] = year
	return nil
}

func (m *mockYearRepo) Update(ctx context.Context, year *models.AcademicYear) error {
	m.years[year.ID] = year
	return nil
}

func (m *mockYearRepo) Activate(ctx context.Context, id string) error {
	year, ok := m.years[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
	}
	if year.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidState, "cannot activate a closed academic year")
	}
	year.Status = models.AcademicYearStatusActive
	m.activated = append(m.activated, id)
	return nil
}

func (m *mockYearRepo) Close(ctx context.Context, id string) error {
	year, ok := m.years[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
	}
	year.Status = models.AcademicYearStatusClosed
	m.closed = append(m.closed, id)
	return nil
}

func (m *mockYearRepo) CountDependents(ctx context.Context, id string) (int, error) {
	return m.dependents, nil
}

func (m *mockYearRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockTermRepo struct {
	terms     map[string]*models.Term
	current   *models.CurrentPeriod
	created   *models.Term
	activated []string
	completed []string
	bills     int
	err       error
}

func (m *mockTermRepo) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	return nil, 0, nil
}

func (m *mockTermRepo) FindByID(ctx context.Context, id string) (*models.Term, error) {
	term, ok := m.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *term
	return &copied, nil
}

func (m *mockTermRepo) FindCurrent(ctx context.Context, at time.Time) (*models.CurrentPeriod, error) {
	if m.current == nil {
		return nil, sql.ErrNoRows
	}
	return m.current, nil
}

func (m *mockTermRepo) Create(ctx context.Context, term *models.Term) error {
	term.ID = "term-new"
	term.Status = models.TermStatusUpcoming
	m.created = term
	if m.terms == nil {
		m.terms = make(map[string]*models.Term)
	}
	m.terms[term.ID] = term
	return nil
}

func (m *mockTermRepo) Update(ctx context.Context, term *models.Term) error {
	m.terms[term.ID] = term
	return nil
}

func (m *mockTermRepo) Activate(ctx context.Context, id string, at time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.terms[id].Status = models.TermStatusActive
	m.activated = append(m.activated, id)
	return nil
}

func (m *mockTermRepo) Complete(ctx context.Context, id string, at time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.terms[id].Status = models.TermStatusCompleted
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockTermRepo) Delete(ctx context.Context, id string) error {
	delete(m.terms, id)
	return nil
}

func (m *mockTermRepo) CountBills(ctx context.Context, id string) (int, error) {
	return m.bills, nil
}

func date(y int, mo time.Month, d int) time.Time {
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func draftYear(id string) *models.AcademicYear {
	return &models.AcademicYear{
		ID:        id,
		Name:      "2026/2027",
		StartDate: date(2026, 9, 1),
		EndDate:   date(2027, 6, 30),
		Status:    models.AcademicYearStatusDraft,
	}
}

func newPeriodFixture(years *mockYearRepo, terms *mockTermRepo) *PeriodService {
	return NewPeriodService(years, terms, nil, nil)
}

func TestCreateYearRejectsInvertedDates(t *testing.T) {
	svc := newPeriodFixture(&mockYearRepo{}, &mockTermRepo{})

	_, err := svc.CreateYear(context.Background(), CreateAcademicYearRequest{
		Name:      "2026/2027",
		StartDate: date(2027, 6, 30),
		EndDate:   date(2026, 9, 1),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateYearStartsDraft(t *testing.T) {
	years := &mockYearRepo{}
	svc := newPeriodFixture(years, &mockTermRepo{})

	year, err := svc.CreateYear(context.Background(), CreateAcademicYearRequest{
		Name:      "2026/2027",
		StartDate: date(2026, 9, 1),
		EndDate:   date(2027, 6, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AcademicYearStatusDraft, year.Status)
	require.NotNil(t, years.created)
}

func TestActivateYear(t *testing.T) {
	years := &mockYearRepo{years: map[string]*models.AcademicYear{"year-1": draftYear("year-1")}}
	svc := newPeriodFixture(years, &mockTermRepo{})

	year, err := svc.ActivateYear(context.Background(), "year-1")
	require.NoError(t, err)
	assert.Equal(t, models.AcademicYearStatusActive, year.Status)
	assert.Contains(t, years.activated, "year-1")
}

func TestActivateClosedYearFails(t *testing.T) {
	year := draftYear("year-1")
	year.Status = models.AcademicYearStatusClosed
	years := &mockYearRepo{years: map[string]*models.AcademicYear{"year-1": year}}
	svc := newPeriodFixture(years, &mockTermRepo{})

	_, err := svc.ActivateYear(context.Background(), "year-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestDeleteYearWithDependentsFails(t *testing.T) {
	years := &mockYearRepo{years: map[string]*models.AcademicYear{"year-1": draftYear("year-1")}, dependents: 2}
	svc := newPeriodFixture(years, &mockTermRepo{})

	err := svc.DeleteYear(context.Background(), "year-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, years.deleted)
}

func TestCreateTermInsideYearRange(t *testing.T) {
	years := &mockYearRepo{years: map[string]*models.AcademicYear{"year-1": draftYear("year-1")}}
	terms := &mockTermRepo{}
	svc := newPeriodFixture(years, terms)

	term, err := svc.CreateTerm(context.Background(), CreateTermRequest{
		AcademicYearID: "year-1",
		Name:           "Term 1",
		StartDate:      date(2026, 9, 1),
		EndDate:        date(2026, 12, 15),
	})
	require.NoError(t, err)
	assert.Equal(t, models.TermStatusUpcoming, term.Status)
	require.NotNil(t, terms.created)
}

func TestCreateTermOutsideYearRangeFails(t *testing.T) {
	years := &mockYearRepo{years: map[string]*models.AcademicYear{"year-1": draftYear("year-1")}}
	svc := newPeriodFixture(years, &mockTermRepo{})

	_, err := svc.CreateTerm(context.Background(), CreateTermRequest{
		AcademicYearID: "year-1",
		Name:           "Term 0",
		StartDate:      date(2026, 8, 1),
		EndDate:        date(2026, 10, 1),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateTermInClosedYearFails(t *testing.T) {
	year := draftYear("year-1")
	year.Status = models.AcademicYearStatusClosed
	years := &mockYearRepo{years: map[string]*models.AcademicYear{"year-1": year}}
	svc := newPeriodFixture(years, &mockTermRepo{})

	_, err := svc.CreateTerm(context.Background(), CreateTermRequest{
		AcademicYearID: "year-1",
		Name:           "Term 1",
		StartDate:      date(2026, 9, 1),
		EndDate:        date(2026, 12, 15),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestActivateTermRequiresActiveYear(t *testing.T) {
	years := &mockYearRepo{years: map[string]*models.AcademicYear{"year-1": draftYear("year-1")}}
	terms := &mockTermRepo{terms: map[string]*models.Term{
		"term-1": {ID: "term-1", AcademicYearID: "year-1", Status: models.TermStatusUpcoming},
	}}
	svc := newPeriodFixture(years, terms)

	_, err := svc.ActivateTerm(context.Background(), "term-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, terms.activated)

	years.years["year-1"].Status = models.AcademicYearStatusActive
	term, err := svc.ActivateTerm(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, models.TermStatusActive, term.Status)
}

func TestDeleteTermWithBillsFails(t *testing.T) {
	terms := &mockTermRepo{
		terms: map[string]*models.Term{"term-1": {ID: "term-1", AcademicYearID: "year-1"}},
		bills: 5,
	}
	svc := newPeriodFixture(&mockYearRepo{}, terms)

	err := svc.DeleteTerm(context.Background(), "term-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestCurrentMapsMissingPeriod(t *testing.T) {
	svc := newPeriodFixture(&mockYearRepo{}, &mockTermRepo{})

	_, err := svc.Current(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNoActivePeriod))
}

func TestCurrentReturnsActivePair(t *testing.T) {
	terms := &mockTermRepo{current: activePeriod()}
	svc := newPeriodFixture(&mockYearRepo{}, terms)

	period, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "year-1", period.AcademicYear.ID)
	assert.Equal(t, "term-1", period.Term.ID)
}
