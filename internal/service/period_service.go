package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type academicYearRepository interface {
	List(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, int, error)
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
	FindActive(ctx context.Context) (*models.AcademicYear, error)
	Create(ctx context.Context, year *models.AcademicYear) error
	Update(ctx context.Context, year *models.AcademicYear) error
	Activate(ctx context.Context, id string) error
	Close(ctx context.Context, id string) error
	CountDependents(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

type termLifecycleRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindCurrent(ctx context.Context, at time.Time) (*models.CurrentPeriod, error)
	Create(ctx context.Context, term *models.Term) error
	Update(ctx context.Context, term *models.Term) error
	Activate(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	CountBills(ctx context.Context, id string) (int, error)
}

// CreateAcademicYearRequest describes payload for creating an academic year.
type CreateAcademicYearRequest struct {
	Name      string    `json:"name" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// UpdateAcademicYearRequest updates mutable fields on an academic year.
type UpdateAcademicYearRequest struct {
	Name      string    `json:"name" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// CreateTermRequest describes payload for creating a term.
type CreateTermRequest struct {
	AcademicYearID string    `json:"academic_year_id" validate:"required"`
	Name           string    `json:"name" validate:"required"`
	StartDate      time.Time `json:"start_date" validate:"required"`
	EndDate        time.Time `json:"end_date" validate:"required"`
}

// UpdateTermRequest updates mutable fields on a term.
type UpdateTermRequest struct {
	Name      string    `json:"name" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// PeriodService orchestrates academic year and term lifecycles. It is the
// single source of truth for "which period are we billing in right now".
type PeriodService struct {
	years     academicYearRepository
	terms     termLifecycleRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPeriodService constructs PeriodService.
func NewPeriodService(years academicYearRepository, terms termLifecycleRepository, validate *validator.Validate, logger *zap.Logger) *PeriodService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{years: years, terms: terms, validator: validate, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListYears returns paginated academic years.
func (s *PeriodService) ListYears(ctx context.Context, filter models.AcademicYearFilter) ([]models.AcademicYear, *models.Pagination, error) {
	years, total, err := s.years.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list academic years")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return years, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetYear loads an academic year.
func (s *PeriodService) GetYear(ctx context.Context, id string) (*models.AcademicYear, error) {
	year, err := s.years.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	return year, nil
}

// CreateYear registers a new academic year in draft state.
func (s *PeriodService) CreateYear(ctx context.Context, req CreateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	year := &models.AcademicYear{Name: req.Name, StartDate: req.StartDate, EndDate: req.EndDate}
	if err := s.years.Create(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create academic year")
	}
	s.logger.Info("academic year created", zap.String("year_id", year.ID), zap.String("name", year.Name))
	return year, nil
}

// UpdateYear modifies name and dates of a non-closed academic year.
func (s *PeriodService) UpdateYear(ctx context.Context, id string, req UpdateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	year, err := s.GetYear(ctx, id)
	if err != nil {
		return nil, err
	}
	year.Name = req.Name
	year.StartDate = req.StartDate
	year.EndDate = req.EndDate
	if err := s.years.Update(ctx, year); err != nil {
		return nil, wrapInternal(err, "failed to update academic year")
	}
	return year, nil
}

// ActivateYear promotes a year to active, demoting any currently active year
// back to draft.
func (s *PeriodService) ActivateYear(ctx context.Context, id string) (*models.AcademicYear, error) {
	if err := s.years.Activate(ctx, id); err != nil {
		return nil, wrapInternal(err, "failed to activate academic year")
	}
	s.logger.Info("academic year activated", zap.String("year_id", id))
	return s.GetYear(ctx, id)
}

// CloseYear finalizes a year once all of its terms are completed.
func (s *PeriodService) CloseYear(ctx context.Context, id string) (*models.AcademicYear, error) {
	if err := s.years.Close(ctx, id); err != nil {
		return nil, wrapInternal(err, "failed to close academic year")
	}
	s.logger.Info("academic year closed", zap.String("year_id", id))
	return s.GetYear(ctx, id)
}

// DeleteYear removes a year that owns no terms or bills.
func (s *PeriodService) DeleteYear(ctx context.Context, id string) error {
	if _, err := s.GetYear(ctx, id); err != nil {
		return err
	}
	deps, err := s.years.CountDependents(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count dependents")
	}
	if deps > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "academic year still owns terms or bills")
	}
	if err := s.years.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete academic year")
	}
	return nil
}

// ListTerms returns paginated terms.
func (s *PeriodService) ListTerms(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	terms, total, err := s.terms.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return terms, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetTerm loads a term.
func (s *PeriodService) GetTerm(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.terms.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// CreateTerm registers a term under an academic year. Term dates must sit
// inside the owning year's range.
func (s *PeriodService) CreateTerm(ctx context.Context, req CreateTermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	year, err := s.GetYear(ctx, req.AcademicYearID)
	if err != nil {
		return nil, err
	}
	if year.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot add terms to a closed academic year")
	}
	if req.StartDate.Before(year.StartDate) || req.EndDate.After(year.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term dates must fall within the academic year")
	}
	term := &models.Term{AcademicYearID: req.AcademicYearID, Name: req.Name, StartDate: req.StartDate, EndDate: req.EndDate}
	if err := s.terms.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	s.logger.Info("term created", zap.String("term_id", term.ID), zap.String("year_id", term.AcademicYearID))
	return term, nil
}

// UpdateTerm modifies name and dates of a non-completed term.
func (s *PeriodService) UpdateTerm(ctx context.Context, id string, req UpdateTermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	term, err := s.GetTerm(ctx, id)
	if err != nil {
		return nil, err
	}
	year, err := s.GetYear(ctx, term.AcademicYearID)
	if err != nil {
		return nil, err
	}
	if req.StartDate.Before(year.StartDate) || req.EndDate.After(year.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term dates must fall within the academic year")
	}
	term.Name = req.Name
	term.StartDate = req.StartDate
	term.EndDate = req.EndDate
	if err := s.terms.Update(ctx, term); err != nil {
		return nil, wrapInternal(err, "failed to update term")
	}
	return term, nil
}

// ActivateTerm promotes a term to active. The owning academic year must be
// active. A sibling term that already started blocks activation until an
// administrator completes it; a not-yet-started sibling is demoted back to
// upcoming.
func (s *PeriodService) ActivateTerm(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.GetTerm(ctx, id)
	if err != nil {
		return nil, err
	}
	year, err := s.GetYear(ctx, term.AcademicYearID)
	if err != nil {
		return nil, err
	}
	if year.Status != models.AcademicYearStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "owning academic year is not active")
	}
	if err := s.terms.Activate(ctx, id, s.now()); err != nil {
		return nil, wrapInternal(err, "failed to activate term")
	}
	s.logger.Info("term activated", zap.String("term_id", id))
	return s.GetTerm(ctx, id)
}

// CompleteTerm finalizes an active term once its end date has passed.
func (s *PeriodService) CompleteTerm(ctx context.Context, id string) (*models.Term, error) {
	if err := s.terms.Complete(ctx, id, s.now()); err != nil {
		return nil, wrapInternal(err, "failed to complete term")
	}
	s.logger.Info("term completed", zap.String("term_id", id))
	return s.GetTerm(ctx, id)
}

// DeleteTerm removes a term that owns no bills.
func (s *PeriodService) DeleteTerm(ctx context.Context, id string) error {
	if _, err := s.GetTerm(ctx, id); err != nil {
		return err
	}
	bills, err := s.terms.CountBills(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count term bills")
	}
	if bills > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "term still owns bills")
	}
	if err := s.terms.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete term")
	}
	return nil
}

// Current resolves the active academic year and active term covering now.
// Billing operations call this before drafting any bill.
func (s *PeriodService) Current(ctx context.Context) (*models.CurrentPeriod, error) {
	period, err := s.terms.FindCurrent(ctx, s.now())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNoActivePeriod, "no active academic year and term covers the current date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current period")
	}
	return period, nil
}
