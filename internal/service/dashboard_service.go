package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type billingSummaryRepository interface {
	SummaryByClass(ctx context.Context, termID string) ([]models.ClassBillingSummary, error)
	CountByStatus(ctx context.Context, termID string) (map[models.BillStatus]int, error)
}

// BillingDashboard aggregates collection state for one term.
type BillingDashboard struct {
	TermID         string                       `json:"term_id"`
	TotalBilled    decimal.Decimal              `json:"total_billed"`
	TotalPaid      decimal.Decimal              `json:"total_paid"`
	Outstanding    decimal.Decimal              `json:"outstanding"`
	CollectionRate float64                      `json:"collection_rate"`
	StatusCounts   map[models.BillStatus]int    `json:"status_counts"`
	ByClass        []models.ClassBillingSummary `json:"by_class"`
	GeneratedAt    time.Time                    `json:"generated_at"`
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService composes the billing overview served to administrators.
// Payloads are cached per term since they aggregate across every bill.
type DashboardService struct {
	bills  billingSummaryRepository
	cache  *CacheService
	logger *zap.Logger
	now    func() time.Time
	cfg    DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(bills billingSummaryRepository, cache *CacheService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		bills:  bills,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		cfg:    cfg,
	}
}

// Billing returns the billing dashboard for a term and reports cache
// utilisation.
func (s *DashboardService) Billing(ctx context.Context, termID string) (*BillingDashboard, bool, error) {
	if termID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "termId is required")
	}
	cacheKey := fmt.Sprintf("dash:billing:%s", termID)
	if s.cache != nil {
		var cached BillingDashboard
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	dashboard, err := s.compose(ctx, termID)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, dashboard, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return dashboard, false, nil
}

// Invalidate drops cached dashboards for a term after billing mutations.
func (s *DashboardService) Invalidate(ctx context.Context, termID string) {
	if s.cache == nil {
		return
	}
	pattern := "dash:billing:*"
	if termID != "" {
		pattern = fmt.Sprintf("dash:billing:%s", termID)
	}
	if err := s.cache.Invalidate(ctx, pattern); err != nil {
		s.logger.Warn("dashboard cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

func (s *DashboardService) compose(ctx context.Context, termID string) (*BillingDashboard, error) {
	byClass, err := s.bills.SummaryByClass(ctx, termID)
	if err != nil {
		return nil, wrapInternal(err, "failed to summarize bills")
	}
	statusCounts, err := s.bills.CountByStatus(ctx, termID)
	if err != nil {
		return nil, wrapInternal(err, "failed to count bills by status")
	}

	dashboard := &BillingDashboard{
		TermID:       termID,
		TotalBilled:  decimal.Zero,
		TotalPaid:    decimal.Zero,
		Outstanding:  decimal.Zero,
		StatusCounts: statusCounts,
		ByClass:      byClass,
		GeneratedAt:  s.now(),
	}
	for _, class := range byClass {
		dashboard.TotalBilled = dashboard.TotalBilled.Add(class.TotalBilled)
		dashboard.TotalPaid = dashboard.TotalPaid.Add(class.TotalPaid)
		dashboard.Outstanding = dashboard.Outstanding.Add(class.Outstanding)
	}
	if dashboard.TotalBilled.IsPositive() {
		rate, _ := dashboard.TotalPaid.Div(dashboard.TotalBilled).Float64()
		dashboard.CollectionRate = rate * 100
	}
	return dashboard, nil
}
