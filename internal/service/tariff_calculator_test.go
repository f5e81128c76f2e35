package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

func termSpanning(start, end string) models.Term {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return models.Term{ID: "term-1", StartDate: s, EndDate: e}
}

func TestChargeForPerTerm(t *testing.T) {
	tariff := models.Tariff{Amount: decimal.NewFromInt(500), BillingFrequency: models.BillingPerTerm}
	charge, err := ChargeFor(tariff, termSpanning("2026-01-15", "2026-03-10"))
	require.NoError(t, err)
	assert.True(t, charge.Equal(decimal.NewFromInt(500)))
}

func TestChargeForOneTime(t *testing.T) {
	tariff := models.Tariff{Amount: decimal.NewFromInt(120), BillingFrequency: models.BillingOneTime}
	charge, err := ChargeFor(tariff, termSpanning("2026-01-15", "2026-03-10"))
	require.NoError(t, err)
	assert.True(t, charge.Equal(decimal.NewFromInt(120)))
}

func TestChargeForPerMonthCountsTouchedMonths(t *testing.T) {
	tariff := models.Tariff{Amount: decimal.NewFromInt(100), BillingFrequency: models.BillingPerMonth}

	// Jan 15 through Mar 10 touches Jan, Feb, Mar.
	charge, err := ChargeFor(tariff, termSpanning("2026-01-15", "2026-03-10"))
	require.NoError(t, err)
	assert.True(t, charge.Equal(decimal.NewFromInt(300)))

	// Year boundary: Nov through Feb touches 4 months.
	charge, err = ChargeFor(tariff, termSpanning("2026-11-01", "2027-02-15"))
	require.NoError(t, err)
	assert.True(t, charge.Equal(decimal.NewFromInt(400)))
}

func TestChargeForPerYearSplitsAcrossTerms(t *testing.T) {
	tariff := models.Tariff{Amount: decimal.NewFromInt(1000), BillingFrequency: models.BillingPerYear}
	charge, err := ChargeFor(tariff, termSpanning("2026-01-15", "2026-03-10"))
	require.NoError(t, err)
	assert.Equal(t, "333.33", charge.StringFixed(2))
}

func TestChargeForUnknownFrequency(t *testing.T) {
	tariff := models.Tariff{Amount: decimal.NewFromInt(10), BillingFrequency: "WEEKLY"}
	_, err := ChargeFor(tariff, termSpanning("2026-01-15", "2026-03-10"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBuildItemsSnapshotsTariffs(t *testing.T) {
	term := termSpanning("2026-01-05", "2026-04-20")
	tariffs := []models.Tariff{
		{ID: "t-1", Name: "Tuition", Type: "TUITION", Amount: decimal.NewFromInt(900), BillingFrequency: models.BillingPerTerm},
		{ID: "t-2", Name: "Transport", Type: "TRANSPORT", Amount: decimal.NewFromInt(50), BillingFrequency: models.BillingPerMonth},
	}

	items, subtotal, err := BuildItems(tariffs, term)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "t-1", items[0].TariffID)
	assert.True(t, items[0].Amount.Equal(decimal.NewFromInt(900)))
	assert.True(t, items[0].Balance.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, models.BillItemStatusPending, items[0].Status)

	// Jan..Apr is 4 months.
	assert.True(t, items[1].Amount.Equal(decimal.NewFromInt(200)))
	assert.True(t, subtotal.Equal(decimal.NewFromInt(1100)))
}

func TestBuildItemsPropagatesFrequencyError(t *testing.T) {
	term := termSpanning("2026-01-05", "2026-04-20")
	tariffs := []models.Tariff{
		{ID: "t-1", Amount: decimal.NewFromInt(10), BillingFrequency: "DAILY"},
	}
	_, _, err := BuildItems(tariffs, term)
	require.Error(t, err)
}
