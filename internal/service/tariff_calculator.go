package service

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

// termsPerYear divides yearly tariffs evenly across the three terms of an
// academic year.
var termsPerYear = decimal.NewFromInt(3)

// ChargeFor computes the amount one tariff charges for one term.
//
// per_term and one_time tariffs charge their face amount. per_month tariffs
// charge the face amount for every calendar month the term touches. per_year
// tariffs charge a third of the face amount, rounded half-up to two decimal
// places.
func ChargeFor(tariff models.Tariff, term models.Term) (decimal.Decimal, error) {
	switch tariff.BillingFrequency {
	case models.BillingPerTerm, models.BillingOneTime:
		return tariff.Amount, nil
	case models.BillingPerMonth:
		months := decimal.NewFromInt(int64(term.MonthsSpanned()))
		return tariff.Amount.Mul(months), nil
	case models.BillingPerYear:
		return tariff.Amount.Div(termsPerYear).Round(2), nil
	default:
		return decimal.Zero, appErrors.Clone(appErrors.ErrValidation,
			"unknown billing frequency "+string(tariff.BillingFrequency))
	}
}

// BuildItems turns the active tariffs of a class into bill item drafts for
// the given term and returns them with their subtotal. Tariffs are captured
// by snapshot: later tariff edits never touch issued items.
func BuildItems(tariffs []models.Tariff, term models.Term) ([]models.BillItem, decimal.Decimal, error) {
	items := make([]models.BillItem, 0, len(tariffs))
	subtotal := decimal.Zero
	for _, tariff := range tariffs {
		charge, err := ChargeFor(tariff, term)
		if err != nil {
			return nil, decimal.Zero, err
		}
		items = append(items, models.BillItem{
			TariffID:   tariff.ID,
			Name:       tariff.Name,
			Type:       tariff.Type,
			Amount:     charge,
			PaidAmount: decimal.Zero,
			Balance:    charge,
			Status:     models.BillItemStatusPending,
		})
		subtotal = subtotal.Add(charge)
	}
	return items, subtotal, nil
}
