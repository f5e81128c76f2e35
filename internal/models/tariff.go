package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingFrequency declares how a tariff's base amount maps to a per-term charge.
type BillingFrequency string

const (
	BillingPerTerm  BillingFrequency = "PER_TERM"
	BillingPerMonth BillingFrequency = "PER_MONTH"
	BillingPerYear  BillingFrequency = "PER_YEAR"
	BillingOneTime  BillingFrequency = "ONE_TIME"
)

// Valid reports whether the frequency is a known value.
func (f BillingFrequency) Valid() bool {
	switch f {
	case BillingPerTerm, BillingPerMonth, BillingPerYear, BillingOneTime:
		return true
	}
	return false
}

// Tariff is a priced fee template attachable to classes.
type Tariff struct {
	ID               string           `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	Type             string           `db:"type" json:"type"`
	Amount           decimal.Decimal  `db:"amount" json:"amount"`
	BillingFrequency BillingFrequency `db:"billing_frequency" json:"billing_frequency"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// ClassTariff attaches a tariff to a class. The association carries its own
// is_active flag: a tariff can be attached but dormant on a class.
type ClassTariff struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	TariffID  string    `db:"tariff_id" json:"tariff_id"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClassTariffDetail joins the association with tariff pricing fields.
type ClassTariffDetail struct {
	ClassTariff
	Name             string           `db:"name" json:"name"`
	Type             string           `db:"type" json:"type"`
	Amount           decimal.Decimal  `db:"amount" json:"amount"`
	BillingFrequency BillingFrequency `db:"billing_frequency" json:"billing_frequency"`
	TariffActive     bool             `db:"tariff_active" json:"tariff_active"`
}

// TariffFilter defines filters supported by list endpoints.
type TariffFilter struct {
	Type      string
	Frequency BillingFrequency
	IsActive  *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
