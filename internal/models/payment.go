package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a settled payment fact recorded against a bill or one of its
// items. Reversals are stored as separate facts with Reversal=true rather
// than deleting the original row.
type Payment struct {
	ID         string          `db:"id" json:"id"`
	BillID     string          `db:"bill_id" json:"bill_id"`
	BillItemID *string         `db:"bill_item_id" json:"bill_item_id,omitempty"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"method" json:"method"`
	Reference  string          `db:"reference" json:"reference"`
	Reversal   bool            `db:"reversal" json:"reversal"`
	Reason     string          `db:"reason" json:"reason"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
