package database

import (
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
)

type Portfolio struct {
	ID       int64  `db:"id" json:"id"`
	UserID   string `db:"user_id" json:"user_id"`
	Name     string `db:"name" json:"name"`
	Currency string `db:"currency" json:"currency"`
}

// TradeInput is the single write entry point's payload. WalletID, when
// set, asks for the matching cash transaction to be recorded in the same
// database transaction as the trade.
type TradeInput struct {
	UserID          string
	PortfolioID     int64
	AssetType       models.AssetType
	Symbol          string
	DisplayName     string
	ExternalPriceID string
	Action          models.TradeAction
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	Fee             decimal.Decimal
	TradeDate       time.Time
	IdempotencyKey  string
	WalletID        *int64
}
