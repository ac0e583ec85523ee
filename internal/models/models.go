package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AssetType string

const (
	AssetCrypto AssetType = "crypto"
	AssetStock  AssetType = "stock"
)

type TradeAction string

const (
	ActionBuy         TradeAction = "buy"
	ActionSell        TradeAction = "sell"
	ActionRevaluation TradeAction = "revaluation"
)

// AssetKey identifies one position. It is a comparable struct so it can
// key maps directly; never build it by concatenating strings, symbols
// may contain any separator character.
type AssetKey struct {
	PortfolioID int64
	Symbol      string
	AssetType   AssetType
}

// Trade is one immutable ledger event. Replay order is
// (TradeDate ascending, ID ascending); the id is assigned at insert and
// acts as the same-day tie-break.
type Trade struct {
	ID              int64           `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	PortfolioID     int64           `db:"portfolio_id" json:"portfolio_id"`
	AssetType       AssetType       `db:"asset_type" json:"asset_type"`
	Symbol          string          `db:"symbol" json:"symbol"`
	DisplayName     string          `db:"display_name" json:"display_name"`
	ExternalPriceID string          `db:"external_price_id" json:"external_price_id,omitempty"`
	Action          TradeAction     `db:"action" json:"action"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	Fee             decimal.Decimal `db:"fee" json:"fee"`
	TradeDate       time.Time       `db:"trade_date" json:"trade_date"`
}

func (t Trade) Key() AssetKey {
	return AssetKey{PortfolioID: t.PortfolioID, Symbol: t.Symbol, AssetType: t.AssetType}
}

// Holding is the derived state of one position. It is a projection of
// the trade ledger, never authoritative on its own.
type Holding struct {
	PortfolioID     int64           `db:"portfolio_id" json:"portfolio_id"`
	Symbol          string          `db:"symbol" json:"symbol"`
	AssetType       AssetType       `db:"asset_type" json:"asset_type"`
	DisplayName     string          `db:"display_name" json:"display_name"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	AvgCost         decimal.Decimal `db:"avg_cost" json:"avg_cost"`
	LastPrice       decimal.Decimal `db:"last_price" json:"last_price"`
	ExternalPriceID string          `db:"external_price_id" json:"external_price_id,omitempty"`
}

func (h Holding) Key() AssetKey {
	return AssetKey{PortfolioID: h.PortfolioID, Symbol: h.Symbol, AssetType: h.AssetType}
}

// Quote is a live market observation for one external price id.
type Quote struct {
	Price     decimal.Decimal
	Change24h decimal.Decimal // percent over the last 24h
}

type ValuationPoint struct {
	Date  string          `json:"date"`
	Value decimal.Decimal `json:"value"`
}

type MonthlyBreakdown struct {
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Cash   decimal.Decimal `json:"cash"`
	Stocks decimal.Decimal `json:"stocks"`
	Crypto decimal.Decimal `json:"crypto"`
	Total  decimal.Decimal `json:"total"`
}

// DateOnly truncates t to a calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
