package service

import (
	"context"
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	maxHistoryDays = 365
	maxMonthsBack  = 60
	defaultDays    = 30
	defaultMonths  = 12
)

// TradeSource reads the ledger. Implemented by database.Repo.
type TradeSource interface {
	ListTrades(ctx context.Context, userID string, portfolioID *int64, upTo *time.Time) ([]models.Trade, error)
}

// HoldingSource reads the persisted current projection.
type HoldingSource interface {
	GetHoldings(ctx context.Context, userID string, portfolioID *int64) ([]models.Holding, error)
}

// CashLedger is the external income-minus-expense running total. Cash is
// never replayed from the trade ledger.
type CashLedger interface {
	CashBalanceAsOf(ctx context.Context, userID string, date time.Time) (decimal.Decimal, error)
}

// HoldingRow is one line of the holdings table, priced and annotated for
// presentation.
type HoldingRow struct {
	PortfolioID  int64            `json:"portfolio_id"`
	Symbol       string           `json:"symbol"`
	Name         string           `json:"name"`
	AssetType    models.AssetType `json:"asset_type"`
	Quantity     decimal.Decimal  `json:"quantity"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	Change24h    decimal.Decimal  `json:"change_24h"`
	DailyPL      decimal.Decimal  `json:"daily_pl"`
	AvgCost      decimal.Decimal  `json:"avg_cost"`
	Invested     decimal.Decimal  `json:"invested"`
	MarketValue  decimal.Decimal  `json:"market_value"`
	UnrealizedPL decimal.Decimal  `json:"unrealized_pl"`
	Allocation   decimal.Decimal  `json:"allocation"`
}

type Stats struct {
	TotalValue          decimal.Decimal `json:"total_value"`
	DailyPL             decimal.Decimal `json:"daily_pl"`
	DailyPLPercent      decimal.Decimal `json:"daily_pl_percent"`
	UnrealizedPL        decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPercent decimal.Decimal `json:"unrealized_pl_percent"`
}

// Aggregator combines replayed holdings with resolved prices into the
// query surface: holdings rows, summary stats, daily history and the
// monthly net-worth breakdown.
type Aggregator struct {
	trades   TradeSource
	holdings HoldingSource
	cash     CashLedger
	quotes   *QuoteService
	log      *logrus.Logger
}

func NewAggregator(t TradeSource, h HoldingSource, c CashLedger, q *QuoteService, log *logrus.Logger) *Aggregator {
	return &Aggregator{trades: t, holdings: h, cash: c, quotes: q, log: log}
}

// HoldingRows prices every current position with one batched quote call
// and derives the per-row P&L numbers and allocation percentages.
func (a *Aggregator) HoldingRows(ctx context.Context, userID string, portfolioID *int64) ([]HoldingRow, error) {
	held, err := a.holdings.GetHoldings(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if len(held) == 0 {
		return []HoldingRow{}, nil
	}
	quotes := a.quotes.Quotes(ctx, priceIDsOfHoldings(held))

	rows := make([]HoldingRow, 0, len(held))
	total := decimal.Zero
	for _, h := range held {
		price, change := currentPrice(h, quotes)
		marketValue := h.Quantity.Mul(price)
		invested := h.Quantity.Mul(h.AvgCost)
		rows = append(rows, HoldingRow{
			PortfolioID:  h.PortfolioID,
			Symbol:       h.Symbol,
			Name:         h.DisplayName,
			AssetType:    h.AssetType,
			Quantity:     h.Quantity,
			CurrentPrice: price,
			Change24h:    change,
			DailyPL:      dailyPL(marketValue, change),
			AvgCost:      h.AvgCost,
			Invested:     invested,
			MarketValue:  marketValue,
			UnrealizedPL: marketValue.Sub(invested),
		})
		total = total.Add(marketValue)
	}
	for i := range rows {
		if total.IsPositive() {
			rows[i].Allocation = rows[i].MarketValue.Div(total).Mul(decimal.NewFromInt(100))
		}
	}
	return rows, nil
}

// CurrentStats sums the holdings rows into the summary card. All ratios
// guard a zero denominator by answering zero.
func (a *Aggregator) CurrentStats(ctx context.Context, userID string, portfolioID *int64) (Stats, error) {
	rows, err := a.HoldingRows(ctx, userID, portfolioID)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	invested := decimal.Zero
	for _, r := range rows {
		s.TotalValue = s.TotalValue.Add(r.MarketValue)
		s.DailyPL = s.DailyPL.Add(r.DailyPL)
		s.UnrealizedPL = s.UnrealizedPL.Add(r.UnrealizedPL)
		invested = invested.Add(r.Invested)
	}
	if s.TotalValue.IsPositive() {
		s.DailyPLPercent = s.DailyPL.Div(s.TotalValue).Mul(decimal.NewFromInt(100))
	}
	if invested.IsPositive() {
		s.UnrealizedPLPercent = s.UnrealizedPL.Div(invested).Mul(decimal.NewFromInt(100))
	}
	return s, nil
}

// History returns days+1 daily valuation points ending today. The whole
// window is computed from one consistent ledger read and one quote batch.
// An empty ledger yields a flat series at the current persisted-holdings
// value: positions held before any replayable history keep their value
// across the window instead of charting as zero.
func (a *Aggregator) History(ctx context.Context, userID string, portfolioID *int64, days int) ([]models.ValuationPoint, error) {
	if days <= 0 {
		days = defaultDays
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}
	today := models.DateOnly(time.Now().UTC())
	trades, err := a.trades.ListTrades(ctx, userID, portfolioID, &today)
	if err != nil {
		return nil, err
	}
	held, err := a.holdings.GetHoldings(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	quotes := a.quotes.Quotes(ctx, priceIDs(held, trades))
	dates := DailyDates(today, days)

	if len(trades) == 0 {
		flat := decimal.Zero
		for _, h := range held {
			price, _ := currentPrice(h, quotes)
			flat = flat.Add(h.Quantity.Mul(price))
		}
		points := make([]models.ValuationPoint, 0, len(dates))
		for _, d := range dates {
			points = append(points, models.ValuationPoint{Date: d.Format("2006-01-02"), Value: flat})
		}
		return points, nil
	}

	resolver := NewResolver(BuildPriceIndex(trades), quotes, today)
	points := make([]models.ValuationPoint, 0, len(dates))
	for _, snap := range SnapshotSeries(trades, dates) {
		total := decimal.Zero
		for _, h := range snap.Holdings {
			if !h.Quantity.IsPositive() {
				continue
			}
			total = total.Add(h.Quantity.Mul(resolver.Resolve(h, snap.Date)))
		}
		points = append(points, models.ValuationPoint{Date: snap.Date.Format("2006-01-02"), Value: total})
	}
	return points, nil
}

// MonthlyNetWorth combines the month-end portfolio replay with the cash
// ledger sum into per-month cash/stocks/crypto breakdowns. The split
// follows each position's recorded asset type; zero-quantity revaluation
// anchors contribute nothing but keep their price discoverable.
func (a *Aggregator) MonthlyNetWorth(ctx context.Context, userID string, months int) ([]models.MonthlyBreakdown, error) {
	if months <= 0 {
		months = defaultMonths
	}
	if months > maxMonthsBack {
		months = maxMonthsBack
	}
	today := models.DateOnly(time.Now().UTC())
	trades, err := a.trades.ListTrades(ctx, userID, nil, &today)
	if err != nil {
		return nil, err
	}
	held, err := a.holdings.GetHoldings(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	quotes := a.quotes.Quotes(ctx, priceIDs(held, trades))
	ends := MonthEnds(today, months)

	var snaps []DatedSnapshot
	var resolver *Resolver
	if len(trades) > 0 {
		snaps = SnapshotSeries(trades, ends)
		resolver = NewResolver(BuildPriceIndex(trades), quotes, today)
	}

	res := make([]models.MonthlyBreakdown, 0, len(ends))
	for i, end := range ends {
		cash, err := a.cash.CashBalanceAsOf(ctx, userID, end)
		if err != nil {
			a.log.Warnf("cash balance for %s failed: %v", end.Format("2006-01-02"), err)
			cash = decimal.Zero
		}
		stocks, crypto := decimal.Zero, decimal.Zero
		if resolver != nil {
			for _, h := range snaps[i].Holdings {
				if !h.Quantity.IsPositive() {
					continue
				}
				value := h.Quantity.Mul(resolver.Resolve(h, end))
				if h.AssetType == models.AssetCrypto {
					crypto = crypto.Add(value)
				} else {
					stocks = stocks.Add(value)
				}
			}
		} else {
			// No trade history to replay; the persisted projection is
			// the best month-end estimate available.
			for _, h := range held {
				price, _ := currentPrice(h, quotes)
				value := h.Quantity.Mul(price)
				if h.AssetType == models.AssetCrypto {
					crypto = crypto.Add(value)
				} else {
					stocks = stocks.Add(value)
				}
			}
		}
		res = append(res, models.MonthlyBreakdown{
			Year:   end.Year(),
			Month:  int(end.Month()),
			Cash:   cash,
			Stocks: stocks,
			Crypto: crypto,
			Total:  cash.Add(stocks).Add(crypto),
		})
	}
	return res, nil
}

// currentPrice picks the live quote when one exists, then the last
// observed price, then average cost, then zero. Never errors.
func currentPrice(h models.Holding, quotes map[string]models.Quote) (decimal.Decimal, decimal.Decimal) {
	if q, ok := quotes[h.ExternalPriceID]; ok && q.Price.IsPositive() {
		return q.Price, q.Change24h
	}
	if h.LastPrice.IsPositive() {
		return h.LastPrice, decimal.Zero
	}
	return h.AvgCost, decimal.Zero
}

// dailyPL approximates today's move from the 24h change percentage:
// previous = market / (1 + change/100), dailyPL = market - previous.
func dailyPL(marketValue, change24h decimal.Decimal) decimal.Decimal {
	denom := decimal.New(1, 0).Add(change24h.Div(decimal.NewFromInt(100)))
	if denom.IsZero() {
		return decimal.Zero
	}
	return marketValue.Sub(marketValue.Div(denom))
}

func priceIDsOfHoldings(held []models.Holding) []string {
	seen := map[string]bool{}
	ids := []string{}
	for _, h := range held {
		if h.ExternalPriceID != "" && !seen[h.ExternalPriceID] {
			seen[h.ExternalPriceID] = true
			ids = append(ids, h.ExternalPriceID)
		}
	}
	return ids
}

func priceIDs(held []models.Holding, trades []models.Trade) []string {
	seen := map[string]bool{}
	ids := []string{}
	for _, h := range held {
		if h.ExternalPriceID != "" && !seen[h.ExternalPriceID] {
			seen[h.ExternalPriceID] = true
			ids = append(ids, h.ExternalPriceID)
		}
	}
	for _, t := range trades {
		if t.ExternalPriceID != "" && !seen[t.ExternalPriceID] {
			seen[t.ExternalPriceID] = true
			ids = append(ids, t.ExternalPriceID)
		}
	}
	return ids
}
