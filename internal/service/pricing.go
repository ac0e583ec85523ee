package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MarketDataProvider returns live quotes for a batch of external price
// identifiers. Missing ids in the result mean the provider had nothing
// for them, not an error.
type MarketDataProvider interface {
	BatchQuote(ctx context.Context, ids []string) (map[string]models.Quote, error)
}

type quoteEntry struct {
	quote   models.Quote
	fetched time.Time
}

// QuoteCache holds short-lived quote snapshots. It is the one shared
// mutable resource in the process; entries are written whole under the
// lock, concurrent refreshes of the same id are last-writer-wins.
type QuoteCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]quoteEntry
}

func NewQuoteCache(ttl time.Duration) *QuoteCache {
	return &QuoteCache{ttl: ttl, entries: map[string]quoteEntry{}}
}

func (c *QuoteCache) Get(id string, now time.Time) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || now.Sub(e.fetched) >= c.ttl {
		return models.Quote{}, false
	}
	return e.quote, true
}

func (c *QuoteCache) Put(id string, q models.Quote, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = quoteEntry{quote: q, fetched: now}
}

// QuoteService fronts the provider with the cache. One aggregation
// request makes at most one provider call, batching every cache miss.
type QuoteService struct {
	provider MarketDataProvider
	cache    *QuoteCache
	log      *logrus.Logger
}

func NewQuoteService(p MarketDataProvider, cache *QuoteCache, log *logrus.Logger) *QuoteService {
	return &QuoteService{provider: p, cache: cache, log: log}
}

// Quotes returns what it can: cached entries plus whatever the provider
// answers for the misses. Provider failures degrade to a smaller map,
// never an error; the resolver's lower tiers take over for missing ids.
func (s *QuoteService) Quotes(ctx context.Context, ids []string) map[string]models.Quote {
	now := time.Now().UTC()
	res := map[string]models.Quote{}
	missing := []string{}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if q, ok := s.cache.Get(id, now); ok {
			res[id] = q
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return res
	}
	fetched, err := s.provider.BatchQuote(ctx, missing)
	if err != nil {
		s.log.Warnf("quote provider failed for %d ids: %v", len(missing), err)
		return res
	}
	for id, q := range fetched {
		res[id] = q
		s.cache.Put(id, q, now)
	}
	return res
}

// Refresh force-fetches ids into the cache, for the scheduled warmer.
func (s *QuoteService) Refresh(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	fetched, err := s.provider.BatchQuote(ctx, ids)
	if err != nil {
		s.log.Warnf("quote refresh failed: %v", err)
		return
	}
	now := time.Now().UTC()
	for id, q := range fetched {
		s.cache.Put(id, q, now)
	}
}

// CoinGeckoClient implements MarketDataProvider against the coins/markets
// endpoint. Any transport or decode failure surfaces as an error and is
// swallowed by QuoteService.
type CoinGeckoClient struct {
	baseURL string
	http    *http.Client
}

func NewCoinGeckoClient(baseURL string, timeout time.Duration) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGeckoClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *CoinGeckoClient) BatchQuote(ctx context.Context, ids []string) (map[string]models.Quote, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(ids, ","))
	q.Set("price_change_percentage", "24h")
	q.Set("per_page", "250")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/coins/markets?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}

	var coins []struct {
		ID        string          `json:"id"`
		Price     decimal.Decimal `json:"current_price"`
		Change24h decimal.Decimal `json:"price_change_percentage_24h"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&coins); err != nil {
		return nil, err
	}
	res := make(map[string]models.Quote, len(coins))
	for _, coin := range coins {
		res[coin.ID] = models.Quote{Price: coin.Price, Change24h: coin.Change24h}
	}
	return res, nil
}

type pricePoint struct {
	date  time.Time
	price decimal.Decimal
}

// PriceIndex holds, per asset, its trade prices in ledger order. It
// answers "exact price on date" and "last known price on or before date"
// lookups for the resolver.
type PriceIndex struct {
	points map[models.AssetKey][]pricePoint
}

func BuildPriceIndex(trades []models.Trade) *PriceIndex {
	ix := &PriceIndex{points: map[models.AssetKey][]pricePoint{}}
	for _, t := range trades {
		k := t.Key()
		ix.points[k] = append(ix.points[k], pricePoint{date: models.DateOnly(t.TradeDate), price: t.UnitPrice})
	}
	return ix
}

func (ix *PriceIndex) PriceOn(key models.AssetKey, date time.Time) (decimal.Decimal, bool) {
	date = models.DateOnly(date)
	pts := ix.points[key]
	// Last trade of the day wins; walk backwards.
	for i := len(pts) - 1; i >= 0; i-- {
		if pts[i].date.Equal(date) {
			return pts[i].price, true
		}
	}
	return decimal.Zero, false
}

func (ix *PriceIndex) LastKnown(key models.AssetKey, date time.Time) (decimal.Decimal, bool) {
	date = models.DateOnly(date)
	pts := ix.points[key]
	for i := len(pts) - 1; i >= 0; i-- {
		if !pts[i].date.After(date) {
			return pts[i].price, true
		}
	}
	return decimal.Zero, false
}

// Resolver prices one asset on one date from whatever evidence exists,
// degrading tier by tier and always producing a number. Tier order:
// a trade on the exact date, the last trade price before it (blended
// toward the live quote near today), a decay estimate from the live
// quote alone, the holding's own last observed price, its average cost,
// and finally zero.
type Resolver struct {
	index  *PriceIndex
	quotes map[string]models.Quote
	today  time.Time
}

func NewResolver(index *PriceIndex, quotes map[string]models.Quote, today time.Time) *Resolver {
	return &Resolver{index: index, quotes: quotes, today: models.DateOnly(today)}
}

func (r *Resolver) Resolve(h models.Holding, asOf time.Time) decimal.Decimal {
	asOf = models.DateOnly(asOf)
	key := h.Key()
	quote, hasQuote := r.quotes[h.ExternalPriceID]
	daysAgo := int(r.today.Sub(asOf).Hours() / 24)

	// Today is never interpolated: the live quote is the answer.
	if daysAgo <= 0 && hasQuote {
		return quote.Price
	}

	if p, ok := r.index.PriceOn(key, asOf); ok {
		return p
	}

	if last, ok := r.index.LastKnown(key, asOf); ok {
		if hasQuote && quote.Price.IsPositive() && daysAgo > 0 {
			return blendPrice(last, quote.Price, daysAgo)
		}
		return last
	}

	if hasQuote && quote.Price.IsPositive() {
		return decayPrice(quote.Price, quote.Change24h, daysAgo)
	}

	if h.LastPrice.IsPositive() {
		return h.LastPrice
	}
	if h.AvgCost.IsPositive() {
		return h.AvgCost
	}
	return decimal.Zero
}

// blendPrice interpolates linearly between the last known trade price
// and the live price with live weight w = 1/(daysAgo+1): monotonic in
// daysAgo, approaching the live price as the date approaches today and
// the trade price deep in the past. An estimate, not ground truth.
func blendPrice(last, live decimal.Decimal, daysAgo int) decimal.Decimal {
	w := decimal.New(1, 0).Div(decimal.NewFromInt(int64(daysAgo) + 1))
	return last.Add(live.Sub(last).Mul(w))
}

// decayPrice inverts the compound daily-change formula:
// estimate = live / (1 + change24h/100)^daysAgo.
func decayPrice(live, change24h decimal.Decimal, daysAgo int) decimal.Decimal {
	if daysAgo <= 0 || change24h.IsZero() {
		return live
	}
	base := decimal.New(1, 0).Add(change24h.Div(decimal.NewFromInt(100)))
	if !base.IsPositive() {
		return live
	}
	return live.Div(base.Pow(decimal.NewFromInt(int64(daysAgo))))
}
