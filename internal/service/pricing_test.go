package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	quotes  map[string]models.Quote
	err     error
	calls   int
	lastIDs []string
}

func (s *stubProvider) BatchQuote(ctx context.Context, ids []string) (map[string]models.Quote, error) {
	s.calls++
	s.lastIDs = ids
	if s.err != nil {
		return nil, s.err
	}
	res := map[string]models.Quote{}
	for _, id := range ids {
		if q, ok := s.quotes[id]; ok {
			res[id] = q
		}
	}
	return res, nil
}

func quote(price, change string) models.Quote {
	return models.Quote{Price: decimal.RequireFromString(price), Change24h: decimal.RequireFromString(change)}
}

func TestQuoteCache_TTL(t *testing.T) {
	c := NewQuoteCache(5 * time.Minute)
	now := time.Now().UTC()

	_, ok := c.Get("bitcoin", now)
	assert.False(t, ok)

	c.Put("bitcoin", quote("60000", "2.5"), now)

	got, ok := c.Get("bitcoin", now.Add(4*time.Minute))
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(60000)))

	_, ok = c.Get("bitcoin", now.Add(5*time.Minute))
	assert.False(t, ok, "entry at ttl age must be stale")
}

func TestQuoteService_BatchesMissesOnly(t *testing.T) {
	p := &stubProvider{quotes: map[string]models.Quote{
		"bitcoin":  quote("60000", "1"),
		"ethereum": quote("2500", "-2"),
	}}
	cache := NewQuoteCache(5 * time.Minute)
	cache.Put("bitcoin", quote("59000", "0.5"), time.Now().UTC())
	s := NewQuoteService(p, cache, logrus.New())

	res := s.Quotes(context.Background(), []string{"bitcoin", "ethereum", ""})

	require.Len(t, res, 2)
	assert.True(t, res["bitcoin"].Price.Equal(decimal.NewFromInt(59000)), "cached quote wins within ttl")
	assert.True(t, res["ethereum"].Price.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, []string{"ethereum"}, p.lastIDs, "only misses reach the provider")
}

func TestQuoteService_ProviderFailureDegrades(t *testing.T) {
	p := &stubProvider{err: errors.New("timeout")}
	cache := NewQuoteCache(5 * time.Minute)
	cache.Put("bitcoin", quote("60000", "1"), time.Now().UTC())
	s := NewQuoteService(p, cache, logrus.New())

	res := s.Quotes(context.Background(), []string{"bitcoin", "ethereum"})

	assert.Len(t, res, 1, "cached entries survive a provider outage")
	_, ok := res["ethereum"]
	assert.False(t, ok)
}

func resolverFixture(trades []models.Trade, quotes map[string]models.Quote, today time.Time) *Resolver {
	return NewResolver(BuildPriceIndex(trades), quotes, today)
}

func holdingWith(avg, last string) models.Holding {
	return models.Holding{
		PortfolioID:     1,
		Symbol:          "BTC",
		AssetType:       models.AssetCrypto,
		ExternalPriceID: "bitcoin",
		Quantity:        decimal.NewFromInt(1),
		AvgCost:         decimal.RequireFromString(avg),
		LastPrice:       decimal.RequireFromString(last),
	}
}

func TestResolve_ExactTradeDateWins(t *testing.T) {
	today := day(2025, 1, 20)
	trades := []models.Trade{
		trade(1, models.ActionBuy, "1", "100", day(2025, 1, 5)),
		trade(2, models.ActionBuy, "1", "110", day(2025, 1, 10)),
	}
	r := resolverFixture(trades, map[string]models.Quote{"bitcoin": quote("200", "5")}, today)

	got := r.Resolve(holdingWith("105", "110"), day(2025, 1, 10))
	assert.True(t, got.Equal(decimal.NewFromInt(110)), "trade price on the date is ground truth, got %s", got)
}

func TestResolve_LastKnownWithoutQuote(t *testing.T) {
	today := day(2025, 1, 20)
	trades := []models.Trade{trade(1, models.ActionBuy, "1", "100", day(2025, 1, 5))}
	r := resolverFixture(trades, nil, today)

	got := r.Resolve(holdingWith("100", "100"), day(2025, 1, 12))
	assert.True(t, got.Equal(decimal.NewFromInt(100)))
}

func TestResolve_BlendsTowardLiveNearToday(t *testing.T) {
	today := day(2025, 1, 20)
	trades := []models.Trade{trade(1, models.ActionBuy, "1", "100", day(2025, 1, 5))}
	r := resolverFixture(trades, map[string]models.Quote{"bitcoin": quote("200", "0")}, today)

	h := holdingWith("100", "100")
	// live weight 1/(daysAgo+1): 1 day ago -> 150, 9 days ago -> 110
	oneDayAgo := r.Resolve(h, day(2025, 1, 19))
	assert.True(t, oneDayAgo.Equal(decimal.NewFromInt(150)), "got %s", oneDayAgo)

	nineDaysAgo := r.Resolve(h, day(2025, 1, 11))
	assert.True(t, nineDaysAgo.Equal(decimal.NewFromInt(110)), "got %s", nineDaysAgo)

	assert.True(t, nineDaysAgo.LessThan(oneDayAgo), "blend must move toward live price near today")
}

func TestResolve_DecayEstimateWithoutTrades(t *testing.T) {
	// No trade history, live quote 100 at +10% per day: 1 day ago
	// resolves to 100 / 1.10 = 90.909...
	today := day(2025, 1, 20)
	r := resolverFixture(nil, map[string]models.Quote{"bitcoin": quote("100", "10")}, today)

	got := r.Resolve(holdingWith("0", "0"), day(2025, 1, 19))
	want := decimal.RequireFromString("90.9091")
	assert.True(t, got.Sub(want).Abs().LessThan(decimal.RequireFromString("0.001")), "got %s", got)

	twoDays := r.Resolve(holdingWith("0", "0"), day(2025, 1, 18))
	want = decimal.RequireFromString("82.6446")
	assert.True(t, twoDays.Sub(want).Abs().LessThan(decimal.RequireFromString("0.001")), "got %s", twoDays)
}

func TestResolve_TodayPrefersLiveQuote(t *testing.T) {
	today := day(2025, 1, 20)
	trades := []models.Trade{trade(1, models.ActionBuy, "1", "100", today)}
	r := resolverFixture(trades, map[string]models.Quote{"bitcoin": quote("123", "1")}, today)

	got := r.Resolve(holdingWith("100", "100"), today)
	assert.True(t, got.Equal(decimal.NewFromInt(123)), "today skips interpolation, got %s", got)
}

func TestResolve_FallsBackToAvgCostThenZero(t *testing.T) {
	today := day(2025, 1, 20)
	r := resolverFixture(nil, nil, today)

	h := models.Holding{PortfolioID: 1, Symbol: "X", AssetType: models.AssetStock,
		AvgCost: decimal.NewFromInt(55)}
	got := r.Resolve(h, day(2025, 1, 10))
	assert.True(t, got.Equal(decimal.NewFromInt(55)), "stored average cost is the final estimate")

	empty := models.Holding{PortfolioID: 1, Symbol: "Y", AssetType: models.AssetStock}
	got = r.Resolve(empty, day(2025, 1, 10))
	assert.True(t, got.IsZero(), "valuation always yields a number, never an error")
}

func TestDecayPrice_GuardsFullCrash(t *testing.T) {
	// change24h of -100% would zero the base; answer the live price
	// instead of dividing by zero.
	got := decayPrice(decimal.NewFromInt(100), decimal.NewFromInt(-100), 3)
	assert.True(t, got.Equal(decimal.NewFromInt(100)))
}
