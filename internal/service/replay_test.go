package service

import (
	"testing"
	"time"

	"folio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerFixture() []models.Trade {
	return []models.Trade{
		trade(1, models.ActionBuy, "10", "100", day(2025, 1, 1)),
		trade(2, models.ActionBuy, "5", "120", day(2025, 1, 3)),
		trade(3, models.ActionSell, "8", "130", day(2025, 1, 5)),
		trade(4, models.ActionRevaluation, "1", "150", day(2025, 1, 8)),
		trade(5, models.ActionBuy, "2", "140", day(2025, 1, 8)),
		trade(6, models.ActionSell, "9", "160", day(2025, 1, 12)),
	}
}

func TestSnapshotAt_UsesDatePrefix(t *testing.T) {
	trades := ledgerFixture()

	snap := SnapshotAt(trades, day(2025, 1, 4))
	h, ok := snap[key()]
	require.True(t, ok)
	assert.True(t, h.Quantity.Equal(decimal.NewFromInt(15)))

	snap = SnapshotAt(trades, day(2025, 1, 12))
	_, ok = snap[key()]
	assert.False(t, ok, "everything sold by Jan 12")

	snap = SnapshotAt(trades, day(2024, 12, 31))
	assert.Empty(t, snap)
}

// Replay must be foldable: the snapshot for day D equals the snapshot
// for D-1 advanced through the trades dated exactly D.
func TestSnapshotAt_FoldEquivalence(t *testing.T) {
	trades := ledgerFixture()

	for d := day(2025, 1, 1); !d.After(day(2025, 1, 15)); d = d.AddDate(0, 0, 1) {
		direct := SnapshotAt(trades, d)

		prev := SnapshotAt(trades, d.AddDate(0, 0, -1))
		state := map[models.AssetKey]*models.Holding{}
		for k, h := range prev {
			cp := h
			state[k] = &cp
		}
		for i := range trades {
			if models.DateOnly(trades[i].TradeDate).Equal(d) {
				applyTrade(state, &trades[i])
			}
		}
		folded := copyState(state)

		require.Equal(t, len(direct), len(folded), "date %s", d.Format("2006-01-02"))
		for k, want := range direct {
			got, ok := folded[k]
			require.True(t, ok)
			assert.True(t, got.Quantity.Equal(want.Quantity), "date %s qty", d.Format("2006-01-02"))
			assert.True(t, got.AvgCost.Equal(want.AvgCost), "date %s avg", d.Format("2006-01-02"))
			assert.True(t, got.LastPrice.Equal(want.LastPrice), "date %s last", d.Format("2006-01-02"))
		}
	}
}

// The single forward pass must agree with an independent replay per date.
func TestSnapshotSeries_MatchesPerDateReplay(t *testing.T) {
	trades := ledgerFixture()
	dates := DailyDates(day(2025, 1, 14), 16)

	series := SnapshotSeries(trades, dates)
	require.Len(t, series, len(dates))

	for i, snap := range series {
		assert.Equal(t, models.DateOnly(dates[i]), snap.Date)
		direct := SnapshotAt(trades, dates[i])
		require.Equal(t, len(direct), len(snap.Holdings), "date %s", snap.Date.Format("2006-01-02"))
		for k, want := range direct {
			got := snap.Holdings[k]
			assert.True(t, got.Quantity.Equal(want.Quantity))
			assert.True(t, got.AvgCost.Equal(want.AvgCost))
		}
	}
}

func TestSnapshotSeries_CopiesAreIndependent(t *testing.T) {
	trades := []models.Trade{
		trade(1, models.ActionBuy, "10", "100", day(2025, 1, 1)),
		trade(2, models.ActionBuy, "10", "200", day(2025, 1, 2)),
	}
	series := SnapshotSeries(trades, []time.Time{day(2025, 1, 1), day(2025, 1, 2)})

	first := series[0].Holdings[key()]
	assert.True(t, first.Quantity.Equal(decimal.NewFromInt(10)),
		"earlier snapshot must not see later trades")
	second := series[1].Holdings[key()]
	assert.True(t, second.Quantity.Equal(decimal.NewFromInt(20)))
}

func TestDailyDates(t *testing.T) {
	dates := DailyDates(day(2025, 3, 10), 7)
	require.Len(t, dates, 8)
	assert.Equal(t, day(2025, 3, 3), dates[0])
	assert.Equal(t, day(2025, 3, 10), dates[7])
}

func TestMonthEnds(t *testing.T) {
	ends := MonthEnds(day(2025, 3, 10), 3)
	require.Len(t, ends, 3)
	assert.Equal(t, day(2025, 1, 31), ends[0])
	assert.Equal(t, day(2025, 2, 28), ends[1])
	// Current month is capped at "today".
	assert.Equal(t, day(2025, 3, 10), ends[2])
}
