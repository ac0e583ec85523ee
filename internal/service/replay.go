package service

import (
	"time"

	"folio/internal/models"
)

// DatedSnapshot is the holdings state as of the end of Date.
type DatedSnapshot struct {
	Date     time.Time
	Holdings map[models.AssetKey]models.Holding
}

// SnapshotAt replays the ledger prefix with trade_date <= cutoff.
func SnapshotAt(trades []models.Trade, cutoff time.Time) map[models.AssetKey]models.Holding {
	cutoff = models.DateOnly(cutoff)
	prefix := trades
	for i := range trades {
		if models.DateOnly(trades[i].TradeDate).After(cutoff) {
			prefix = trades[:i]
			break
		}
	}
	return Project(prefix)
}

// SnapshotSeries emits one snapshot per requested date in a single
// forward pass over the ledger: the accumulator advances trade by trade
// and a defensive copy is taken at each date boundary. Equivalent to
// calling SnapshotAt per date, but O(trades + dates) instead of
// O(dates * trades). Dates must be ascending; trades must be in ledger
// order.
func SnapshotSeries(trades []models.Trade, dates []time.Time) []DatedSnapshot {
	state := map[models.AssetKey]*models.Holding{}
	out := make([]DatedSnapshot, 0, len(dates))
	i := 0
	for _, d := range dates {
		day := models.DateOnly(d)
		for i < len(trades) && !models.DateOnly(trades[i].TradeDate).After(day) {
			applyTrade(state, &trades[i])
			i++
		}
		out = append(out, DatedSnapshot{Date: day, Holdings: copyState(state)})
	}
	return out
}

func copyState(state map[models.AssetKey]*models.Holding) map[models.AssetKey]models.Holding {
	out := make(map[models.AssetKey]models.Holding, len(state))
	for k, h := range state {
		out[k] = *h
	}
	return out
}

// DailyDates returns the days+1 calendar dates ending at end, ascending.
func DailyDates(end time.Time, days int) []time.Time {
	end = models.DateOnly(end)
	out := make([]time.Time, 0, days+1)
	for i := days; i >= 0; i-- {
		out = append(out, end.AddDate(0, 0, -i))
	}
	return out
}

// MonthEnds returns the last day of each of the `months` calendar months
// ending with the month containing end, ascending. The final entry is
// capped at end itself so the current month values "as of today".
func MonthEnds(end time.Time, months int) []time.Time {
	end = models.DateOnly(end)
	out := make([]time.Time, 0, months)
	for i := months - 1; i >= 0; i-- {
		first := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
		last := first.AddDate(0, 1, -1)
		if last.After(end) {
			last = end
		}
		out = append(out, last)
	}
	return out
}
