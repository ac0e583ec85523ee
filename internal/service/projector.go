package service

import (
	"folio/internal/models"

	"github.com/shopspring/decimal"
)

// Project folds an ordered trade sequence into the holdings state it
// implies. Input must already be in ledger order (trade_date, id); the
// fold itself never errors. Oversells are clamped to zero here — the
// write path is where InsufficientHoldings is enforced — so a chart can
// always be rendered even from a ledger that predates that check.
func Project(trades []models.Trade) map[models.AssetKey]models.Holding {
	state := map[models.AssetKey]*models.Holding{}
	for i := range trades {
		applyTrade(state, &trades[i])
	}
	out := make(map[models.AssetKey]models.Holding, len(state))
	for k, h := range state {
		out[k] = *h
	}
	return out
}

func applyTrade(state map[models.AssetKey]*models.Holding, t *models.Trade) {
	key := t.Key()
	h, ok := state[key]
	if !ok {
		h = &models.Holding{
			PortfolioID:     t.PortfolioID,
			Symbol:          t.Symbol,
			AssetType:       t.AssetType,
			DisplayName:     t.DisplayName,
			ExternalPriceID: t.ExternalPriceID,
		}
		state[key] = h
	}
	if h.ExternalPriceID == "" {
		h.ExternalPriceID = t.ExternalPriceID
	}
	if h.DisplayName == "" {
		h.DisplayName = t.DisplayName
	}

	switch t.Action {
	case models.ActionBuy:
		newQty := h.Quantity.Add(t.Quantity)
		if newQty.IsPositive() {
			cost := h.Quantity.Mul(h.AvgCost).Add(t.Quantity.Mul(t.UnitPrice)).Add(t.Fee)
			h.AvgCost = cost.Div(newQty)
		} else {
			h.AvgCost = t.UnitPrice
		}
		h.Quantity = newQty
		h.LastPrice = t.UnitPrice

	case models.ActionSell:
		newQty := h.Quantity.Sub(t.Quantity)
		if newQty.IsNegative() {
			newQty = decimal.Zero
		}
		h.Quantity = newQty
		h.LastPrice = t.UnitPrice
		// Average cost is untouched by sells. A full exit closes the
		// position entirely.
		if newQty.IsZero() {
			delete(state, key)
		}

	case models.ActionRevaluation:
		// Mark-to-market without a transaction: re-anchors cost basis
		// and last seen price, quantity stays as is. A revaluation with
		// no prior position leaves a zero-quantity price anchor.
		h.AvgCost = t.UnitPrice
		h.LastPrice = t.UnitPrice
	}
}
