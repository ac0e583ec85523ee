package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"folio/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrPortfolioNotFound    = errors.New("portfolio not found")
	ErrInsufficientHoldings = errors.New("insufficient holdings to sell")
	ErrWalletNotFound       = errors.New("wallet not found")
)

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

// InsertTrade appends a trade to the ledger and keeps the persisted
// holdings projection in sync, all in one transaction. When in.WalletID
// is set the matching cash transaction is written in the same
// transaction; a partial write never survives. Returns the trade id and
// whether a new trade was created (false on idempotency-key replay).
func (r *Repo) InsertTrade(ctx context.Context, in TradeInput) (int64, bool, error) {
	if in.IdempotencyKey != "" {
		var existing sql.NullInt64
		err := r.db.GetContext(ctx, &existing, `SELECT id FROM trades WHERE idempotency_key = $1 LIMIT 1`, in.IdempotencyKey)
		if err == nil && existing.Valid {
			return existing.Int64, false, nil
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	var owner Portfolio
	err = tx.QueryRowxContext(ctx, `SELECT id, user_id, name, currency FROM portfolios WHERE id = $1 AND user_id = $2`, in.PortfolioID, in.UserID).StructScan(&owner)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrPortfolioNotFound
		}
		return 0, false, err
	}

	// Lock the current holding row; the sell check below must see the
	// latest committed quantity.
	var held models.Holding
	haveHolding := true
	err = tx.QueryRowxContext(ctx, `
		SELECT portfolio_id, symbol, asset_type, display_name, quantity, avg_cost, last_price, COALESCE(external_price_id, '') AS external_price_id
		FROM holdings
		WHERE portfolio_id = $1 AND symbol = $2 AND asset_type = $3
		FOR UPDATE`, in.PortfolioID, in.Symbol, in.AssetType).StructScan(&held)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			tx.Rollback()
			return 0, false, err
		}
		haveHolding = false
	}

	if in.Action == models.ActionSell {
		if !haveHolding || in.Quantity.GreaterThan(held.Quantity) {
			tx.Rollback()
			return 0, false, ErrInsufficientHoldings
		}
	}

	var tradeID int64
	insertQ := `
		INSERT INTO trades (user_id, portfolio_id, asset_type, symbol, display_name, external_price_id, action, quantity, unit_price, fee, trade_date, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8::numeric, $9::numeric, $10::numeric, $11, NULLIF($12, ''))
		RETURNING id`
	err = tx.QueryRowContext(ctx, insertQ,
		in.UserID, in.PortfolioID, in.AssetType, in.Symbol, in.DisplayName, in.ExternalPriceID,
		in.Action, in.Quantity.String(), in.UnitPrice.String(), in.Fee.String(),
		in.TradeDate.Format("2006-01-02"), in.IdempotencyKey).Scan(&tradeID)
	if err != nil {
		tx.Rollback()
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			var existing int64
			if err := r.db.GetContext(ctx, &existing, `SELECT id FROM trades WHERE idempotency_key = $1 LIMIT 1`, in.IdempotencyKey); err == nil {
				return existing, false, nil
			}
		}
		return 0, false, err
	}

	if err := applyToHolding(ctx, tx, in, held, haveHolding); err != nil {
		tx.Rollback()
		return 0, false, err
	}

	if in.WalletID != nil {
		if err := r.insertCashTransaction(ctx, tx, in, owner.Name); err != nil {
			tx.Rollback()
			return 0, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return tradeID, true, nil
}

// applyToHolding mirrors the projector's rules onto the persisted
// holdings cache: buy folds fee into average cost, sell keeps average
// cost and deletes the row at zero, revaluation re-anchors both prices
// without touching quantity.
func applyToHolding(ctx context.Context, tx *sqlx.Tx, in TradeInput, held models.Holding, exists bool) error {
	upsert := `
		INSERT INTO holdings (portfolio_id, symbol, asset_type, display_name, quantity, avg_cost, last_price, external_price_id, last_updated)
		VALUES ($1, $2, $3, $8, $4::numeric, $5::numeric, $6::numeric, NULLIF($7, ''), now())
		ON CONFLICT (portfolio_id, symbol, asset_type)
		DO UPDATE SET quantity = $4::numeric, avg_cost = $5::numeric, last_price = $6::numeric,
		              external_price_id = COALESCE(NULLIF($7, ''), holdings.external_price_id),
		              display_name = CASE WHEN $8 <> '' THEN $8 ELSE holdings.display_name END,
		              last_updated = now()`

	switch in.Action {
	case models.ActionBuy:
		oldQty, oldAvg := decimal.Zero, decimal.Zero
		if exists {
			oldQty, oldAvg = held.Quantity, held.AvgCost
		}
		newQty := oldQty.Add(in.Quantity)
		newAvg := in.UnitPrice
		if newQty.IsPositive() {
			cost := oldQty.Mul(oldAvg).Add(in.Quantity.Mul(in.UnitPrice)).Add(in.Fee)
			newAvg = cost.Div(newQty)
		}
		_, err := tx.ExecContext(ctx, upsert, in.PortfolioID, in.Symbol, in.AssetType,
			newQty.String(), newAvg.String(), in.UnitPrice.String(), in.ExternalPriceID, in.DisplayName)
		return err

	case models.ActionSell:
		newQty := held.Quantity.Sub(in.Quantity)
		if newQty.IsZero() {
			_, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE portfolio_id = $1 AND symbol = $2 AND asset_type = $3`,
				in.PortfolioID, in.Symbol, in.AssetType)
			return err
		}
		_, err := tx.ExecContext(ctx, upsert, in.PortfolioID, in.Symbol, in.AssetType,
			newQty.String(), held.AvgCost.String(), in.UnitPrice.String(), in.ExternalPriceID, in.DisplayName)
		return err

	case models.ActionRevaluation:
		qty := decimal.Zero
		if exists {
			qty = held.Quantity
		}
		_, err := tx.ExecContext(ctx, upsert, in.PortfolioID, in.Symbol, in.AssetType,
			qty.String(), in.UnitPrice.String(), in.UnitPrice.String(), in.ExternalPriceID, in.DisplayName)
		return err
	}
	return nil
}

func (r *Repo) insertCashTransaction(ctx context.Context, tx *sqlx.Tx, in TradeInput, portfolioName string) error {
	var walletID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM wallets WHERE id = $1 AND user_id = $2`, *in.WalletID, in.UserID).Scan(&walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrWalletNotFound
		}
		return err
	}

	catType, catName, verb := "income", "Sale of assets", "Sell"
	if in.Action == models.ActionBuy {
		catType, catName, verb = "expense", "Investments", "Buy"
	}
	var categoryID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM categories WHERE type = $1 AND name = $2 LIMIT 1`, catType, catName).Scan(&categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `SELECT id FROM categories WHERE type = $1 ORDER BY id LIMIT 1`, catType).Scan(&categoryID)
	}
	if err != nil {
		return err
	}

	amount := in.Quantity.Mul(in.UnitPrice).Add(in.Fee)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (user_id, description, amount, transaction_date, category_id, wallet_id)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)`,
		in.UserID, verb+" "+in.Symbol+" in portfolio "+portfolioName,
		amount.String(), in.TradeDate.Format("2006-01-02"), categoryID, *in.WalletID)
	return err
}

// ListTrades returns the user's ledger ordered by (trade_date, id).
// Passing upTo returns the prefix of that order with trade_date <= upTo,
// which is what makes historical replay correct.
func (r *Repo) ListTrades(ctx context.Context, userID string, portfolioID *int64, upTo *time.Time) ([]models.Trade, error) {
	q := `
		SELECT id, user_id, portfolio_id, asset_type, symbol, display_name,
		       COALESCE(external_price_id, '') AS external_price_id,
		       action, quantity, unit_price, fee, trade_date
		FROM trades
		WHERE user_id = $1`
	args := []interface{}{userID}
	if portfolioID != nil {
		args = append(args, *portfolioID)
		q += ` AND portfolio_id = $2`
	}
	if upTo != nil {
		args = append(args, upTo.Format("2006-01-02"))
		if portfolioID != nil {
			q += ` AND trade_date <= $3`
		} else {
			q += ` AND trade_date <= $2`
		}
	}
	q += ` ORDER BY trade_date ASC, id ASC`

	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.Trade{}
	for rows.Next() {
		var t models.Trade
		if err := rows.StructScan(&t); err != nil {
			r.log.Warnf("scan trade failed: %v", err)
			continue
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// GetHoldings returns the persisted current projection for the user,
// optionally narrowed to one portfolio.
func (r *Repo) GetHoldings(ctx context.Context, userID string, portfolioID *int64) ([]models.Holding, error) {
	q := `
		SELECT h.portfolio_id, h.symbol, h.asset_type, h.display_name, h.quantity, h.avg_cost, h.last_price,
		       COALESCE(h.external_price_id, '') AS external_price_id
		FROM holdings h
		JOIN portfolios p ON p.id = h.portfolio_id
		WHERE p.user_id = $1`
	args := []interface{}{userID}
	if portfolioID != nil {
		args = append(args, *portfolioID)
		q += ` AND h.portfolio_id = $2`
	}

	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.StructScan(&h); err != nil {
			r.log.Warnf("scan holding failed: %v", err)
			continue
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// CashBalanceAsOf sums the cash ledger (income minus expense across all
// wallet transactions) up to and including the given date. Trade-driven
// cash movements are already recorded here as ordinary transactions.
func (r *Repo) CashBalanceAsOf(ctx context.Context, userID string, date time.Time) (decimal.Decimal, error) {
	var income, expense string
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN c.type = 'income' THEN t.amount ELSE 0 END), 0)::text,
		       COALESCE(SUM(CASE WHEN c.type = 'expense' THEN t.amount ELSE 0 END), 0)::text
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.user_id = $1 AND t.wallet_id IS NOT NULL AND t.transaction_date <= $2`,
		userID, date.Format("2006-01-02")).Scan(&income, &expense)
	if err != nil {
		return decimal.Zero, err
	}
	in, err := decimal.NewFromString(income)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := decimal.NewFromString(expense)
	if err != nil {
		return decimal.Zero, err
	}
	return in.Sub(out), nil
}

func (r *Repo) CashBalanceNow(ctx context.Context, userID string) (decimal.Decimal, error) {
	return r.CashBalanceAsOf(ctx, userID, time.Now().UTC())
}

// ListExternalPriceIDs returns the distinct external price identifiers
// present in any holding, for the scheduled quote refresh.
func (r *Repo) ListExternalPriceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT DISTINCT external_price_id FROM holdings WHERE external_price_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			r.log.Warnf("scan price id failed: %v", err)
			continue
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r *Repo) GetPortfolio(ctx context.Context, userID string, portfolioID int64) (Portfolio, error) {
	var p Portfolio
	err := r.db.QueryRowxContext(ctx, `SELECT id, user_id, name, currency FROM portfolios WHERE id = $1 AND user_id = $2`, portfolioID, userID).StructScan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return Portfolio{}, ErrPortfolioNotFound
	}
	return p, err
}

func (r *Repo) CreatePortfolio(ctx context.Context, userID, name, currency string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO portfolios (user_id, name, currency) VALUES ($1, $2, $3) RETURNING id`, userID, name, currency).Scan(&id)
	return id, err
}

func (r *Repo) EnsureUserExists(ctx context.Context, userID, name string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, userID, name)
	return err
}

func (r *Repo) EnsureCategoryExists(ctx context.Context, name, catType string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO categories (name, type) VALUES ($1, $2) ON CONFLICT (name, type) DO NOTHING`, name, catType)
	return err
}
