package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"folio/internal/database"
	"folio/internal/models"
	"folio/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	repo *database.Repo
	agg  *service.Aggregator
	log  *logrus.Logger
}

func NewHandler(r *database.Repo, agg *service.Aggregator, log *logrus.Logger) *Handler {
	return &Handler{repo: r, agg: agg, log: log}
}

// userID pulls the caller identity set upstream by the auth layer.
// Reads treat a missing identity as "no data", writes reject it.
func userID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

type TradeRequest struct {
	PortfolioID     int64  `json:"portfolio_id" binding:"required"`
	AssetType       string `json:"asset_type" binding:"required"`
	Symbol          string `json:"symbol" binding:"required"`
	Name            string `json:"name"`
	ExternalPriceID string `json:"external_price_id"`
	Action          string `json:"action" binding:"required"`
	Quantity        string `json:"quantity" binding:"required"`
	UnitPrice       string `json:"unit_price" binding:"required"`
	Fee             string `json:"fee"`
	TradeDate       string `json:"trade_date" binding:"required"`
	IdempotencyKey  string `json:"idempotency_key"`
	WalletID        *int64 `json:"wallet_id"`
}

func (h *Handler) PostTrade(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid trade body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assetType := models.AssetType(req.AssetType)
	if assetType != models.AssetCrypto && assetType != models.AssetStock {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset_type must be crypto or stock"})
		return
	}
	action := models.TradeAction(req.Action)
	if action != models.ActionBuy && action != models.ActionSell && action != models.ActionRevaluation {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be buy, sell or revaluation"})
		return
	}

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || !qty.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive number"})
		return
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil || !price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unit_price must be a positive number"})
		return
	}
	fee := decimal.Zero
	if req.Fee != "" {
		fee, err = decimal.NewFromString(req.Fee)
		if err != nil || fee.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fee must be a non-negative number"})
			return
		}
	}
	tradeDate, err := time.Parse("2006-01-02", req.TradeDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trade_date must be YYYY-MM-DD"})
		return
	}

	ctx := c.Request.Context()
	if err := h.repo.EnsureUserExists(ctx, uid, ""); err != nil {
		h.log.Warnf("ensure user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	id, created, err := h.repo.InsertTrade(ctx, database.TradeInput{
		UserID:          uid,
		PortfolioID:     req.PortfolioID,
		AssetType:       assetType,
		Symbol:          req.Symbol,
		DisplayName:     req.Name,
		ExternalPriceID: req.ExternalPriceID,
		Action:          action,
		Quantity:        qty,
		UnitPrice:       price,
		Fee:             fee,
		TradeDate:       tradeDate,
		IdempotencyKey:  req.IdempotencyKey,
		WalletID:        req.WalletID,
	})
	switch {
	case errors.Is(err, database.ErrPortfolioNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "portfolio not found"})
		return
	case errors.Is(err, database.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	case errors.Is(err, database.ErrInsufficientHoldings):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient holdings to sell"})
		return
	case err != nil:
		h.log.Errorf("insert trade failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"trade_id": id, "status": "already_exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade_id": id})
}

func (h *Handler) GetHoldings(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusOK, gin.H{"holdings": []service.HoldingRow{}})
		return
	}
	portfolioID, ok := optionalPortfolioID(c)
	if !ok {
		return
	}
	rows, err := h.agg.HoldingRows(c.Request.Context(), uid, portfolioID)
	if err != nil {
		h.log.Errorf("get holdings failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": rows})
}

func (h *Handler) GetStats(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusOK, statsResponse(service.Stats{}))
		return
	}
	portfolioID, ok := optionalPortfolioID(c)
	if !ok {
		return
	}
	stats, err := h.agg.CurrentStats(c.Request.Context(), uid, portfolioID)
	if err != nil {
		h.log.Errorf("get stats failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, statsResponse(stats))
}

func (h *Handler) GetHistory(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusOK, gin.H{"points": []models.ValuationPoint{}})
		return
	}
	portfolioID, ok := optionalPortfolioID(c)
	if !ok {
		return
	}
	days := 0
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer"})
			return
		}
		days = n
	}
	points, err := h.agg.History(c.Request.Context(), uid, portfolioID, days)
	if err != nil {
		h.log.Errorf("get history failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	res := make([]map[string]string, 0, len(points))
	for _, p := range points {
		res = append(res, map[string]string{"date": p.Date, "value": p.Value.StringFixed(4)})
	}
	c.JSON(http.StatusOK, gin.H{"points": res})
}

func (h *Handler) GetMonthlyNetWorth(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusOK, gin.H{"months": []models.MonthlyBreakdown{}})
		return
	}
	months := 0
	if v := c.Query("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "months must be an integer"})
			return
		}
		months = n
	}
	rows, err := h.agg.MonthlyNetWorth(c.Request.Context(), uid, months)
	if err != nil {
		h.log.Errorf("get monthly net worth failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	res := make([]map[string]interface{}, 0, len(rows))
	for _, m := range rows {
		res = append(res, map[string]interface{}{
			"year":   m.Year,
			"month":  m.Month,
			"cash":   m.Cash.StringFixed(4),
			"stocks": m.Stocks.StringFixed(4),
			"crypto": m.Crypto.StringFixed(4),
			"total":  m.Total.StringFixed(4),
		})
	}
	c.JSON(http.StatusOK, gin.H{"months": res})
}

func statsResponse(s service.Stats) gin.H {
	return gin.H{
		"total_value":           s.TotalValue.StringFixed(4),
		"daily_pl":              s.DailyPL.StringFixed(4),
		"daily_pl_percent":      s.DailyPLPercent.StringFixed(2),
		"unrealized_pl":         s.UnrealizedPL.StringFixed(4),
		"unrealized_pl_percent": s.UnrealizedPLPercent.StringFixed(2),
	}
}

// optionalPortfolioID parses ?portfolio_id= when present. The second
// return is false when the request has already been answered with 400.
func optionalPortfolioID(c *gin.Context) (*int64, bool) {
	v := c.Query("portfolio_id")
	if v == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "portfolio_id must be an integer"})
		return nil, false
	}
	return &id, true
}
