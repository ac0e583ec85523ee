package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"folio/internal/database"
	"folio/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Seeds a demo user with a month of trade history so the charts have
// something to show on a fresh database.
func main() {
	godotenv.Load()
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := database.New(db, logrus.New())
	userID := "demo-user"

	if err := repo.EnsureUserExists(ctx, userID, "Demo User"); err != nil {
		log.Fatalf("ensure user: %v", err)
	}
	_ = repo.EnsureCategoryExists(ctx, "Investments", "expense")
	_ = repo.EnsureCategoryExists(ctx, "Sale of assets", "income")

	portfolioID, err := repo.CreatePortfolio(ctx, userID, "Demo Portfolio", "USD")
	if err != nil {
		log.Fatalf("create portfolio: %v", err)
	}

	today := models.DateOnly(time.Now().UTC())
	seed := []database.TradeInput{
		{AssetType: models.AssetCrypto, Symbol: "BTC", DisplayName: "Bitcoin", ExternalPriceID: "bitcoin",
			Action: models.ActionBuy, Quantity: dec("0.5"), UnitPrice: dec("60000"), Fee: dec("25"), TradeDate: today.AddDate(0, 0, -30)},
		{AssetType: models.AssetCrypto, Symbol: "ETH", DisplayName: "Ethereum", ExternalPriceID: "ethereum",
			Action: models.ActionBuy, Quantity: dec("4"), UnitPrice: dec("2400"), TradeDate: today.AddDate(0, 0, -21)},
		{AssetType: models.AssetStock, Symbol: "AAPL", DisplayName: "Apple Inc.",
			Action: models.ActionBuy, Quantity: dec("10"), UnitPrice: dec("190"), Fee: dec("1"), TradeDate: today.AddDate(0, 0, -14)},
		{AssetType: models.AssetCrypto, Symbol: "BTC", DisplayName: "Bitcoin", ExternalPriceID: "bitcoin",
			Action: models.ActionSell, Quantity: dec("0.1"), UnitPrice: dec("65000"), TradeDate: today.AddDate(0, 0, -7)},
		{AssetType: models.AssetStock, Symbol: "AAPL", DisplayName: "Apple Inc.",
			Action: models.ActionRevaluation, Quantity: dec("1"), UnitPrice: dec("198"), TradeDate: today.AddDate(0, 0, -2)},
	}

	for _, in := range seed {
		in.UserID = userID
		in.PortfolioID = portfolioID
		in.IdempotencyKey = uuid.NewString()
		id, _, err := repo.InsertTrade(ctx, in)
		if err != nil {
			log.Fatalf("seed trade %s %s: %v", in.Action, in.Symbol, err)
		}
		fmt.Printf("seeded trade %d: %s %s %s @ %s on %s\n",
			id, in.Action, in.Quantity, in.Symbol, in.UnitPrice, in.TradeDate.Format("2006-01-02"))
	}

	fmt.Printf("Backfill complete for %s (portfolio %d)\n", userID, portfolioID)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
