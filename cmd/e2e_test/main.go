package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const baseURL = "http://localhost:8080"

// Runs against the portfolio seeded by cmd/backfill.
const userID = "demo-user"

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	// 1. Health Check
	checkEndpoint("GET", "/health", nil, 200)

	// 2. Record a buy trade
	tradeID := createTrade("buy", "10", "150.00")
	fmt.Printf("Created Trade ID: %v\n", tradeID)

	// 3. Holdings reflect the buy
	checkEndpoint("GET", "/holdings", nil, 200)

	// 4. Stats card
	checkEndpoint("GET", "/stats", nil, 200)

	// 5. 30-day history
	checkEndpoint("GET", "/history?days=30", nil, 200)

	// 6. Monthly net worth
	checkEndpoint("GET", "/monthly-net-worth?months=6", nil, 200)

	// 7. Overselling is rejected
	postTrade("sell", "9999", "150.00", 422)

	// 8. Partial sell succeeds
	postTrade("sell", "4", "160.00", 201)
	checkEndpoint("GET", "/holdings", nil, 200)

	fmt.Println("ALL TESTS PASSED")
}

func checkEndpoint(method, path string, body interface{}, expectedStatus int) {
	fmt.Printf("Testing %s %s...\n", method, path)
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, baseURL+path, bodyReader)
	req.Header.Set("X-User-ID", userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		log.Fatalf("Expected status %d, got %d. Body: %s", expectedStatus, resp.StatusCode, string(respBody))
	}
	fmt.Printf("Response: %s\n", string(respBody))
}

func createTrade(action, quantity, price string) interface{} {
	res := postTrade(action, quantity, price, 201)
	return res["trade_id"]
}

func postTrade(action, quantity, price string, expectedStatus int) map[string]interface{} {
	fmt.Printf("Posting %s trade...\n", action)
	reqBody := map[string]interface{}{
		"portfolio_id":    1,
		"asset_type":      "stock",
		"symbol":          "AAPL",
		"name":            "Apple Inc.",
		"action":          action,
		"quantity":        quantity,
		"unit_price":      price,
		"trade_date":      time.Now().UTC().Format("2006-01-02"),
		"idempotency_key": uuid.NewString(),
	}
	jsonBody, _ := json.Marshal(reqBody)
	req, _ := http.NewRequest("POST", baseURL+"/trades", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Post trade failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("Post trade: expected status %d, got %d: %s", expectedStatus, resp.StatusCode, string(body))
	}

	var res map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&res)
	return res
}
