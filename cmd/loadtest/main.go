package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"nftstore/internal/middleware"
)

// Result is one HTTP exchange, kept for the summary.
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	secret := flag.String("jwt-secret", "dev-jwt-secret", "secret the server verifies tokens with")
	userID := flag.Uint64("user", 1, "buyer user id")
	itemID := flag.Uint64("item", 1, "item to put in the cart")
	providerName := flag.String("provider", "test", "payment provider")
	total := flag.Int("n", 50, "create-payment requests")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	token, err := middleware.IssueToken([]byte(*secret), *userID, time.Hour)
	if err != nil {
		fmt.Println("issue token:", err)
		os.Exit(1)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	auth := map[string]string{"Authorization": "Bearer " + token}

	if r := doPOST(client, *baseURL+"/api/cart/items", map[string]any{"item_id": *itemID}, auth); r.Err != nil || r.Status != http.StatusOK {
		fmt.Printf("add to cart failed: status=%d body=%s err=%v\n", r.Status, r.Body, r.Err)
		os.Exit(1)
	}

	// every request races to open the same user's order
	fmt.Printf("start double-submit test: user=%d requests=%d concurrency=%d\n", *userID, *total, *concurrency)
	results := runCreatePayment(client, *baseURL, *providerName, auth, *total, *concurrency)
	printSummary("create_payment", results)

	orders := distinctOrders(results)
	fmt.Printf("distinct orders: %d\n", len(orders))
	if len(orders) > 1 {
		fmt.Println("FAIL: concurrent create-payment opened more than one order")
		os.Exit(1)
	}
}

func runCreatePayment(client *http.Client, baseURL, provider string, headers map[string]string, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = doPOST(client, baseURL+"/api/payments", map[string]any{"provider": provider}, headers)
		}(i)
	}

	wg.Wait()
	return results
}

func distinctOrders(results []Result) map[uint64]int {
	out := map[uint64]int{}
	for _, r := range results {
		if r.Err != nil || r.Status != http.StatusOK {
			continue
		}
		var body struct {
			Data struct {
				OrderID uint64 `json:"order_id"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
			continue
		}
		out[body.Data.OrderID]++
	}
	return out
}

// printSummary prints how many requests ended in each HTTP status.
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func doPOST(client *http.Client, url string, body any, headers map[string]string) Result {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, url, r)
	if err != nil {
		return Result{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}
