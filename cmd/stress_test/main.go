package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/adapter/client"
	"github.com/rl1809/cafe-order/internal/config"
	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/core/service"
)

const (
	totalSessions  = 50
	itemsPerOrder  = 2
	trackTimeout   = 2 * time.Minute
	pollInterval   = 200 * time.Millisecond
	requestTimeout = 5 * time.Second
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var tokens []string
	for token, p := range cfg.AuthTokens {
		if !p.Admin {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		log.Fatalf("AUTH_TOKENS must name at least one non-admin token")
	}
	sort.Strings(tokens)

	logger := zap.NewNop()
	orderClient := client.NewHTTPOrderClient(client.Config{
		BaseURL: cfg.OrderServiceURL,
		Timeout: requestTimeout,
	}, logger)

	products, err := orderClient.ListProducts(ctx)
	if err != nil {
		log.Fatalf("failed to list products: %v", err)
	}
	if len(products) == 0 {
		log.Fatalf("catalog is empty")
	}

	sessions := service.NewSessionManager(nil, time.Hour, logger)
	defer sessions.Close()
	carts := service.NewCartService(orderClient, sessions, cfg.TaxRate, logger)
	checkout := service.NewCheckoutService(orderClient, logger, nil)
	tracking := service.NewTrackingService(orderClient, service.TrackerConfig{
		PollInterval: pollInterval,
		MaxBackoff:   2 * time.Second,
		MaxDuration:  trackTimeout,
	}, logger, nil)

	// Counters
	var placed, failed, finished, stuck atomic.Int32
	var mismatched atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalSessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			sess := sessions.Create()
			sess.SetToken(tokens[n%len(tokens)])
			sess.SetDining(domain.OrderTypePickup, nil)

			for j := 0; j < itemsPerOrder; j++ {
				p := products[(n+j)%len(products)]
				if _, err := carts.AddItem(ctx, sess, strconv.FormatInt(p.ID, 10), 1+j, domain.Customization{}); err != nil {
					failed.Add(1)
					return
				}
			}
			want := carts.Summary(sess).Total

			rec, err := checkout.Submit(ctx, sess, service.CheckoutOptions{})
			if err != nil {
				failed.Add(1)
				return
			}
			placed.Add(1)
			if rec.TotalAmount != want {
				mismatched.Add(1)
			}

			tracker, err := tracking.Track(sess, string(rec.ID))
			if err != nil {
				stuck.Add(1)
				return
			}
			select {
			case <-tracker.Done():
			case <-time.After(trackTimeout + time.Second):
				tracker.Stop()
			}

			st := tracker.State()
			if st.Record != nil && st.Record.Status.IsTerminal() {
				finished.Add(1)
			} else {
				stuck.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Sessions:         %d\n", totalSessions)
	fmt.Printf("Orders Placed:    %d\n", placed.Load())
	fmt.Printf("Checkout Failed:  %d\n", failed.Load())
	fmt.Printf("Tracked to End:   %d\n", finished.Load())
	fmt.Printf("Not Finished:     %d\n", stuck.Load())
	fmt.Printf("Total Mismatches: %d\n", mismatched.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if placed.Load() == totalSessions && failed.Load() == 0 {
		fmt.Printf("PASS: all %d checkouts succeeded\n", totalSessions)
	} else {
		fmt.Printf("FAIL: expected %d checkouts, got %d (%d failed)\n", totalSessions, placed.Load(), failed.Load())
	}

	if finished.Load() == placed.Load() {
		fmt.Println("PASS: every order reached a terminal status")
	} else {
		fmt.Printf("FAIL: %d of %d orders did not finish\n", stuck.Load(), placed.Load())
	}

	if mismatched.Load() == 0 {
		fmt.Println("PASS: order totals match the cart")
	} else {
		fmt.Printf("FAIL: %d order totals differ from the cart\n", mismatched.Load())
	}
}
