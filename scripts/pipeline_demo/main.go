package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"order-engine/internal/events"
	"order-engine/internal/order"
	"order-engine/pkg/db"
	"order-engine/pkg/dex"
)

// pipeline_demo runs the execution pipeline in-process against the
// simulated venues and an in-memory database, printing every status update.
//
// Usage (from the module root):
//
//	go run ./scripts/pipeline_demo -orders 5 -concurrency 2
func main() {
	orders := flag.Int("orders", 3, "number of orders to submit")
	concurrency := flag.Int("concurrency", 2, "orders executing at once")
	fast := flag.Bool("fast", true, "drop simulated venue latency")
	flag.Parse()

	log.Println("=== pipeline demo starting ===")

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	profiles := dex.DefaultProfiles()
	if *fast {
		for name, p := range profiles {
			p.QuoteLatencyMinMs, p.QuoteLatencyMaxMs = 5, 10
			p.SwapLatencyMinMs, p.SwapLatencyMaxMs = 20, 40
			p.FailureRate = 0.25
			profiles[name] = p
		}
	}
	providers, err := dex.NewSimProviders([]string{"raydium", "meteora"}, profiles)
	if err != nil {
		log.Fatalf("providers: %v", err)
	}
	router, err := dex.NewRouter(nil, providers...)
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	publisher := events.NewPublisher(nil, nil)
	store := order.NewSQLStore(database)
	exec := order.NewExecutor(store, router, publisher, nil)
	retrier := order.NewRetrier(exec, order.RetryPolicy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond}, nil, nil)
	queue := order.NewQueue(nil)
	pool := order.NewAsyncExecutor(queue, order.NewWindowLimiter(100, time.Minute), retrier, *concurrency, nil, nil)

	ctx := context.Background()
	go func() { _ = pool.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < *orders; i++ {
		// Store and subscribe before queueing so no update is missed.
		o, err := store.CreateOrder(ctx, order.Order{
			ID:        uuid.NewString(),
			TokenIn:   "So11111111111111111111111111111111111111112",
			TokenOut:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			AmountIn:  float64(i + 1),
			Slippage:  0.01,
			Status:    order.StatusPending,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Fatalf("create order: %v", err)
		}
		updates, cancel := publisher.Stream(o.ID, 32)
		if _, err := queue.Submit(o); err != nil {
			log.Fatalf("submit: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			for u := range updates {
				fmt.Printf("%s  %-9s attempt=%d dex=%-7s %s%s\n", u.OrderID[:8], u.Status, u.Attempt, u.Dex, u.Message, errSuffix(u.Error))
				if u.Final {
					return
				}
			}
		}()
	}

	for i := 0; i < *orders; i++ {
		r := <-pool.Results()
		log.Printf("order %s finished: status=%s attempts=%d latency=%v", r.OrderID[:8], r.Status, r.Attempts, r.Latency.Round(time.Millisecond))
	}
	wg.Wait()

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Close(closeCtx); err != nil {
		log.Printf("close pool: %v", err)
	}
	log.Println("=== pipeline demo finished ===")
}

func errSuffix(msg string) string {
	if msg == "" {
		return ""
	}
	return " (" + msg + ")"
}
