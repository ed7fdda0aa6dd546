package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-verification/internal/adapter/storage"
	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/core/service"
)

const (
	productID    = "stress-item"
	reviewerID   = "reviewer-1"
	liveStock    = 40
	totalOrders  = 50
	approveEvery = 5
)

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx := context.Background()

	store := storage.NewMemoryAdapter()
	orders := service.NewOrderService(store, nil, nil)
	stock := service.NewStockService(store, nil, nil)

	initial := liveStock
	if _, err := stock.UpsertProduct(ctx, service.ProductInput{ID: productID, Name: "Stress item", LiveStock: &initial}); err != nil {
		log.Fatal().Err(err).Msg("failed to seed product")
	}

	var created, approved, rejected, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalOrders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			order, err := orders.CreateOrder(ctx, service.CreateOrderInput{
				RequesterID: fmt.Sprintf("seller-%d", n),
				ReviewerID:  reviewerID,
				Items:       []service.LineInput{{ProductID: productID, Quantity: 1, Price: decimal.NewFromInt(10)}},
			})
			if err != nil {
				failed.Add(1)
				return
			}
			created.Add(1)

			status := domain.VerificationRejected
			if n%approveEvery == 0 {
				status = domain.VerificationApproved
			}
			_, err = orders.Verify(ctx, order.ID, reviewerID, service.VerifyInput{
				Status: status,
				Items:  []service.VerificationLineInput{{ProductID: productID, Quantity: "1", Price: "10"}},
			})
			switch {
			case err != nil:
				failed.Add(1)
			case status == domain.VerificationApproved:
				approved.Add(1)
			default:
				rejected.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Live Stock:       %d\n", liveStock)
	fmt.Printf("Orders Created:   %d\n", created.Load())
	fmt.Printf("Approved:         %d\n", approved.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	p, err := stock.GetStock(ctx, productID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read stock")
	}
	want := max(liveStock-int(approved.Load()), 0)
	if p.VirtualStock != nil && *p.VirtualStock == want {
		fmt.Printf("PASS: virtual stock is %d\n", want)
	} else {
		fmt.Printf("FAIL: expected virtual stock %d, got %v\n", want, p.VirtualStock)
		ok = false
	}

	res, err := stock.RecomputeAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to recompute")
	}
	if res.Updated == 0 {
		fmt.Println("PASS: recompute found no drift")
	} else {
		fmt.Printf("FAIL: recompute repaired %d products\n", res.Updated)
		ok = false
	}

	if failed.Load() > 0 {
		fmt.Printf("FAIL: %d operations failed\n", failed.Load())
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
}
