package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/mall-checkout/internal/adapter/handler"
	"github.com/rl1809/mall-checkout/internal/adapter/storage"
	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/core/service"
)

const (
	initialStock  = 20
	totalRequests = 50
)

type checkoutFunc func(ctx context.Context, buyer int, productID int64) error

func main() {
	ctx := context.Background()

	var (
		checkout  checkoutFunc
		productID int64
		stockOf   func() int
	)
	if target := os.Getenv("GRPC_TARGET"); target != "" {
		checkout, productID, stockOf = remote(target)
	} else {
		checkout, productID, stockOf = inProcess(ctx)
	}

	// Counters
	var successCount, stockoutCount, failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()
			err := checkout(ctx, buyer, productID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				stockoutCount.Add(1)
			default:
				failCount.Add(1)
				log.Printf("buyer %d: %v", buyer, err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	stockouts := stockoutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", stockouts)
	fmt.Printf("Other failures:   %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && stockouts == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d orders succeeded, %d were refused\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d success/%d refused, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, stockouts)
	}

	if stockOf == nil {
		return
	}
	if finalStock := stockOf(); finalStock == 0 {
		fmt.Println("PASS: stock depleted to 0")
	} else {
		fmt.Printf("FAIL: expected stock 0, got %d\n", finalStock)
	}
}

// inProcess drives the checkout service over the Redis stock ledger.
func inProcess(ctx context.Context) (checkoutFunc, int64, func() int) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	ledger := storage.NewRedisAdapter(rdb)
	catalog := storage.NewMemoryCatalog()
	products := service.NewCatalogService(catalog, ledger, zap.NewNop())
	p, err := products.CreateProduct(ctx, domain.Product{
		Name:     "Stress Item",
		Category: "stress",
		Price:    decimal.RequireFromString("9.99"),
		Stock:    initialStock,
	})
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	svc := service.NewCheckoutService(ledger, service.NewCatalogPricing(catalog),
		storage.NewMemoryOrderStore(), storage.NewMemoryCartStore(), ledger, zap.NewNop())

	checkout := func(ctx context.Context, buyer int, productID int64) error {
		_, err := svc.Checkout(ctx, fmt.Sprintf("user-%d", buyer), "1 Stress Lane",
			[]domain.Reservation{{ProductID: productID, Quantity: 1}}, "")
		return err
	}
	stockOf := func() int {
		n, err := ledger.CurrentStock(ctx, p.ID)
		if err != nil {
			log.Fatalf("failed to read stock: %v", err)
		}
		return n
	}
	return checkout, p.ID, stockOf
}

// remote drives a running server. The product must already hold
// initialStock units; its id comes from STRESS_PRODUCT_ID.
func remote(target string) (checkoutFunc, int64, func() int) {
	var productID int64
	if _, err := fmt.Sscan(os.Getenv("STRESS_PRODUCT_ID"), &productID); err != nil {
		log.Fatalf("STRESS_PRODUCT_ID: %v", err)
	}
	token := os.Getenv("STRESS_TOKEN")
	if token == "" {
		token = "customer-token"
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to dial %s: %v", target, err)
	}
	client := handler.NewCheckoutClient(conn, token)

	checkout := func(ctx context.Context, buyer int, productID int64) error {
		_, err := client.Checkout(ctx, &handler.CheckoutRequest{
			ShippingAddress: fmt.Sprintf("%d Stress Lane", buyer),
			Items:           []domain.Reservation{{ProductID: productID, Quantity: 1}},
		})
		return err
	}
	// no stock read over gRPC; check the catalog over HTTP instead
	return checkout, productID, nil
}
