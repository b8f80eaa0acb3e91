package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/rl1809/mall-checkout/docs"
	"github.com/rl1809/mall-checkout/internal/adapter/handler"
	"github.com/rl1809/mall-checkout/internal/config"
	"github.com/rl1809/mall-checkout/internal/core/service"
	"github.com/rl1809/mall-checkout/internal/logger"
	"github.com/rl1809/mall-checkout/internal/telemetry"
)

const serviceName = "mall-checkout"

// @title Mall Checkout API
// @version 1.0
// @description Catalog, cart and checkout API for the mall.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Probability: cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	catalog := service.NewCatalogService(st.products, st.stock, log)
	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, catalog, log); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}
	if err := st.syncStock(ctx); err != nil {
		return fmt.Errorf("sync stock: %w", err)
	}

	checkout := service.NewCheckoutService(st.stock, service.NewCatalogPricing(st.products), st.orders, st.carts, st.idempotency, log)
	carts := service.NewCartService(st.carts, st.products, st.stock, log)
	orders := service.NewOrderService(st.orders, st.stock, log)

	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(checkout, orders), st.sessions, log)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	httpHandler := handler.NewHTTPHandler(checkout, carts, orders, catalog, st.sessions, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")
	return nil
}
