package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/auth"
	"tradeengine/src/cart"
	"tradeengine/src/handler"
	"tradeengine/src/ledger"
	"tradeengine/src/repository"
)

// NewRouter builds the HTTP API. Writes go to db; order search, credit
// history and positions read from reader when it is set. prices quotes
// market items added to carts.
func NewRouter(db, reader *gorm.DB, feeCfg ledger.Config, maxAttempts int, prices cart.PriceSource) http.Handler {
	if reader == nil {
		reader = db
	}
	orders := repository.NewOrderRepository().WithDB(reader)
	tasks := repository.NewTradeTaskRepository().WithDB(db)
	accounts := repository.NewAccountRepository().WithDB(db)
	l := ledger.New(db, feeCfg, nil)
	readLedger := ledger.New(reader, feeCfg, nil)
	carts := repository.NewCartRepository().WithDB(db)
	checkout := cart.NewService(carts, tasks, prices, l, maxAttempts, nil)

	// Router with middleware
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	// Account routes
	r.Group(func(r chi.Router) {
		r.Use(auth.AccountMiddleware(accounts))

		r.Post("/orders", handler.CreateOrderHandler(tasks, maxAttempts))
		r.Get("/orders", handler.SearchOrdersHandler(orders))
		r.Get("/orders/{id}", handler.GetOrderHandler(orders))

		r.Get("/credits/balance", handler.BalanceHandler(l))
		r.Post("/credits/deposit", handler.DepositHandler(l))
		r.Get("/credits/history", handler.HistoryHandler(readLedger))

		r.Get("/positions", handler.PositionsHandler(readLedger))

		r.Get("/cart", handler.ViewCartHandler(carts))
		r.Post("/cart/items", handler.AddToCartHandler(checkout))
		r.Delete("/cart/items", handler.RemoveFromCartHandler(carts))
		r.Delete("/cart", handler.ClearCartHandler(carts))
		r.Post("/cart/checkout", handler.CheckoutCartHandler(checkout))
	})

	return r
}

func StartServer(port string, h http.Handler) {
	// Graceful server
	// Server setup
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
