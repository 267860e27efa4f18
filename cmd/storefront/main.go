package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/auth"
	"github.com/jogardn/fromentine-orders/internal/catalog"
	"github.com/jogardn/fromentine-orders/internal/circuitbreaker"
	"github.com/jogardn/fromentine-orders/internal/config"
	"github.com/jogardn/fromentine-orders/internal/contact"
	"github.com/jogardn/fromentine-orders/internal/events"
	"github.com/jogardn/fromentine-orders/internal/httpjson"
	"github.com/jogardn/fromentine-orders/internal/inventory"
	"github.com/jogardn/fromentine-orders/internal/locations"
	"github.com/jogardn/fromentine-orders/internal/metrics"
	"github.com/jogardn/fromentine-orders/internal/orders"
	"github.com/jogardn/fromentine-orders/internal/payments"
	"github.com/jogardn/fromentine-orders/internal/ratelimit"
	"github.com/jogardn/fromentine-orders/internal/store"
)

type storefrontStore interface {
	orders.Store
	catalog.Store
	inventory.Store
	locations.Store
	contact.Store
	Ping(ctx context.Context) error
}

type app struct {
	store         storefrontStore
	publisher     metrics.ChangePublisher
	breakers      *circuitbreaker.Manager
	authenticator auth.Authenticator
	limiter       *ratelimit.Limiter
	provider      payments.Provider
	cfg           config.Config
	logger        *logrus.Logger
}

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	st, closeStore, err := openStore(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer closeStore()

	a := &app{
		store:    st,
		breakers: circuitbreaker.NewManager(logger),
		cfg:      cfg,
		logger:   logger,
	}
	defer a.breakers.Shutdown()

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.ChangeTopic, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		a.publisher = metrics.NewCountingPublisher(producer)
	} else {
		logger.Warn("KAFKA_BROKERS not set, change feed disabled")
	}

	if cfg.StripeSecretKey != "" {
		breaker := a.breakers.GetOrCreate("stripe", circuitbreaker.Config{
			MaxFailures:   5,
			Timeout:       30 * time.Second,
			MaxRequests:   1,
			OnStateChange: metrics.RecordBreakerState,
			IsFailure:     payments.IsStripeFailure,
		})
		provider, err := payments.NewStripeProvider(cfg.StripeSecretKey, breaker, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create payment provider")
		}
		a.provider = provider
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout disabled")
	}

	if cfg.AuthJWTSecret != "" {
		a.authenticator = auth.NewJWTAuthenticator(cfg.AuthJWTSecret)
	} else {
		breaker := a.breakers.GetOrCreate("auth", circuitbreaker.Config{
			MaxFailures:   5,
			Timeout:       30 * time.Second,
			MaxRequests:   1,
			OnStateChange: metrics.RecordBreakerState,
			IsFailure:     auth.IsProviderFailure,
		})
		a.authenticator = auth.NewClient(cfg.AuthURL, cfg.AuthAPIKey, breaker, logger)
	}

	var counter ratelimit.Counter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		counter = ratelimit.NewRedisCounter(client, "ratelimit", cfg.RateLimitWindow)
	} else {
		logger.Info("REDIS_ADDR not set, using in-process rate limit counters")
		counter = ratelimit.NewMemoryCounter(cfg.RateLimitWindow)
	}
	a.limiter = ratelimit.NewLimiter(counter, cfg.RateLimitMax, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsMiddleware(a.routes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Starting storefront API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storefrontStore, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := store.OpenPostgres(ctx, cfg.DB.DSN(), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.CreateTables(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, func() { pg.Close() }, nil
}

func (a *app) routes() *mux.Router {
	orderService := orders.NewService(a.store, a.publisher, a.logger)
	orderService.SetStrictStatusUpdates(a.cfg.StrictStatusUpdates)

	var checkout *payments.Checkout
	if a.provider != nil {
		checkout = payments.NewCheckout(orderService, a.provider, a.cfg.PublicBaseURL, a.cfg.Currency, a.logger)
	}
	confirmer := payments.NewConfirmer(payments.NewStripeVerifier(a.cfg.StripeWebhookSecret), a.store, a.publisher, a.logger)

	orderHandler := orders.NewHandler(orderService, a.logger)
	paymentHandler := payments.NewHandler(checkout, confirmer, a.logger)
	catalogHandler := catalog.NewHandler(catalog.NewService(a.store, a.publisher, a.logger), a.logger)
	inventoryHandler := inventory.NewHandler(inventory.NewService(a.store, a.publisher, a.logger), a.logger)
	locationHandler := locations.NewHandler(locations.NewService(a.store, a.logger), a.logger)
	contactHandler := contact.NewHandler(contact.NewService(a.store, a.logger), a.logger)

	limited := func(h http.HandlerFunc) http.Handler {
		return a.limiter.Middleware(h)
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", catalogHandler.ListPublic).Methods(http.MethodGet)
	api.HandleFunc("/locations", locationHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/locations/nearest", locationHandler.Nearest).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", orderHandler.GetOrder).Methods(http.MethodGet)
	api.Handle("/orders/create", limited(orderHandler.CreateOrder)).Methods(http.MethodPost)
	api.Handle("/stripe/create-checkout-session", limited(paymentHandler.CreateCheckoutSession)).Methods(http.MethodPost)
	api.Handle("/contact", limited(contactHandler.Submit)).Methods(http.MethodPost)
	api.HandleFunc("/stripe/webhook", paymentHandler.Webhook).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(auth.Middleware(a.authenticator, a.logger))
	admin.Use(auth.RequireRole(a.cfg.AdminRole, a.logger))
	admin.HandleFunc("/orders", orderHandler.ListOrders).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/status", orderHandler.UpdateStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/products", catalogHandler.ListAdmin).Methods(http.MethodGet)
	admin.HandleFunc("/products", catalogHandler.Create).Methods(http.MethodPost)
	admin.HandleFunc("/products/{id}", catalogHandler.Update).Methods(http.MethodPatch)
	admin.HandleFunc("/products/{id}", catalogHandler.Delete).Methods(http.MethodDelete)
	admin.HandleFunc("/products/{id}/inventory", inventoryHandler.UpdateInventory).Methods(http.MethodPatch)
	admin.HandleFunc("/circuit-breakers", a.circuitBreakers).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breakers/{name}/reset", a.resetCircuitBreaker).Methods(http.MethodPost)

	router.Use(metrics.Middleware)
	router.Use(loggingMiddleware(a.logger))
	return router
}

func (a *app) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.WithError(err).Warn("Health check: store unreachable")
		httpjson.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":           "unhealthy",
			"service":          "storefront",
			"error":            "store unreachable",
			"circuit_breakers": a.breakers.States(),
		})
		return
	}

	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"service":          "storefront",
		"circuit_breakers": a.breakers.States(),
	})
}

func (a *app) circuitBreakers(w http.ResponseWriter, r *http.Request) {
	httpjson.RespondWithJSON(w, http.StatusOK, a.breakers.GetAllMetrics())
}

func (a *app) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !a.breakers.Reset(name) {
		httpjson.RespondWithError(w, http.StatusNotFound, "Circuit breaker not found")
		return
	}
	a.logger.WithField("circuit_breaker", name).Info("Circuit breaker reset by admin")
	httpjson.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Circuit breaker reset",
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
