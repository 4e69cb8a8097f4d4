package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zllovesuki/billsync/billing"
	"github.com/zllovesuki/billsync/config"
	"github.com/zllovesuki/billsync/customer"
	"github.com/zllovesuki/billsync/db"
	"github.com/zllovesuki/billsync/external"
	"github.com/zllovesuki/billsync/ledger"
	"github.com/zllovesuki/billsync/logging"
	"github.com/zllovesuki/billsync/outbox"
	"github.com/zllovesuki/billsync/reconcile"
	"github.com/zllovesuki/billsync/resolver"
	resp "github.com/zllovesuki/billsync/response"
	"github.com/zllovesuki/billsync/subscription"

	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Cannot load configurations: %v\n", err)
	}

	logger, flush, err := logging.New(cfg.Environment, "api", Version)
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	defer flush()

	if err := cfg.ValidateAPI(); err != nil {
		logger.Fatal("Invalid configurations",
			zap.Error(err),
		)
	}

	gormDB, err := db.New(db.Options{
		URI:    cfg.Database.URI,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	customerManager, err := customer.NewManager(customer.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	ledgerManager, err := ledger.NewManager(ledger.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize webhook ledger",
			zap.Error(err),
		)
	}

	billingManager, err := billing.NewManager(billing.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize BillingManager",
			zap.Error(err),
		)
	}

	outboxManager, err := outbox.NewManager(outbox.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize OutboxManager",
			zap.Error(err),
		)
	}

	provider, err := external.NewStripeProvider(external.NewStripeClient(cfg.Stripe.Key), logger)
	if err != nil {
		logger.Fatal("Cannot initialize Stripe provider",
			zap.Error(err),
		)
	}

	chainResolver, err := resolver.New(resolver.Options{
		Provider:      provider,
		Subscriptions: subscriptionManager,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Resolver",
			zap.Error(err),
		)
	}

	var seenCache ledger.SeenCache
	if len(cfg.Redis.URI) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.URI},
			Password: cfg.Redis.Password,
			DB:       0,
		})
		defer rdb.Close()

		if _, err := rdb.Ping().Result(); err != nil {
			logger.Fatal("Cannot connect to Redis",
				zap.Error(err),
			)
		}

		seenCache, err = ledger.NewRedisSeenCache(rdb, cfg.Redis.SeenTTL)
		if err != nil {
			logger.Fatal("Cannot initialize seen cache",
				zap.Error(err),
			)
		}
	}

	dispatcher, err := reconcile.NewDispatcher(reconcile.Options{
		DB:            gormDB,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Resolver:      chainResolver,
		Subscriptions: subscriptionManager,
		Customers:     customerManager,
		Ledger:        ledgerManager,
		Billing:       billingManager,
		Outbox:        outboxManager,
		SeenCache:     seenCache,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Dispatcher",
			zap.Error(err),
		)
	}

	webhookRouter, err := reconcile.NewService(reconcile.ServiceOptions{
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		Syncer: dispatcher,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Mount("/webhooks", webhookRouter.Router())

	allowedOrigins := []string{"*"}
	if len(cfg.HTTP.AppURL) > 0 {
		allowedOrigins = []string{cfg.HTTP.AppURL}
	}
	rootRouter.Route("/subscriptions", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         300,
		}))
		r.Mount("/", subscriptionRouter.Router())
	})

	rootRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pool, err := gormDB.DB()
		if err == nil {
			err = pool.PingContext(r.Context())
		}
		if err != nil {
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Database is unreachable"))
			return
		}
		resp.WriteResponse(w, r, map[string]bool{"ok": true})
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot serve HTTP",
				zap.Error(err),
			)
		}
	}()

	logger.Info("Listening for webhooks",
		zap.String("Addr", srv.Addr),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Cannot shutdown HTTP server gracefully",
			zap.Error(err),
		)
	}
}
