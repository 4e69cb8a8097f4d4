package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zllovesuki/billsync/broker"
	"github.com/zllovesuki/billsync/config"
	"github.com/zllovesuki/billsync/customer"
	"github.com/zllovesuki/billsync/db"
	"github.com/zllovesuki/billsync/idempotency"
	"github.com/zllovesuki/billsync/logging"
	"github.com/zllovesuki/billsync/mailer"
	"github.com/zllovesuki/billsync/outbox"

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

	logger, flush, err := logging.New(cfg.Environment, "worker", Version)
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	defer flush()

	if err := cfg.ValidateWorker(); err != nil {
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

	// make sure the outbox table exists before the first poll
	if _, err := outbox.NewManager(outbox.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	}); err != nil {
		logger.Fatal("Cannot initialize OutboxManager",
			zap.Error(err),
		)
	}

	keys, err := idempotency.NewManager(idempotency.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize idempotency keys",
			zap.Error(err),
		)
	}

	var mail outbox.Mailer
	if cfg.SMTP.Enabled() {
		mail, err = mailer.NewSMTPMailer(mailer.Options{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Logger:   logger,
		})
	} else {
		logger.Warn("SMTP_HOST is not set, receipts will only be logged")
		mail, err = mailer.NewLogMailer(logger)
	}
	if err != nil {
		logger.Fatal("Cannot initialize Mailer",
			zap.Error(err),
		)
	}

	var publisher broker.Publisher
	if len(cfg.AMQP.URI) > 0 {
		amqpBroker, err := broker.NewAMQPBroker(cfg.AMQP.URI)
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		defer amqpBroker.Close()
		publisher = amqpBroker
	} else {
		logger.Warn("AMQP_URI is not set, fulfillment requests will only be logged")
		publisher, err = broker.NewLogPublisher(logger)
		if err != nil {
			logger.Fatal("Cannot initialize Publisher",
				zap.Error(err),
			)
		}
	}

	receipts, err := outbox.NewReceiptExecutor(outbox.ReceiptOptions{
		Customers: customerManager,
		Mailer:    mail,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize receipt executor",
			zap.Error(err),
		)
	}

	fulfillment, err := outbox.NewFulfillmentExecutor(outbox.FulfillmentOptions{
		Keys:      keys,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize fulfillment executor",
			zap.Error(err),
		)
	}

	worker, err := outbox.NewWorker(outbox.WorkerOptions{
		DB:     gormDB,
		Logger: logger,
		Executors: map[outbox.Type]outbox.Executor{
			outbox.TypeEmailReceipt:        receipts,
			outbox.TypeFulfillSubscription: fulfillment,
		},
		Interval:   cfg.Outbox.Interval,
		BatchSize:  cfg.Outbox.BatchSize,
		StaleAfter: cfg.Outbox.StaleAfter,
	})
	if err != nil {
		logger.Fatal("Cannot initialize outbox Worker",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	cancel()
	<-done
}
