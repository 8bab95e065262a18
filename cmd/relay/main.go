package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
	"github.com/imrishuroy/go-khipu-checkout/internal/config"
	"github.com/imrishuroy/go-khipu-checkout/internal/logging"
	"github.com/imrishuroy/go-khipu-checkout/internal/outbox"
)

func main() {
	site, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logging.New("info").Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(site.LogLevel).With("component", "relay")

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Error("failed to init aws clients", "err", err)
		os.Exit(1)
	}

	relay := outbox.NewRelay(
		logger,
		outbox.NewStore(clients.DynamoDB, site.Tables.Outbox, site.Tables.OutboxIndex),
		outbox.NewDispatcher(logger, clients.Publisher(site.QueueURL)),
	)

	if os.Getenv("RUN_LOCAL") == "true" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("relay running")
		if err := relay.Run(ctx); err != nil {
			logger.Error("relay stopped", "err", err)
			os.Exit(1)
		}
		return
	}

	// scheduled invocation: one batch per tick
	lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) error {
		n, err := relay.Flush(ctx)
		if err != nil {
			return err
		}
		logger.Info("relay flushed", "sent", n)
		return nil
	})
}
