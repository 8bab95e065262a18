package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
	"github.com/imrishuroy/go-khipu-checkout/internal/config"
	"github.com/imrishuroy/go-khipu-checkout/internal/logging"
	"github.com/imrishuroy/go-khipu-checkout/internal/orders"
)

const maxFulfillmentAttempts = 5

func main() {
	site, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logging.New("info").Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(site.LogLevel).With("component", "worker")

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Error("failed to init aws clients", "err", err)
		os.Exit(1)
	}

	p := NewProcessor(
		orders.NewStore(clients.DynamoDB, site.Tables.Orders),
		logFulfiller{logger: logger},
		clients.Metrics(site.MetricsNamespace),
		logger,
		maxFulfillmentAttempts,
	)

	// If RUN_LOCAL=true, process a single simulated SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"order_number":"EDX-100001","basket_id":1}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: testBody}},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Error("local handler error", "err", err, "failures", len(resp.BatchItemFailures))
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
