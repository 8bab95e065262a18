package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-khipu-checkout/internal/aws"
	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/config"
	"github.com/imrishuroy/go-khipu-checkout/internal/fulfillment"
	"github.com/imrishuroy/go-khipu-checkout/internal/gateway"
	"github.com/imrishuroy/go-khipu-checkout/internal/handlers"
	"github.com/imrishuroy/go-khipu-checkout/internal/idempotency"
	"github.com/imrishuroy/go-khipu-checkout/internal/logging"
	"github.com/imrishuroy/go-khipu-checkout/internal/notification"
	"github.com/imrishuroy/go-khipu-checkout/internal/orders"
	"github.com/imrishuroy/go-khipu-checkout/internal/outbox"
	"github.com/imrishuroy/go-khipu-checkout/internal/payment"
	"github.com/imrishuroy/go-khipu-checkout/internal/responses"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func buildConfig(site config.Site, clients *aws.AWSClients, logger *slog.Logger) handlers.HandlerConfig {
	db := clients.DynamoDB
	t := site.Tables

	basketStore := baskets.NewStore(db, t.Baskets, t.Counters, site.OrderNumberPrefix)
	responseStore := responses.NewStore(db, t.Responses, t.ResponsesIndex)
	orderStore := orders.NewStore(db, t.Orders)
	outboxStore := outbox.NewStore(db, t.Outbox, t.OutboxIndex)

	gw := gateway.New(gateway.Config{
		BaseURL:    site.Khipu.BaseURL,
		ReceiverID: site.Khipu.ReceiverID,
		Secret:     site.Khipu.Secret,
		Timeout:    site.Khipu.Timeout,
	})
	processors := map[string]payment.Processor{
		"khipu":       payment.NewKhipu(payment.KhipuVariant{}, site, gw, responseStore, orderStore, logger),
		"khipuwebpay": payment.NewKhipu(payment.WebpayVariant{}, site, gw, responseStore, orderStore, logger),
	}

	dispatcher := outbox.NewDispatcher(logger, clients.Publisher(site.QueueURL))
	svc := fulfillment.NewService(orderStore, basketStore, outboxStore, dispatcher, site.OrderNumberPrefix, logger)

	notes := notification.NewHandler(
		baskets.NewResolver(responseStore, basketStore),
		basketStore,
		idempotency.NewStore(db, t.Idempotency, t.IdempotencyTTL),
		svc,
		clients.Metrics(site.MetricsNamespace),
		logger,
	)

	return handlers.HandlerConfig{
		Site:          site,
		Baskets:       basketStore,
		Notifications: notes,
		Processors:    processors,
		Logger:        logger,
	}
}

func main() {
	site, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logging.New("info").Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(site.LogLevel).With("component", "api", "site", site.Name)

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Error("failed to init aws clients", "err", err)
		os.Exit(1)
	}

	r := setupRouter(buildConfig(site, clients, logger))

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		logger.Info("running local server", "addr", site.HTTPAddr)
		if err := r.Run(site.HTTPAddr); err != nil {
			logger.Error("failed to run local server", "err", err)
			os.Exit(1)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
