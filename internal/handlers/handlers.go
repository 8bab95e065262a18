package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/config"
	"github.com/imrishuroy/go-khipu-checkout/internal/notification"
	"github.com/imrishuroy/go-khipu-checkout/internal/payment"
	"github.com/imrishuroy/go-khipu-checkout/internal/validation"
)

// BasketStore is the subset of baskets.Store the routes use.
type BasketStore interface {
	Create(ctx context.Context, nb baskets.NewBasket) (*baskets.Basket, error)
	Get(ctx context.Context, id int64) (*baskets.Basket, error)
	Freeze(ctx context.Context, id int64) error
}

// NotificationHandler runs a notification to a terminal result.
type NotificationHandler interface {
	Handle(ctx context.Context, processor payment.Processor, n payment.Notification, attrs map[string]string) notification.Result
}

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Site          config.Site
	Baskets       BasketStore
	Notifications NotificationHandler
	// Processors is keyed by the :processor path segment (khipu, khipuwebpay).
	Processors map[string]payment.Processor
	Logger     *slog.Logger
}

// RegisterRoutes registers the basket and payment routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/baskets", createBasket(cfg, v))

	p := r.Group("/payment/:processor")
	p.POST("/checkout", checkout(cfg, v))
	p.POST("/execute/", execute(cfg))
	p.GET("/payments/:payment_id", lookupPayment(cfg))
}

// processor resolves the :processor segment, answering 404 when unknown.
func processor(c *gin.Context, cfg HandlerConfig) (payment.Processor, bool) {
	p, ok := cfg.Processors[c.Param("processor")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_processor", "processor": c.Param("processor")})
		return nil, false
	}
	return p, true
}
