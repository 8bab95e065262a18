package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/config"
	"github.com/imrishuroy/go-khipu-checkout/internal/notification"
	"github.com/imrishuroy/go-khipu-checkout/internal/payment"
	"github.com/imrishuroy/go-khipu-checkout/internal/validation"
)

// checkout opens a gateway transaction for a basket and returns the payment page.
func checkout(cfg HandlerConfig, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		proc, ok := processor(c, cfg)
		if !ok {
			return
		}
		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		ctx := c.Request.Context()
		log := cfg.Logger.With("processor", proc.Name(), "basket_id", req.BasketID)

		b, err := cfg.Baskets.Get(ctx, req.BasketID)
		if err != nil {
			log.Error("get basket", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "basket_lookup_failed"})
			return
		}
		if b == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "basket_not_found"})
			return
		}

		// a submitted basket must not get another gateway transaction
		if err := cfg.Baskets.Freeze(ctx, b.BasketID); err != nil {
			if errors.Is(err, baskets.ErrNotOpen) {
				c.JSON(http.StatusConflict, gin.H{"error": "basket_not_open", "order_number": b.OrderNumber})
				return
			}
			log.Error("freeze basket", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "basket_freeze_failed"})
			return
		}

		params, err := proc.CreateTransaction(ctx, b)
		if err != nil {
			if errors.Is(err, payment.ErrDeclinedTransaction) {
				c.JSON(http.StatusBadGateway, gin.H{"error": "transaction_declined"})
				return
			}
			log.Error("create transaction", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction_failed"})
			return
		}
		c.JSON(http.StatusOK, params)
	}
}

// execute receives the gateway's server-to-server notification.
func execute(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		proc, ok := processor(c, cfg)
		if !ok {
			return
		}
		n := payment.Notification{
			APIVersion:        c.PostForm("api_version"),
			NotificationToken: c.PostForm("notification_token"),
		}
		attrs := map[string]string{}
		if org := c.Query(notification.OrganizationAttribute); org != "" {
			attrs[notification.OrganizationAttribute] = org
		}

		res := cfg.Notifications.Handle(c.Request.Context(), proc, n, attrs)
		switch res.Outcome {
		case notification.OutcomePlaced:
			if cfg.Site.ResponseMode == config.ModeRedirect {
				c.Redirect(http.StatusFound, cfg.Site.ReceiptURL(res.OrderNumber))
				return
			}
			c.Status(http.StatusOK)
		case notification.OutcomeConflict:
			// tells the gateway the transaction was already handled
			c.Status(http.StatusConflict)
		default:
			c.Status(http.StatusNotFound)
		}
	}
}

// lookupPayment returns the gateway's current view of a payment.
func lookupPayment(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		proc, ok := processor(c, cfg)
		if !ok {
			return
		}
		detail, err := proc.Lookup(c.Request.Context(), c.Param("payment_id"))
		if err != nil {
			cfg.Logger.Warn("payment lookup", "processor", proc.Name(), "transaction_id", c.Param("payment_id"), "err", err)
			if errors.Is(err, payment.ErrLookupFailure) {
				c.JSON(http.StatusNotFound, gin.H{"error": "payment_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payment_lookup_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"payment_id":     detail.PaymentID,
			"transaction_id": detail.TransactionID,
			"status":         detail.Status,
			"status_detail":  detail.StatusDetail,
			"amount":         detail.Amount.String(),
			"currency":       detail.Currency,
		})
	}
}
