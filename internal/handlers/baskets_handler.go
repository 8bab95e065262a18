package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-khipu-checkout/internal/baskets"
	"github.com/imrishuroy/go-khipu-checkout/internal/validation"
)

func createBasket(cfg HandlerConfig, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.CreateBasketRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		currency := req.Currency
		if currency == "" {
			currency = cfg.Site.Currency
		}
		lines := make([]baskets.Line, 0, len(req.Lines))
		for _, l := range req.Lines {
			lines = append(lines, baskets.Line{
				SKU:       l.SKU,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice.StringFixed(2),
			})
		}

		b, err := cfg.Baskets.Create(c.Request.Context(), baskets.NewBasket{
			OwnerID:  req.OwnerID,
			Site:     cfg.Site.Name,
			Currency: currency,
			Lines:    lines,
			Total:    req.TotalInclTax,
		})
		if err != nil {
			cfg.Logger.Error("create basket", "owner_id", req.OwnerID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "basket_create_failed"})
			return
		}

		cfg.Logger.Info("basket created", "basket_id", b.BasketID, "order_number", b.OrderNumber, "amount", b.TotalInclTax)
		c.JSON(http.StatusCreated, gin.H{"basket_id": b.BasketID, "order_number": b.OrderNumber})
	}
}
