package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateBasketRequest_Valid(t *testing.T) {
	v := New()

	req := CreateBasketRequest{
		OwnerID:  "user-123",
		Currency: "CLP",
		Lines: []LineItem{
			{SKU: "course-1", Quantity: 2, UnitPrice: dec("10.10")},
			{SKU: "course-2", Quantity: 1, UnitPrice: dec("0.20")},
		},
		TotalInclTax: dec("20.40"), // 2*10.10 + 0.20
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateBasketRequest_InvalidTotalMismatch(t *testing.T) {
	v := New()

	req := CreateBasketRequest{
		OwnerID: "user-123",
		Lines: []LineItem{
			{SKU: "course-1", Quantity: 1, UnitPrice: dec("100.00")},
		},
		TotalInclTax: dec("99.99"),
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for total mismatch, got nil")
	}
}

func TestCreateBasketRequest_MissingFields(t *testing.T) {
	v := New()

	req := CreateBasketRequest{
		// OwnerID missing
		Lines: []LineItem{},
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}

func TestCreateBasketRequest_NonPositivePrice(t *testing.T) {
	v := New()

	req := CreateBasketRequest{
		OwnerID:      "user-123",
		Lines:        []LineItem{{SKU: "course-1", Quantity: 1, UnitPrice: dec("0")}, {SKU: "course-2", Quantity: 1, UnitPrice: dec("5")}},
		TotalInclTax: dec("5"),
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for zero unit price, got nil")
	}
}

func TestCheckoutRequest(t *testing.T) {
	v := New()

	if err := v.Struct(CheckoutRequest{BasketID: 7}); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if err := v.Struct(CheckoutRequest{}); err == nil {
		t.Fatal("expected error for missing basket_id, got nil")
	}
}

func TestBindAndValidate_WritesFieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body := `{"owner_id":"u","lines":[{"sku":"a","quantity":1,"unit_price":"10"}],"total_incl_tax":"11"}`
	c.Request = httptest.NewRequest(http.MethodPost, "/baskets", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreateBasketRequest
	if err := BindAndValidate(c, &req, New()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "total_match_lines=10") {
		t.Fatalf("expected total_match_lines field error, got %s", w.Body.String())
	}
}
