package validation

import (
	"strconv"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// the claimed total must equal the sum of quantity * unit price, exactly
	v.RegisterStructValidation(createBasketStructValidation, CreateBasketRequest{})

	return v
}

func createBasketStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateBasketRequest)

	sum := decimal.Zero
	for i, it := range req.Lines {
		if !it.UnitPrice.IsPositive() {
			sl.ReportError(it.UnitPrice, "unit_price", "Lines["+strconv.Itoa(i)+"].UnitPrice", "gt", "0")
		}
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	if !req.TotalInclTax.IsPositive() {
		sl.ReportError(req.TotalInclTax, "total_incl_tax", "TotalInclTax", "gt", "0")
		return
	}
	if !sum.Equal(req.TotalInclTax) {
		sl.ReportError(req.TotalInclTax, "total_incl_tax", "TotalInclTax", "total_match_lines", sum.String())
	}
}
