// Package validator checks orders against exchange instrument filters before
// they are allowed to reach the gateway.
package validator

import (
	"fmt"

	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/shopspring/decimal"
)

// ValidationError means the request can never succeed as given. It is not
// retried anywhere.
type ValidationError struct {
	Field    string
	Symbol   string
	Observed string
	Required string
	Reason   string
}

func (e *ValidationError) Error() string {
	msg := e.Field
	if e.Observed != "" {
		msg += " " + e.Observed
	}
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Required != "" {
		msg += " " + e.Required
	}
	if e.Symbol != "" {
		msg += " for " + e.Symbol
	}
	return msg
}

// Errorf builds a ValidationError for a precondition that is not tied to a
// filter value.
func Errorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ApplyStep floors value to a multiple of step. A zero step leaves value
// unchanged.
func ApplyStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	q, _ := value.QuoRem(step, 0)
	if value.IsNegative() && !value.Equal(q.Mul(step)) {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}

// Validate runs the filter checks that apply to req.Type, in order, and
// returns the first failure.
func Validate(req models.OrderRequest, f models.InstrumentFilters) error {
	symbol := req.Symbol

	if !req.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Symbol: symbol, Observed: req.Quantity.String(), Reason: "must be >", Required: "0"}
	}
	prices := pricesFor(req)
	for _, p := range prices {
		if !p.value.IsPositive() {
			return &ValidationError{Field: p.field, Symbol: symbol, Observed: p.value.String(), Reason: "must be >", Required: "0"}
		}
	}

	if err := checkQuantity(symbol, req.Quantity, f); err != nil {
		return err
	}

	for _, p := range prices {
		if err := checkPrice(symbol, p.field, p.value, f); err != nil {
			return err
		}
	}

	if ref, ok := referencePrice(req); ok && f.MinNotional.IsPositive() {
		notional := req.Quantity.Mul(ref)
		if notional.LessThan(f.MinNotional) {
			return &ValidationError{Field: "notional", Symbol: symbol, Observed: notional.String(), Reason: "< minNotional", Required: f.MinNotional.String()}
		}
	}
	return nil
}

// Check validates a bare quantity and optional limit price, treating the
// order as LIMIT when a price is given and MARKET otherwise.
func Check(symbol string, quantity decimal.Decimal, price *decimal.Decimal, f models.InstrumentFilters) error {
	return Validate(models.OrderRequest{Symbol: symbol, Quantity: quantity, Price: price}, f)
}

type namedPrice struct {
	field string
	value decimal.Decimal
}

func pricesFor(req models.OrderRequest) []namedPrice {
	typ := effectiveType(req)
	var out []namedPrice
	if typ.UsesPrice() {
		out = append(out, namedPrice{field: "price", value: orZero(req.Price)})
	}
	if typ.UsesStopPrice() {
		out = append(out, namedPrice{field: "stopPrice", value: orZero(req.StopPrice)})
	}
	return out
}

// referencePrice is the price the order is expected to trade at: the limit
// price when there is one, else the trigger price of a stop-market order.
func referencePrice(req models.OrderRequest) (decimal.Decimal, bool) {
	switch effectiveType(req) {
	case models.OrderTypeLimit, models.OrderTypeStop:
		return orZero(req.Price), req.Price != nil
	case models.OrderTypeStopMarket:
		return orZero(req.StopPrice), req.StopPrice != nil
	}
	return decimal.Zero, false
}

// effectiveType infers the variant for requests built without an explicit
// type, such as a bare quantity/price pair.
func effectiveType(req models.OrderRequest) models.OrderType {
	if req.Type != "" {
		return req.Type
	}
	if req.Price != nil {
		return models.OrderTypeLimit
	}
	return models.OrderTypeMarket
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func checkQuantity(symbol string, qty decimal.Decimal, f models.InstrumentFilters) error {
	if qty.LessThan(f.MinQty) {
		return &ValidationError{Field: "quantity", Symbol: symbol, Observed: qty.String(), Reason: "< minQty", Required: f.MinQty.String()}
	}
	if f.MaxQty.IsPositive() && qty.GreaterThan(f.MaxQty) {
		return &ValidationError{Field: "quantity", Symbol: symbol, Observed: qty.String(), Reason: "> maxQty", Required: f.MaxQty.String()}
	}
	if !qty.Equal(ApplyStep(qty, f.StepSize)) {
		return &ValidationError{Field: "quantity", Symbol: symbol, Observed: qty.String(), Reason: "is not multiple of stepSize", Required: f.StepSize.String()}
	}
	return nil
}

func checkPrice(symbol, field string, price decimal.Decimal, f models.InstrumentFilters) error {
	if price.LessThan(f.MinPrice) || (f.MaxPrice.IsPositive() && price.GreaterThan(f.MaxPrice)) {
		bounds := fmt.Sprintf("[%s, %s]", f.MinPrice.String(), f.MaxPrice.String())
		return &ValidationError{Field: field, Symbol: symbol, Observed: price.String(), Reason: "out of bounds", Required: bounds}
	}
	if !price.Equal(ApplyStep(price, f.TickSize)) {
		return &ValidationError{Field: field, Symbol: symbol, Observed: price.String(), Reason: "is not multiple of tickSize", Required: f.TickSize.String()}
	}
	return nil
}
