package validator

import (
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/shopspring/decimal"
)

func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return Errorf("symbol", "must not be empty")
	}
	for _, r := range symbol {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return &ValidationError{Field: "symbol", Observed: symbol, Reason: "must be alphanumeric"}
		}
	}
	return nil
}

func ValidateSide(side models.OrderSide) error {
	if !side.Valid() {
		return &ValidationError{Field: "side", Observed: string(side), Reason: "must be", Required: "BUY or SELL"}
	}
	return nil
}

// ValidatePositive rejects zero and negative values of a named parameter.
func ValidatePositive(name string, value decimal.Decimal) error {
	if !value.IsPositive() {
		return &ValidationError{Field: name, Observed: value.String(), Reason: "must be >", Required: "0"}
	}
	return nil
}
