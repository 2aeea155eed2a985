package models

import (
	"github.com/shopspring/decimal"
)

// InstrumentFilters holds the numeric constraints an exchange imposes on a
// trading pair. A zero StepSize, TickSize, MaxQty, MaxPrice or MinNotional
// means the corresponding constraint is absent.
type InstrumentFilters struct {
	Symbol      string
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	StepSize    decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
}
