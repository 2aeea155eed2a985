package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide normalizes user input such as "buy" or " SELL ".
func ParseOrderSide(s string) OrderSide {
	return OrderSide(strings.ToUpper(strings.TrimSpace(s)))
}

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType is the tag of the order variant. It decides which of
// Price and StopPrice are meaningful on an OrderRequest.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStop       OrderType = "STOP"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

func (t OrderType) UsesPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStop
}

func (t OrderType) UsesStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopMarket
}

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

func (t TimeInForce) Valid() bool {
	switch t {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the exchange will never change the order again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// OrderRequest is built by a strategy, validated, then handed to the gateway.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	TimeInForce   TimeInForce
	ReduceOnly    bool
	PositionSide  string
	ClientOrderID string
}

// OrderRecord is the exchange's view of an order.
type OrderRecord struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Status        OrderStatus
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	OrigQty       decimal.Decimal
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	TimeInForce   TimeInForce
	ReduceOnly    bool
	UpdateTime    time.Time
}

// OrderUpdate is a pushed status change for a single order.
type OrderUpdate struct {
	Symbol  string
	OrderID int64
	Status  OrderStatus
}

// Dec returns a pointer to d, for the optional price fields of OrderRequest.
func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}
