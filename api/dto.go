package api

import (
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/trader"
	"github.com/shopspring/decimal"
)

type orderRequest struct {
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	Type         string           `json:"type"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	StopPrice    *decimal.Decimal `json:"stopPrice,omitempty"`
	TimeInForce  string           `json:"timeInForce,omitempty"`
	ReduceOnly   bool             `json:"reduceOnly"`
	PositionSide string           `json:"positionSide,omitempty"`
}

type twapRequest struct {
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	DurationMinutes float64         `json:"durationMinutes"`
	Slices          int             `json:"slices"`
	ReduceOnly      bool            `json:"reduceOnly"`
	PositionSide    string          `json:"positionSide,omitempty"`
}

type ocoRequest struct {
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	Quantity     decimal.Decimal  `json:"quantity"`
	TakeProfit   decimal.Decimal  `json:"takeProfit"`
	StopLoss     decimal.Decimal  `json:"stopLoss"`
	StopLimit    *decimal.Decimal `json:"stopLimit,omitempty"`
	ReduceOnly   bool             `json:"reduceOnly"`
	PositionSide string           `json:"positionSide,omitempty"`
}

type gridRequest struct {
	Symbol       string          `json:"symbol"`
	Lower        decimal.Decimal `json:"lower"`
	Upper        decimal.Decimal `json:"upper"`
	Levels       int             `json:"levels"`
	Quantity     decimal.Decimal `json:"quantity"`
	Mode         string          `json:"mode,omitempty"`
	ReduceOnly   bool            `json:"reduceOnly"`
	PositionSide string          `json:"positionSide,omitempty"`
}

type orderSummary struct {
	OrderID       int64              `json:"orderId"`
	ClientOrderID string             `json:"clientOrderId,omitempty"`
	Symbol        string             `json:"symbol"`
	Side          models.OrderSide   `json:"side"`
	Type          models.OrderType   `json:"type"`
	Status        models.OrderStatus `json:"status"`
	Price         decimal.Decimal    `json:"price"`
	StopPrice     decimal.Decimal    `json:"stopPrice"`
	OrigQty       decimal.Decimal    `json:"origQty"`
	ExecutedQty   decimal.Decimal    `json:"executedQty"`
	AvgPrice      decimal.Decimal    `json:"avgPrice"`
}

func newOrderSummary(r models.OrderRecord) orderSummary {
	return orderSummary{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Type:          r.Type,
		Status:        r.Status,
		Price:         r.Price,
		StopPrice:     r.StopPrice,
		OrigQty:       r.OrigQty,
		ExecutedQty:   r.ExecutedQty,
		AvgPrice:      r.AvgPrice,
	}
}

type twapSummary struct {
	Symbol       string          `json:"symbol"`
	Planned      int             `json:"planned"`
	Completed    int             `json:"completed"`
	Outcome      trader.Outcome  `json:"outcome"`
	ExecutedQty  decimal.Decimal `json:"executedQty"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
	OrderIDs     []int64         `json:"orderIds"`
}

func newTWAPSummary(r *trader.TWAPResult) *twapSummary {
	ids := make([]int64, 0, len(r.Orders))
	for _, o := range r.Orders {
		ids = append(ids, o.OrderID)
	}
	return &twapSummary{
		Symbol:       r.Symbol,
		Planned:      r.Planned,
		Completed:    r.Completed,
		Outcome:      r.Outcome,
		ExecutedQty:  r.ExecutedQty(),
		AveragePrice: r.AveragePrice(),
		OrderIDs:     ids,
	}
}

type bracketSummary struct {
	ID               string             `json:"id"`
	Symbol           string             `json:"symbol"`
	TakeProfitID     int64              `json:"takeProfitOrderId"`
	StopLossID       int64              `json:"stopLossOrderId"`
	TakeProfitStatus models.OrderStatus `json:"takeProfitStatus"`
	StopLossStatus   models.OrderStatus `json:"stopLossStatus"`
	Outcome          trader.Outcome     `json:"outcome,omitempty"`
}

func newBracketSummary(b *trader.Bracket) *bracketSummary {
	return &bracketSummary{
		ID:               b.ID,
		Symbol:           b.Symbol,
		TakeProfitID:     b.TakeProfit.OrderID,
		StopLossID:       b.StopLoss.OrderID,
		TakeProfitStatus: b.TakeProfit.Status,
		StopLossStatus:   b.StopLoss.Status,
	}
}

func newBracketResultSummary(r *trader.BracketResult) *bracketSummary {
	s := newBracketSummary(r.Bracket)
	s.TakeProfitStatus = r.TakeProfitStatus
	s.StopLossStatus = r.StopLossStatus
	s.Outcome = r.Outcome
	return s
}

type levelSummary struct {
	Index   int                `json:"index"`
	Price   decimal.Decimal    `json:"price"`
	Side    models.OrderSide   `json:"side,omitempty"`
	Status  trader.LevelStatus `json:"status"`
	OrderID int64              `json:"orderId,omitempty"`
	Error   string             `json:"error,omitempty"`
}

type gridSummary struct {
	Symbol string         `json:"symbol"`
	Placed int            `json:"placed"`
	Failed int            `json:"failed"`
	Levels []levelSummary `json:"levels"`
}

func newGridSummary(r *trader.GridResult) *gridSummary {
	s := &gridSummary{
		Symbol: r.Symbol,
		Placed: len(r.Placed()),
		Failed: len(r.Failed()),
		Levels: make([]levelSummary, 0, len(r.Levels)),
	}
	for _, l := range r.Levels {
		ls := levelSummary{Index: l.Index, Price: l.Price, Side: l.Side, Status: l.Status}
		if l.Order != nil {
			ls.OrderID = l.Order.OrderID
		}
		if l.Err != nil {
			ls.Error = l.Err.Error()
		}
		s.Levels = append(s.Levels, ls)
	}
	return s
}

type gridStatusResponse struct {
	Symbol    string `json:"symbol"`
	TotalOpen int    `json:"totalOpen"`
	BuyCount  int    `json:"buyCount"`
	SellCount int    `json:"sellCount"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
