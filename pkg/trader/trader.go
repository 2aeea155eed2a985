// Package trader implements the execution strategies: single orders, grids,
// OCO brackets and TWAP schedules. Every order is validated against the
// instrument filters before it reaches the gateway.
package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Gateway is the exchange surface the strategies depend on.
type Gateway interface {
	GetInstrumentFilters(ctx context.Context, symbol string) (*models.InstrumentFilters, error)
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderRecord, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderRecord, error)
	QueryOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderRecord, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]models.OrderRecord, error)
}

type Settings struct {
	PollInterval      time.Duration
	MaxPollErrors     int
	MaxCancelAttempts int
	DefaultTWAPSlices int
	MaxGridLevels     int
}

func DefaultSettings() Settings {
	return Settings{
		PollInterval:      2 * time.Second,
		MaxPollErrors:     10,
		MaxCancelAttempts: 5,
		DefaultTWAPSlices: 10,
		MaxGridLevels:     200,
	}
}

type Trader struct {
	gateway  Gateway
	clock    Clock
	settings Settings
	logger   *logrus.Logger
}

func New(gateway Gateway, settings Settings, logger *logrus.Logger) *Trader {
	defaults := DefaultSettings()
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaults.PollInterval
	}
	if settings.MaxCancelAttempts <= 0 {
		settings.MaxCancelAttempts = defaults.MaxCancelAttempts
	}
	if settings.DefaultTWAPSlices <= 0 {
		settings.DefaultTWAPSlices = defaults.DefaultTWAPSlices
	}
	if settings.MaxGridLevels <= 0 {
		settings.MaxGridLevels = defaults.MaxGridLevels
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trader{
		gateway:  gateway,
		clock:    RealClock{},
		settings: settings,
		logger:   logger,
	}
}

// WithClock replaces the time source, mainly for tests.
func (t *Trader) WithClock(c Clock) *Trader {
	t.clock = c
	return t
}

func (t *Trader) Settings() Settings {
	return t.settings
}

// OrderOptions are the pass-through flags shared by the single-order entry points.
type OrderOptions struct {
	TimeInForce  models.TimeInForce
	ReduceOnly   bool
	PositionSide string
}

func (t *Trader) PlaceMarket(ctx context.Context, symbol string, side models.OrderSide, qty decimal.Decimal, opts OrderOptions) (*models.OrderRecord, error) {
	return t.PlaceOrder(ctx, models.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Type:         models.OrderTypeMarket,
		Quantity:     qty,
		ReduceOnly:   opts.ReduceOnly,
		PositionSide: opts.PositionSide,
	})
}

func (t *Trader) PlaceLimit(ctx context.Context, symbol string, side models.OrderSide, qty, price decimal.Decimal, opts OrderOptions) (*models.OrderRecord, error) {
	return t.PlaceOrder(ctx, models.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Type:         models.OrderTypeLimit,
		Quantity:     qty,
		Price:        models.Dec(price),
		TimeInForce:  opts.TimeInForce,
		ReduceOnly:   opts.ReduceOnly,
		PositionSide: opts.PositionSide,
	})
}

func (t *Trader) PlaceStopLimit(ctx context.Context, symbol string, side models.OrderSide, qty, price, stopPrice decimal.Decimal, opts OrderOptions) (*models.OrderRecord, error) {
	return t.PlaceOrder(ctx, models.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Type:         models.OrderTypeStop,
		Quantity:     qty,
		Price:        models.Dec(price),
		StopPrice:    models.Dec(stopPrice),
		TimeInForce:  opts.TimeInForce,
		ReduceOnly:   opts.ReduceOnly,
		PositionSide: opts.PositionSide,
	})
}

// PlaceOrder checks preconditions, fetches filters, validates and submits a
// single order.
func (t *Trader) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderRecord, error) {
	req.Symbol = strings.ToUpper(req.Symbol)
	if err := checkOrderBasics(req.Symbol, req.Side); err != nil {
		return nil, err
	}
	if req.TimeInForce != "" && !req.TimeInForce.Valid() {
		return nil, &validator.ValidationError{Field: "timeInForce", Observed: string(req.TimeInForce), Reason: "must be", Required: "GTC, IOC or FOK"}
	}

	filters, err := t.gateway.GetInstrumentFilters(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get filters for %s: %w", req.Symbol, err)
	}
	return t.submitValidated(ctx, req, *filters)
}

func (t *Trader) submitValidated(ctx context.Context, req models.OrderRequest, filters models.InstrumentFilters) (*models.OrderRecord, error) {
	if err := validator.Validate(req, filters); err != nil {
		return nil, err
	}

	rec, err := t.gateway.SubmitOrder(ctx, req)
	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"symbol": req.Symbol,
			"side":   req.Side,
			"type":   req.Type,
		}).Error("Failed to submit order")
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"symbol":   rec.Symbol,
		"order_id": rec.OrderID,
		"side":     req.Side,
		"type":     req.Type,
		"quantity": req.Quantity.String(),
		"status":   rec.Status,
	}).Info("Order submitted")
	return rec, nil
}

func checkOrderBasics(symbol string, side models.OrderSide) error {
	if err := validator.ValidateSymbol(symbol); err != nil {
		return err
	}
	return validator.ValidateSide(side)
}
