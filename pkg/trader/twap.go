package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type TWAPParams struct {
	Symbol        string
	Side          models.OrderSide
	TotalQuantity decimal.Decimal
	Duration      time.Duration
	Slices        int
	ReduceOnly    bool
	PositionSide  string
}

type TWAPResult struct {
	Symbol    string
	Orders    []models.OrderRecord
	Completed int
	Planned   int
	Outcome   Outcome
}

// ExecutedQty sums the filled quantity across all submitted slices.
func (r *TWAPResult) ExecutedQty() decimal.Decimal {
	total := decimal.Zero
	for _, o := range r.Orders {
		total = total.Add(o.ExecutedQty)
	}
	return total
}

// AveragePrice is the fill-weighted average price, or zero if nothing filled.
func (r *TWAPResult) AveragePrice() decimal.Decimal {
	notional := decimal.Zero
	qty := decimal.Zero
	for _, o := range r.Orders {
		if !o.ExecutedQty.IsPositive() {
			continue
		}
		notional = notional.Add(o.ExecutedQty.Mul(o.AvgPrice))
		qty = qty.Add(o.ExecutedQty)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// SliceError is returned when slice Slice (1-based) fails. Completed slices
// before it were submitted and are not undone.
type SliceError struct {
	Slice     int
	Completed int
	Err       error
}

func (e *SliceError) Error() string {
	return fmt.Sprintf("twap slice %d failed after %d completed: %v", e.Slice, e.Completed, e.Err)
}

func (e *SliceError) Unwrap() error {
	return e.Err
}

// ExecuteTWAP splits TotalQuantity into Slices equal market orders spread
// evenly over Duration. Cancelling ctx between slices, or while a slice is
// being submitted, stops the schedule and yields an interrupted result with a
// nil error.
func (t *Trader) ExecuteTWAP(ctx context.Context, p TWAPParams) (*TWAPResult, error) {
	p.Symbol = strings.ToUpper(p.Symbol)
	if err := checkOrderBasics(p.Symbol, p.Side); err != nil {
		return nil, err
	}
	if err := validator.ValidatePositive("totalQuantity", p.TotalQuantity); err != nil {
		return nil, err
	}
	if p.Duration <= 0 {
		return nil, &validator.ValidationError{Field: "duration", Observed: p.Duration.String(), Reason: "must be >", Required: "0"}
	}
	if p.Slices == 0 {
		p.Slices = t.settings.DefaultTWAPSlices
	}
	if p.Slices < 1 {
		return nil, &validator.ValidationError{Field: "slices", Observed: fmt.Sprint(p.Slices), Reason: "must be >=", Required: "1"}
	}

	qtyPerSlice := p.TotalQuantity.Div(decimal.NewFromInt(int64(p.Slices)))
	interval := p.Duration / time.Duration(p.Slices)

	filters, err := t.gateway.GetInstrumentFilters(ctx, p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get filters for %s: %w", p.Symbol, err)
	}

	log := t.logger.WithFields(logrus.Fields{
		"symbol":        p.Symbol,
		"side":          p.Side,
		"slices":        p.Slices,
		"qty_per_slice": qtyPerSlice.String(),
		"interval":      interval.String(),
	})
	log.Info("Starting TWAP")

	result := &TWAPResult{Symbol: p.Symbol, Planned: p.Slices, Outcome: OutcomeCompleted}
	for i := 0; i < p.Slices; i++ {
		if ctx.Err() != nil {
			result.Outcome = OutcomeInterrupted
			log.WithField("completed", result.Completed).Warn("TWAP interrupted")
			return result, nil
		}

		req := models.OrderRequest{
			Symbol:       p.Symbol,
			Side:         p.Side,
			Type:         models.OrderTypeMarket,
			Quantity:     qtyPerSlice,
			ReduceOnly:   p.ReduceOnly,
			PositionSide: p.PositionSide,
		}
		rec, err := t.submitValidated(ctx, req, *filters)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				result.Outcome = OutcomeInterrupted
				log.WithField("completed", result.Completed).Warn("TWAP interrupted during slice submission")
				return result, nil
			}
			result.Outcome = OutcomeFailed
			return result, &SliceError{Slice: i + 1, Completed: result.Completed, Err: err}
		}
		result.Orders = append(result.Orders, *rec)
		result.Completed++
		log.WithFields(logrus.Fields{
			"slice":    i + 1,
			"order_id": rec.OrderID,
		}).Info("TWAP slice submitted")

		if i == p.Slices-1 {
			break
		}
		select {
		case <-ctx.Done():
			result.Outcome = OutcomeInterrupted
			log.WithField("completed", result.Completed).Warn("TWAP interrupted")
			return result, nil
		case <-t.clock.After(interval):
		}
	}

	log.WithField("executed_qty", result.ExecutedQty().String()).Info("TWAP completed")
	return result, nil
}
