package trader

import (
	"context"
	"fmt"
	"strings"

	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type GridMode string

const (
	GridModeBoth GridMode = "BOTH"
	GridModeBuy  GridMode = "BUY"
	GridModeSell GridMode = "SELL"
)

func ParseGridMode(s string) (GridMode, error) {
	switch m := GridMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "", "NEUTRAL":
		return GridModeBoth, nil
	case "LONG_ONLY":
		return GridModeBuy, nil
	case GridModeBoth, GridModeBuy, GridModeSell:
		return m, nil
	}
	return "", &validator.ValidationError{Field: "mode", Observed: s, Reason: "must be", Required: "BOTH, BUY or SELL"}
}

type GridLevel struct {
	Index int
	Price decimal.Decimal
	Side  models.OrderSide
	Skip  bool
}

// BuildLevels returns count evenly spaced prices from lower to upper inclusive.
func BuildLevels(lower, upper decimal.Decimal, count int) ([]decimal.Decimal, error) {
	if !upper.GreaterThan(lower) {
		return nil, &validator.ValidationError{Field: "upperPrice", Observed: upper.String(), Reason: "must exceed lower", Required: lower.String()}
	}
	if count < 2 {
		return nil, &validator.ValidationError{Field: "levels", Observed: fmt.Sprint(count), Reason: "must be >=", Required: "2"}
	}

	step := upper.Sub(lower).Div(decimal.NewFromInt(int64(count - 1)))
	levels := make([]decimal.Decimal, count)
	for i := range levels {
		levels[i] = lower.Add(step.Mul(decimal.NewFromInt(int64(i))))
	}
	// pin the top so a non-terminating step cannot leave it short of upper
	levels[count-1] = upper
	return levels, nil
}

// PlanGrid assigns a side to each level. In BOTH mode the midpoint level
// (count/2) is skipped.
func PlanGrid(levels []decimal.Decimal, mode GridMode) []GridLevel {
	mid := len(levels) / 2
	plan := make([]GridLevel, len(levels))
	for i, price := range levels {
		lvl := GridLevel{Index: i, Price: price}
		switch mode {
		case GridModeBuy:
			lvl.Side = models.OrderSideBuy
		case GridModeSell:
			lvl.Side = models.OrderSideSell
		default:
			switch {
			case i < mid:
				lvl.Side = models.OrderSideBuy
			case i > mid:
				lvl.Side = models.OrderSideSell
			default:
				lvl.Skip = true
			}
		}
		plan[i] = lvl
	}
	return plan
}

type GridParams struct {
	Symbol       string
	Lower        decimal.Decimal
	Upper        decimal.Decimal
	Levels       int
	Quantity     decimal.Decimal
	Mode         GridMode
	ReduceOnly   bool
	PositionSide string
}

type LevelStatus string

const (
	LevelPlaced  LevelStatus = "placed"
	LevelFailed  LevelStatus = "failed"
	LevelSkipped LevelStatus = "skipped"
)

type LevelOutcome struct {
	Index  int
	Price  decimal.Decimal
	Side   models.OrderSide
	Status LevelStatus
	Order  *models.OrderRecord
	Err    error
}

type GridResult struct {
	Symbol string
	Levels []LevelOutcome
}

func (r *GridResult) Placed() []LevelOutcome {
	return r.filter(LevelPlaced)
}

func (r *GridResult) Failed() []LevelOutcome {
	return r.filter(LevelFailed)
}

func (r *GridResult) filter(status LevelStatus) []LevelOutcome {
	var out []LevelOutcome
	for _, l := range r.Levels {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

// CreateGrid places one GTC limit order per planned level. It is best effort:
// a failed level is recorded and the remaining levels are still attempted.
// Nothing already placed is rolled back.
func (t *Trader) CreateGrid(ctx context.Context, p GridParams) (*GridResult, error) {
	p.Symbol = strings.ToUpper(p.Symbol)
	if err := validator.ValidateSymbol(p.Symbol); err != nil {
		return nil, err
	}
	for _, v := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"quantity", p.Quantity},
		{"lowerPrice", p.Lower},
		{"upperPrice", p.Upper},
	} {
		if err := validator.ValidatePositive(v.name, v.value); err != nil {
			return nil, err
		}
	}
	if p.Mode == "" {
		p.Mode = GridModeBoth
	}
	if p.Levels > t.settings.MaxGridLevels {
		return nil, &validator.ValidationError{Field: "levels", Observed: fmt.Sprint(p.Levels), Reason: "must be <=", Required: fmt.Sprint(t.settings.MaxGridLevels)}
	}

	levels, err := BuildLevels(p.Lower, p.Upper, p.Levels)
	if err != nil {
		return nil, err
	}

	filters, err := t.gateway.GetInstrumentFilters(ctx, p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get filters for %s: %w", p.Symbol, err)
	}

	log := t.logger.WithFields(logrus.Fields{
		"symbol": p.Symbol,
		"levels": p.Levels,
		"mode":   p.Mode,
	})
	log.Info("Creating grid")

	result := &GridResult{Symbol: p.Symbol}
	for _, lvl := range PlanGrid(levels, p.Mode) {
		outcome := LevelOutcome{Index: lvl.Index, Price: lvl.Price, Side: lvl.Side}
		if lvl.Skip {
			outcome.Status = LevelSkipped
			result.Levels = append(result.Levels, outcome)
			continue
		}
		if err := ctx.Err(); err != nil {
			log.WithField("index", lvl.Index).Warn("Grid interrupted")
			break
		}

		req := models.OrderRequest{
			Symbol:       p.Symbol,
			Side:         lvl.Side,
			Type:         models.OrderTypeLimit,
			Quantity:     p.Quantity,
			Price:        models.Dec(lvl.Price),
			TimeInForce:  models.TimeInForceGTC,
			ReduceOnly:   p.ReduceOnly,
			PositionSide: p.PositionSide,
		}
		rec, err := t.submitValidated(ctx, req, *filters)
		if err != nil {
			outcome.Status = LevelFailed
			outcome.Err = err
			log.WithError(err).WithField("index", lvl.Index).Warn("Grid level failed")
		} else {
			outcome.Status = LevelPlaced
			outcome.Order = rec
		}
		result.Levels = append(result.Levels, outcome)
	}

	log.WithFields(logrus.Fields{
		"placed": len(result.Placed()),
		"failed": len(result.Failed()),
	}).Info("Grid created")
	return result, nil
}

type GridSnapshot struct {
	Symbol    string
	TotalOpen int
	BuyCount  int
	SellCount int
}

// GridStatus counts the symbol's currently open orders. It is not reconciled
// against any previously placed grid.
func (t *Trader) GridStatus(ctx context.Context, symbol string) (*GridSnapshot, error) {
	symbol = strings.ToUpper(symbol)
	if err := validator.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	orders, err := t.gateway.ListOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders for %s: %w", symbol, err)
	}

	snap := &GridSnapshot{Symbol: symbol, TotalOpen: len(orders)}
	for _, o := range orders {
		switch o.Side {
		case models.OrderSideBuy:
			snap.BuyCount++
		case models.OrderSideSell:
			snap.SellCount++
		}
	}
	return snap, nil
}
