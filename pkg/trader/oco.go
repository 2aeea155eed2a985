package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregtusar/futures-trader/pkg/binance"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrBracketPlacement = errors.New("bracket placement failed")
	ErrOrphanedLeg      = errors.New("bracket leg orphaned")
	ErrMonitorAborted   = errors.New("bracket monitor aborted")
	ErrCancelFailed     = errors.New("failed to cancel sibling leg")
)

const rollbackTimeout = 15 * time.Second

// OrphanedLegError reports a leg that is still live on the exchange after a
// failed placement and must be reconciled by hand.
type OrphanedLegError struct {
	Symbol  string
	OrderID int64
	Err     error
}

func (e *OrphanedLegError) Error() string {
	return fmt.Sprintf("order %d on %s left live: %v", e.OrderID, e.Symbol, e.Err)
}

func (e *OrphanedLegError) Unwrap() []error {
	return []error{ErrOrphanedLeg, e.Err}
}

type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeAborted     Outcome = "aborted"
	OutcomeFailed      Outcome = "failed"
)

type BracketParams struct {
	Symbol     string
	Side       models.OrderSide
	Quantity   decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	// StopLimit turns the stop-loss leg into a stop-limit order at this price.
	StopLimit    *decimal.Decimal
	ReduceOnly   bool
	PositionSide string
}

type Bracket struct {
	ID         string
	Symbol     string
	TakeProfit models.OrderRecord
	StopLoss   models.OrderRecord
}

type BracketResult struct {
	Bracket          *Bracket
	TakeProfitStatus models.OrderStatus
	StopLossStatus   models.OrderStatus
	Outcome          Outcome
}

func (p BracketParams) legs() (tp, sl models.OrderRequest) {
	tp = models.OrderRequest{
		Symbol:       p.Symbol,
		Side:         p.Side,
		Type:         models.OrderTypeLimit,
		Quantity:     p.Quantity,
		Price:        models.Dec(p.TakeProfit),
		TimeInForce:  models.TimeInForceGTC,
		ReduceOnly:   p.ReduceOnly,
		PositionSide: p.PositionSide,
	}
	sl = models.OrderRequest{
		Symbol:       p.Symbol,
		Side:         p.Side,
		Type:         models.OrderTypeStopMarket,
		Quantity:     p.Quantity,
		StopPrice:    models.Dec(p.StopLoss),
		ReduceOnly:   p.ReduceOnly,
		PositionSide: p.PositionSide,
	}
	if p.StopLimit != nil {
		sl.Type = models.OrderTypeStop
		sl.Price = models.Dec(*p.StopLimit)
		sl.TimeInForce = models.TimeInForceGTC
	}
	return tp, sl
}

// PlaceBracket submits the take-profit leg, then the stop-loss leg. Both legs
// are validated before anything is sent. If the second leg fails the first is
// cancelled; if that cancel fails too the error carries an OrphanedLegError.
func (t *Trader) PlaceBracket(ctx context.Context, p BracketParams) (*Bracket, error) {
	p.Symbol = strings.ToUpper(p.Symbol)
	if err := checkOrderBasics(p.Symbol, p.Side); err != nil {
		return nil, err
	}

	filters, err := t.gateway.GetInstrumentFilters(ctx, p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get filters for %s: %w", p.Symbol, err)
	}

	tpReq, slReq := p.legs()
	if err := validator.Validate(tpReq, *filters); err != nil {
		return nil, err
	}
	if err := validator.Validate(slReq, *filters); err != nil {
		return nil, err
	}

	tp, err := t.submitValidated(ctx, tpReq, *filters)
	if err != nil {
		return nil, fmt.Errorf("%w: take-profit leg: %w", ErrBracketPlacement, err)
	}

	sl, err := t.submitValidated(ctx, slReq, *filters)
	if err != nil {
		placeErr := fmt.Errorf("%w: stop-loss leg: %w", ErrBracketPlacement, err)

		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		_, cerr := t.gateway.CancelOrder(rollbackCtx, p.Symbol, tp.OrderID)
		if cerr == nil || errors.Is(cerr, binance.ErrNotCancelable) {
			t.logger.WithField("order_id", tp.OrderID).Warn("Rolled back take-profit leg")
			return nil, placeErr
		}

		t.logger.WithError(cerr).WithField("order_id", tp.OrderID).Error("Take-profit leg orphaned")
		return nil, multierr.Combine(placeErr, &OrphanedLegError{Symbol: p.Symbol, OrderID: tp.OrderID, Err: cerr})
	}

	b := &Bracket{
		ID:         fmt.Sprintf("oco_%d_%d", tp.OrderID, sl.OrderID),
		Symbol:     p.Symbol,
		TakeProfit: *tp,
		StopLoss:   *sl,
	}
	t.logger.WithFields(logrus.Fields{
		"bracket_id": b.ID,
		"symbol":     b.Symbol,
	}).Info("Bracket placed")
	return b, nil
}

// RunOCO places a bracket and monitors it until one leg resolves.
func (t *Trader) RunOCO(ctx context.Context, p BracketParams, updates <-chan models.OrderUpdate) (*BracketResult, error) {
	b, err := t.PlaceBracket(ctx, p)
	if err != nil {
		return nil, err
	}
	return t.MonitorBracket(ctx, b, updates)
}

type bracketMonitor struct {
	t              *Trader
	b              *Bracket
	tp             models.OrderStatus
	sl             models.OrderStatus
	pollErrors     int
	cancelAttempts int
	log            *logrus.Entry
}

// MonitorBracket polls both legs until one is terminal, then cancels the
// other. updates is optional; a pushed update for either leg triggers an
// early poll. Cancelling ctx returns an interrupted result and no error.
func (t *Trader) MonitorBracket(ctx context.Context, b *Bracket, updates <-chan models.OrderUpdate) (*BracketResult, error) {
	m := &bracketMonitor{
		t:   t,
		b:   b,
		tp:  b.TakeProfit.Status,
		sl:  b.StopLoss.Status,
		log: t.logger.WithField("bracket_id", b.ID),
	}

	for {
		if m.tp.IsTerminal() && m.sl.IsTerminal() {
			m.log.WithFields(logrus.Fields{
				"take_profit": m.tp,
				"stop_loss":   m.sl,
			}).Info("Bracket resolved")
			return m.result(OutcomeCompleted), nil
		}

		if m.tp.IsTerminal() || m.sl.IsTerminal() {
			if ctx.Err() != nil {
				return m.result(OutcomeInterrupted), nil
			}
			if err := m.cancelSibling(ctx); err != nil {
				return m.result(OutcomeAborted), err
			}
			if m.tp.IsTerminal() && m.sl.IsTerminal() {
				continue
			}
		}

		if !m.wait(ctx, updates) {
			m.log.Info("Bracket monitor interrupted")
			return m.result(OutcomeInterrupted), nil
		}

		if err := m.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return m.result(OutcomeInterrupted), nil
			}
			return m.result(OutcomeAborted), err
		}
	}
}

func (m *bracketMonitor) result(outcome Outcome) *BracketResult {
	return &BracketResult{
		Bracket:          m.b,
		TakeProfitStatus: m.tp,
		StopLossStatus:   m.sl,
		Outcome:          outcome,
	}
}

// wait blocks for one poll interval or an update for either leg. It returns
// false when ctx is done.
func (m *bracketMonitor) wait(ctx context.Context, updates <-chan models.OrderUpdate) bool {
	timer := m.t.clock.After(m.t.settings.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if u.OrderID == m.b.TakeProfit.OrderID || u.OrderID == m.b.StopLoss.OrderID {
				return true
			}
		}
	}
}

// poll refreshes both leg statuses. Failures are retried on the next tick;
// only repeated non-transient failures end the monitor.
func (m *bracketMonitor) poll(ctx context.Context) error {
	gw := m.t.gateway
	tp, err := gw.QueryOrder(ctx, m.b.Symbol, m.b.TakeProfit.OrderID)
	var sl *models.OrderRecord
	if err == nil {
		sl, err = gw.QueryOrder(ctx, m.b.Symbol, m.b.StopLoss.OrderID)
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		if binance.IsTransient(err) {
			m.log.WithError(err).Warn("Transient error polling bracket, retrying next tick")
			return nil
		}
		m.pollErrors++
		m.log.WithError(err).WithField("consecutive_errors", m.pollErrors).Error("Failed to poll bracket")
		if limit := m.t.settings.MaxPollErrors; limit > 0 && m.pollErrors >= limit {
			return fmt.Errorf("%w after %d consecutive errors: %w", ErrMonitorAborted, m.pollErrors, err)
		}
		return nil
	}

	m.pollErrors = 0
	m.tp = tp.Status
	m.sl = sl.Status
	return nil
}

// cancelSibling cancels whichever leg is still open. A not-cancelable reply
// means the leg finished on its own; one re-query learns how.
func (m *bracketMonitor) cancelSibling(ctx context.Context) error {
	leg, status := &m.b.StopLoss, &m.sl
	if m.sl.IsTerminal() {
		leg, status = &m.b.TakeProfit, &m.tp
	}
	log := m.log.WithField("order_id", leg.OrderID)

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	rec, err := m.t.gateway.CancelOrder(cancelCtx, m.b.Symbol, leg.OrderID)
	switch {
	case err == nil:
		*status = rec.Status
		if *status == "" {
			*status = models.OrderStatusCanceled
		}
		log.WithField("status", *status).Info("Cancelled sibling leg")
		return nil

	case errors.Is(err, binance.ErrNotCancelable):
		log.Info("Sibling leg already closed, re-querying")
		q, qerr := m.t.gateway.QueryOrder(cancelCtx, m.b.Symbol, leg.OrderID)
		if qerr != nil {
			log.WithError(qerr).Warn("Failed to re-query sibling leg")
			return nil
		}
		*status = q.Status
		if q.Status.IsTerminal() {
			return nil
		}
		err = fmt.Errorf("exchange reports order still %s: %w", q.Status, err)
	}

	m.cancelAttempts++
	log.WithError(err).WithField("attempt", m.cancelAttempts).Error("Failed to cancel sibling leg")
	if m.cancelAttempts >= m.t.settings.MaxCancelAttempts {
		return fmt.Errorf("%w: order %d: %w", ErrCancelFailed, leg.OrderID, err)
	}
	return nil
}
