package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gregtusar/futures-trader/pkg/binance"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twapFilters() models.InstrumentFilters {
	return models.InstrumentFilters{MinQty: d("0.1"), StepSize: d("0.1")}
}

func TestExecuteTWAP_EvenSlices(t *testing.T) {
	gw := newFakeGateway(twapFilters())
	gw.fillPrice = d("100")
	tr, clock := newTestTrader(gw, DefaultSettings())

	res, err := tr.ExecuteTWAP(context.Background(), TWAPParams{
		Symbol:        "ETHUSDT",
		Side:          models.OrderSideBuy,
		TotalQuantity: d("10"),
		Duration:      4 * time.Minute,
		Slices:        4,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 4, res.Completed)
	assert.Equal(t, 4, res.Planned)

	require.Len(t, gw.submitted, 4)
	for _, req := range gw.submitted {
		assert.Equal(t, models.OrderTypeMarket, req.Type)
		assert.True(t, req.Quantity.Equal(d("2.5")), req.Quantity.String())
	}
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, clock.Waits())

	assert.True(t, res.ExecutedQty().Equal(d("10")))
	assert.True(t, res.AveragePrice().Equal(d("100")))
}

func TestExecuteTWAP_InterruptAfterSecondSlice(t *testing.T) {
	gw := newFakeGateway(twapFilters())
	tr, clock := newTestTrader(gw, DefaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.block = func(n int) bool {
		if n == 2 {
			cancel()
			return true
		}
		return false
	}

	res, err := tr.ExecuteTWAP(ctx, TWAPParams{
		Symbol:        "ETHUSDT",
		Side:          models.OrderSideSell,
		TotalQuantity: d("10"),
		Duration:      time.Hour,
		Slices:        4,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInterrupted, res.Outcome)
	assert.Equal(t, 2, res.Completed)
	assert.Len(t, res.Orders, 2)
	assert.Len(t, gw.submitted, 2)
}

func TestExecuteTWAP_SliceFailureAborts(t *testing.T) {
	gw := newFakeGateway(twapFilters())
	gw.submitErrs[2] = errTransient
	tr, clock := newTestTrader(gw, DefaultSettings())

	res, err := tr.ExecuteTWAP(context.Background(), TWAPParams{
		Symbol:        "ETHUSDT",
		Side:          models.OrderSideBuy,
		TotalQuantity: d("10"),
		Duration:      time.Hour,
		Slices:        4,
	})
	var serr *SliceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 3, serr.Slice)
	assert.Equal(t, 2, serr.Completed)
	assert.ErrorIs(t, err, errTransient)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 2, res.Completed)
	assert.Len(t, gw.submitted, 3)
	assert.Len(t, clock.Waits(), 2)
}

func TestExecuteTWAP_InterruptDuringSubmit(t *testing.T) {
	gw := newFakeGateway(twapFilters())
	tr, _ := newTestTrader(gw, DefaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.onSubmit = func(n int) error {
		if n == 2 {
			cancel()
			return &binance.GatewayError{Op: "submitOrder", Err: ctx.Err()}
		}
		return nil
	}

	res, err := tr.ExecuteTWAP(ctx, TWAPParams{
		Symbol:        "ETHUSDT",
		Side:          models.OrderSideBuy,
		TotalQuantity: d("10"),
		Duration:      time.Hour,
		Slices:        4,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInterrupted, res.Outcome)
	assert.Equal(t, 2, res.Completed)
	assert.Len(t, res.Orders, 2)
	assert.Len(t, gw.submitted, 3)
}

func TestExecuteTWAP_SliceValidation(t *testing.T) {
	gw := newFakeGateway(twapFilters())
	tr, _ := newTestTrader(gw, DefaultSettings())

	// 1 / 3 is not a multiple of the 0.1 step
	_, err := tr.ExecuteTWAP(context.Background(), TWAPParams{
		Symbol:        "ETHUSDT",
		Side:          models.OrderSideBuy,
		TotalQuantity: d("1"),
		Duration:      time.Minute,
		Slices:        3,
	})
	var serr *SliceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 1, serr.Slice)
	var verr *validator.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, gw.submitted)
}

func TestExecuteTWAP_Preconditions(t *testing.T) {
	gw := newFakeGateway(twapFilters())
	tr, _ := newTestTrader(gw, DefaultSettings())
	ctx := context.Background()

	base := TWAPParams{Symbol: "ETHUSDT", Side: models.OrderSideBuy, TotalQuantity: d("1"), Duration: time.Minute, Slices: 2}

	p := base
	p.TotalQuantity = d("0")
	_, err := tr.ExecuteTWAP(ctx, p)
	assert.Error(t, err)

	p = base
	p.Duration = 0
	_, err = tr.ExecuteTWAP(ctx, p)
	assert.Error(t, err)

	p = base
	p.Slices = -1
	_, err = tr.ExecuteTWAP(ctx, p)
	assert.Error(t, err)

	p = base
	p.Side = "HOLD"
	_, err = tr.ExecuteTWAP(ctx, p)
	assert.Error(t, err)

	assert.Empty(t, gw.submitted)
}

func TestExecuteTWAP_DefaultSlices(t *testing.T) {
	gw := newFakeGateway(twapFilters())
	tr, clock := newTestTrader(gw, DefaultSettings())

	res, err := tr.ExecuteTWAP(context.Background(), TWAPParams{
		Symbol:        "ETHUSDT",
		Side:          models.OrderSideBuy,
		TotalQuantity: d("1"),
		Duration:      10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Completed)
	assert.Len(t, clock.Waits(), 9)
	assert.Equal(t, time.Second, clock.Waits()[0])
}
