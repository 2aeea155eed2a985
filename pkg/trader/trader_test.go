package trader

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gregtusar/futures-trader/pkg/binance"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceLimit(t *testing.T) {
	gw := newFakeGateway(btcFilters())
	tr, _ := newTestTrader(gw, DefaultSettings())

	rec, err := tr.PlaceLimit(context.Background(), "btcusdt", models.OrderSideBuy, d("0.01"), d("30000.1"),
		OrderOptions{TimeInForce: models.TimeInForceIOC, ReduceOnly: true, PositionSide: "LONG"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.OrderID)

	require.Len(t, gw.submitted, 1)
	req := gw.submitted[0]
	assert.Equal(t, "BTCUSDT", req.Symbol)
	assert.Equal(t, models.TimeInForceIOC, req.TimeInForce)
	assert.True(t, req.ReduceOnly)
	assert.Equal(t, "LONG", req.PositionSide)
}

func TestPlaceMarket(t *testing.T) {
	gw := newFakeGateway(btcFilters())
	tr, _ := newTestTrader(gw, DefaultSettings())

	rec, err := tr.PlaceMarket(context.Background(), "BTCUSDT", models.OrderSideSell, d("0.002"), OrderOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, rec.Status)
	assert.Nil(t, gw.submitted[0].Price)
}

func TestPlaceStopLimit(t *testing.T) {
	gw := newFakeGateway(btcFilters())
	tr, _ := newTestTrader(gw, DefaultSettings())

	_, err := tr.PlaceStopLimit(context.Background(), "BTCUSDT", models.OrderSideSell, d("0.01"), d("29000"), d("29100"), OrderOptions{})
	require.NoError(t, err)
	req := gw.submitted[0]
	assert.Equal(t, models.OrderTypeStop, req.Type)
	assert.True(t, req.StopPrice.Equal(d("29100")))

	_, err = tr.PlaceStopLimit(context.Background(), "BTCUSDT", models.OrderSideSell, d("0.01"), d("29000"), d("29100.01"), OrderOptions{})
	var verr *validator.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "stopPrice", verr.Field)
	assert.Len(t, gw.submitted, 1)
}

func TestPlaceOrder_Preconditions(t *testing.T) {
	gw := newFakeGateway(btcFilters())
	tr, _ := newTestTrader(gw, DefaultSettings())
	ctx := context.Background()

	_, err := tr.PlaceMarket(ctx, "BTC/USDT", models.OrderSideBuy, d("1"), OrderOptions{})
	assert.Error(t, err)

	_, err = tr.PlaceMarket(ctx, "BTCUSDT", models.OrderSide("LONG"), d("1"), OrderOptions{})
	assert.Error(t, err)

	_, err = tr.PlaceLimit(ctx, "BTCUSDT", models.OrderSideBuy, d("1"), d("30000"), OrderOptions{TimeInForce: "GTX"})
	var verr *validator.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "timeInForce", verr.Field)

	assert.Empty(t, gw.submitted)
}

func TestPlaceOrder_UnknownSymbol(t *testing.T) {
	gw := newFakeGateway(btcFilters())
	gw.filtersErr = fmt.Errorf("%w: XYZUSDT", binance.ErrSymbolNotFound)
	tr, _ := newTestTrader(gw, DefaultSettings())

	_, err := tr.PlaceMarket(context.Background(), "XYZUSDT", models.OrderSideBuy, d("1"), OrderOptions{})
	assert.ErrorIs(t, err, binance.ErrSymbolNotFound)
	assert.Empty(t, gw.submitted)
}

func TestNew_Defaults(t *testing.T) {
	tr := New(newFakeGateway(btcFilters()), Settings{}, nil)
	s := tr.Settings()
	assert.Equal(t, DefaultSettings().PollInterval, s.PollInterval)
	assert.Equal(t, 5, s.MaxCancelAttempts)
	assert.Equal(t, 10, s.DefaultTWAPSlices)
	assert.Equal(t, 0, s.MaxPollErrors)
}
