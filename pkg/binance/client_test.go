package binance

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-key"
	testSecret = "test-secret"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:    srv.URL,
		StreamURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:     testKey,
		APISecret:  testSecret,
		RateLimit:  1000,
		RateBurst:  100,
		MaxRetries: 2,
	}, quietLogger())
	require.NoError(t, err)
	return c
}

// verifySignature checks the signature the way the exchange does.
func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, testKey, r.Header.Get("X-MBX-APIKEY"))
	payload, sig, ok := strings.Cut(r.URL.RawQuery, "&signature=")
	if !assert.True(t, ok, "missing signature in %q", r.URL.RawQuery) {
		return
	}
	assert.Equal(t, computeHMAC(payload, []byte(testSecret)), sig)
	assert.Contains(t, payload, "timestamp=")
	assert.Contains(t, payload, "recvWindow=5000")
}

func TestComputeHMAC(t *testing.T) {
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		computeHMAC("The quick brown fox jumps over the lazy dog", []byte("key")))

	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	assert.Equal(t,
		"c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71",
		computeHMAC(query, []byte(secret)))
}

func TestEd25519Authenticator(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	auth, err := NewAuthenticator(Config{APIKey: "k", AuthType: "ed25519", PrivateKeyPEM: string(pemBytes)})
	require.NoError(t, err)

	sig, err := auth.Sign("symbol=BTCUSDT&timestamp=1")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte("symbol=BTCUSDT&timestamp=1"), raw))

	_, err = NewAuthenticator(Config{AuthType: "ed25519", PrivateKeyPEM: "not a pem"})
	assert.Error(t, err)
	_, err = NewAuthenticator(Config{AuthType: "rsa"})
	assert.Error(t, err)
}

func TestGetInstrumentFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
		io.WriteString(w, `{"symbols":[
			{"symbol":"ETHUSDT","filters":[{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"10000","stepSize":"0.001"}]},
			{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","minPrice":"556.80","maxPrice":"4529764","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
				{"filterType":"MARKET_LOT_SIZE","minQty":"0.001","maxQty":"120","stepSize":"0.001"},
				{"filterType":"MIN_NOTIONAL","notional":"100"}
			]}]}`)
	})

	f, err := c.GetInstrumentFilters(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", f.Symbol)
	assert.True(t, f.MinQty.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, f.MaxQty.Equal(decimal.RequireFromString("1000")))
	assert.True(t, f.StepSize.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, f.MinPrice.Equal(decimal.RequireFromString("556.8")))
	assert.True(t, f.TickSize.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, f.MinNotional.Equal(decimal.NewFromInt(100)))

	_, err = c.GetInstrumentFilters(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "exchangeInfo", gerr.Op)
	assert.False(t, gerr.IsTransient())
	assert.Contains(t, err.Error(), "DOGEUSDT")
}

func TestSubmitOrder_SignedLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		verifySignature(t, r)

		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "0.01", q.Get("quantity"))
		assert.Equal(t, "31000.5", q.Get("price"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "BOTH", q.Get("positionSide"))
		assert.Equal(t, "true", q.Get("reduceOnly"))
		assert.Empty(t, q.Get("stopPrice"))
		assert.NotEmpty(t, q.Get("newClientOrderId"))

		io.WriteString(w, `{"orderId":42,"clientOrderId":"abc","symbol":"BTCUSDT","side":"SELL","type":"LIMIT",
			"status":"NEW","price":"31000.5","stopPrice":"0","origQty":"0.01","executedQty":"0","avgPrice":"0.00",
			"timeInForce":"GTC","reduceOnly":true,"updateTime":1700000000000}`)
	})

	rec, err := c.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideSell,
		Type:       models.OrderTypeLimit,
		Quantity:   decimal.RequireFromString("0.01"),
		Price:      models.Dec(decimal.RequireFromString("31000.5")),
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.OrderID)
	assert.Equal(t, models.OrderStatusNew, rec.Status)
	assert.True(t, rec.Price.Equal(decimal.RequireFromString("31000.5")))
	assert.True(t, rec.ReduceOnly)
	assert.Equal(t, int64(1700000000000), rec.UpdateTime.UnixMilli())
}

func TestSubmitOrder_StopMarketParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "STOP_MARKET", q.Get("type"))
		assert.Equal(t, "29000", q.Get("stopPrice"))
		assert.Empty(t, q.Get("price"))
		assert.Empty(t, q.Get("timeInForce"))
		assert.Equal(t, "LONG", q.Get("positionSide"))
		assert.Equal(t, "mine-1", q.Get("newClientOrderId"))
		io.WriteString(w, `{"orderId":7,"status":"NEW","type":"STOP_MARKET"}`)
	})

	rec, err := c.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          models.OrderSideSell,
		Type:          models.OrderTypeStopMarket,
		Quantity:      decimal.RequireFromString("0.01"),
		StopPrice:     models.Dec(decimal.NewFromInt(29000)),
		PositionSide:  "LONG",
		ClientOrderID: "mine-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.OrderID)
}

func TestSubmitOrder_NeverRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "upstream unavailable")
	})

	_, err := c.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueryOrder_RetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		verifySignature(t, r)
		assert.Equal(t, "99", r.URL.Query().Get("orderId"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`)
			return
		}
		io.WriteString(w, `{"orderId":99,"status":"FILLED","executedQty":"0.5","avgPrice":"30000.1"}`)
	})

	rec, err := c.QueryOrder(context.Background(), "BTCUSDT", 99)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, rec.Status)
	assert.True(t, rec.AvgPrice.Equal(decimal.RequireFromString("30000.1")))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueryOrder_DoesNotRetryRejections(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-2013,"msg":"Order does not exist."}`)
	})

	_, err := c.QueryOrder(context.Background(), "BTCUSDT", 1)
	var gerr *GatewayError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, -2013, gerr.Code)
	assert.False(t, gerr.IsTransient())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCancelOrder_UnknownOrderIsNotCancelable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		verifySignature(t, r)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-2011,"msg":"Unknown order sent."}`)
	})

	_, err := c.CancelOrder(context.Background(), "BTCUSDT", 5)
	assert.ErrorIs(t, err, ErrNotCancelable)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "Unknown order sent.")
}

func TestListOpenOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/openOrders", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		io.WriteString(w, `[{"orderId":1,"side":"BUY","status":"NEW"},{"orderId":2,"side":"SELL","status":"NEW"}]`)
	})

	orders, err := c.ListOpenOrders(context.Background(), "btcusdt")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, models.OrderSideBuy, orders[0].Side)
	assert.Equal(t, models.OrderSideSell, orders[1].Side)
}

func TestGatewayError_IsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  *GatewayError
		want bool
	}{
		{"server error", &GatewayError{StatusCode: 502}, true},
		{"rate limited", &GatewayError{StatusCode: 429}, true},
		{"ip banned", &GatewayError{StatusCode: 418}, true},
		{"timestamp drift", &GatewayError{StatusCode: 400, Code: -1021}, true},
		{"too many requests code", &GatewayError{StatusCode: 400, Code: -1003}, true},
		{"bad request", &GatewayError{StatusCode: 400, Code: -1102}, false},
		{"unknown order", &GatewayError{StatusCode: 400, Code: -2011, Err: ErrNotCancelable}, false},
		{"canceled", &GatewayError{Err: context.Canceled}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.IsTransient())
		})
	}
	assert.False(t, IsTransient(errors.New("plain")))
}
