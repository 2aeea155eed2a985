package trader

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gregtusar/futures-trader/pkg/binance"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type step struct {
	status models.OrderStatus
	err    error
}

// fakeGateway replays scripted responses. For query and cancel scripts the
// last step repeats once the script is exhausted.
type fakeGateway struct {
	mu sync.Mutex

	filters    models.InstrumentFilters
	filtersErr error

	submitErrs map[int]error
	onSubmit   func(n int) error
	submitted  []models.OrderRequest
	nextID     int64
	fillPrice  decimal.Decimal

	queries map[int64][]step
	cancels map[int64][]step

	queryCalls  map[int64]int
	cancelCalls []int64
	open        []models.OrderRecord
}

func newFakeGateway(filters models.InstrumentFilters) *fakeGateway {
	return &fakeGateway{
		filters:    filters,
		submitErrs: map[int]error{},
		queries:    map[int64][]step{},
		cancels:    map[int64][]step{},
		queryCalls: map[int64]int{},
	}
}

func (g *fakeGateway) GetInstrumentFilters(ctx context.Context, symbol string) (*models.InstrumentFilters, error) {
	if g.filtersErr != nil {
		return nil, g.filtersErr
	}
	f := g.filters
	f.Symbol = symbol
	return &f, nil
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.submitted)
	g.submitted = append(g.submitted, req)
	if err := g.submitErrs[n]; err != nil {
		return nil, err
	}
	if g.onSubmit != nil {
		if err := g.onSubmit(n); err != nil {
			return nil, err
		}
	}

	g.nextID++
	rec := &models.OrderRecord{
		OrderID: g.nextID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Type:    req.Type,
		Status:  models.OrderStatusNew,
		OrigQty: req.Quantity,
	}
	if req.Type == models.OrderTypeMarket {
		rec.Status = models.OrderStatusFilled
		rec.ExecutedQty = req.Quantity
		rec.AvgPrice = g.fillPrice
	}
	return rec, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancelCalls = append(g.cancelCalls, orderID)
	s := next(g.cancels, orderID, step{status: models.OrderStatusCanceled})
	if s.err != nil {
		return nil, s.err
	}
	return &models.OrderRecord{OrderID: orderID, Symbol: symbol, Status: s.status}, nil
}

func (g *fakeGateway) QueryOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queryCalls[orderID]++
	s := next(g.queries, orderID, step{status: models.OrderStatusNew})
	if s.err != nil {
		return nil, s.err
	}
	return &models.OrderRecord{OrderID: orderID, Symbol: symbol, Status: s.status}, nil
}

func (g *fakeGateway) ListOpenOrders(ctx context.Context, symbol string) ([]models.OrderRecord, error) {
	return g.open, nil
}

func next(script map[int64][]step, id int64, def step) step {
	steps := script[id]
	if len(steps) == 0 {
		return def
	}
	s := steps[0]
	if len(steps) > 1 {
		script[id] = steps[1:]
	}
	return s
}

// fakeClock fires every wait immediately unless block returns true for the
// n-th wait, in which case that wait never fires.
type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
	block func(n int) bool
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	n := len(c.waits)
	c.mu.Unlock()

	if c.block != nil && c.block(n) {
		return make(chan time.Time)
	}
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) Now() time.Time { return time.Time{} }

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestTrader(gw Gateway, settings Settings) (*Trader, *fakeClock) {
	clock := &fakeClock{}
	return New(gw, settings, quietLogger()).WithClock(clock), clock
}

var (
	errTransient = &binance.GatewayError{Op: "queryOrder", StatusCode: 503, Msg: "unavailable"}
	errRejected  = &binance.GatewayError{Op: "queryOrder", StatusCode: 400, Code: -2013, Msg: "Order does not exist."}
	errUnknown   = &binance.GatewayError{Op: "cancelOrder", StatusCode: 400, Code: -2011, Msg: "Unknown order sent.", Err: binance.ErrNotCancelable}
)

func btcFilters() models.InstrumentFilters {
	return models.InstrumentFilters{
		MinQty:      d("0.001"),
		StepSize:    d("0.001"),
		MinPrice:    d("0.1"),
		TickSize:    d("0.1"),
		MinNotional: d("5"),
	}
}
