package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/shopspring/decimal"
)

type symbolFilter struct {
	FilterType  string          `json:"filterType"`
	MinQty      decimal.Decimal `json:"minQty"`
	MaxQty      decimal.Decimal `json:"maxQty"`
	StepSize    decimal.Decimal `json:"stepSize"`
	MinPrice    decimal.Decimal `json:"minPrice"`
	MaxPrice    decimal.Decimal `json:"maxPrice"`
	TickSize    decimal.Decimal `json:"tickSize"`
	Notional    decimal.Decimal `json:"notional"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string         `json:"symbol"`
		Filters []symbolFilter `json:"filters"`
	} `json:"symbols"`
}

type orderResponse struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	TimeInForce   string          `json:"timeInForce"`
	ReduceOnly    bool            `json:"reduceOnly"`
	UpdateTime    int64           `json:"updateTime"`
}

func (o orderResponse) toRecord() *models.OrderRecord {
	return &models.OrderRecord{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          models.OrderSide(o.Side),
		Type:          models.OrderType(o.Type),
		Status:        models.OrderStatus(o.Status),
		Price:         o.Price,
		StopPrice:     o.StopPrice,
		OrigQty:       o.OrigQty,
		ExecutedQty:   o.ExecutedQty,
		AvgPrice:      o.AvgPrice,
		TimeInForce:   models.TimeInForce(o.TimeInForce),
		ReduceOnly:    o.ReduceOnly,
		UpdateTime:    time.UnixMilli(o.UpdateTime),
	}
}

// GetInstrumentFilters reads LOT_SIZE, PRICE_FILTER and MIN_NOTIONAL for
// symbol from exchangeInfo.
func (c *Client) GetInstrumentFilters(ctx context.Context, symbol string) (*models.InstrumentFilters, error) {
	body, err := c.get(ctx, "exchangeInfo", "/fapi/v1/exchangeInfo", nil, securityNone)
	if err != nil {
		return nil, err
	}

	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &GatewayError{Op: "exchangeInfo", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		f := &models.InstrumentFilters{Symbol: s.Symbol}
		for _, filter := range s.Filters {
			switch filter.FilterType {
			case "LOT_SIZE":
				f.MinQty = filter.MinQty
				f.MaxQty = filter.MaxQty
				f.StepSize = filter.StepSize
			case "PRICE_FILTER":
				f.MinPrice = filter.MinPrice
				f.MaxPrice = filter.MaxPrice
				f.TickSize = filter.TickSize
			case "MIN_NOTIONAL", "NOTIONAL":
				if filter.Notional.IsPositive() {
					f.MinNotional = filter.Notional
				} else {
					f.MinNotional = filter.MinNotional
				}
			}
		}
		return f, nil
	}
	return nil, &GatewayError{Op: "exchangeInfo", StatusCode: http.StatusOK, Err: fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)}
}

// SubmitOrder places a new order. It is never retried: a timeout leaves the
// order state unknown.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderRecord, error) {
	body, err := c.doRequest(ctx, "submitOrder", http.MethodPost, "/fapi/v1/order", c.orderParams(req), securitySigned)
	if err != nil {
		return nil, err
	}
	return decodeOrder("submitOrder", body)
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderRecord, error) {
	body, err := c.doRequest(ctx, "cancelOrder", http.MethodDelete, "/fapi/v1/order", orderIDParams(symbol, orderID), securitySigned)
	if err != nil {
		return nil, err
	}
	return decodeOrder("cancelOrder", body)
}

func (c *Client) QueryOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderRecord, error) {
	body, err := c.get(ctx, "queryOrder", "/fapi/v1/order", orderIDParams(symbol, orderID), securitySigned)
	if err != nil {
		return nil, err
	}
	return decodeOrder("queryOrder", body)
}

func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]models.OrderRecord, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", strings.ToUpper(symbol))
	}
	body, err := c.get(ctx, "openOrders", "/fapi/v1/openOrders", params, securitySigned)
	if err != nil {
		return nil, err
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &GatewayError{Op: "openOrders", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	orders := make([]models.OrderRecord, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, *o.toRecord())
	}
	return orders, nil
}

func (c *Client) orderParams(req models.OrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "RESULT")

	if req.Type.UsesPrice() && req.Price != nil {
		params.Set("price", req.Price.String())
		tif := req.TimeInForce
		if tif == "" {
			tif = models.TimeInForceGTC
		}
		params.Set("timeInForce", string(tif))
	}
	if req.Type.UsesStopPrice() && req.StopPrice != nil {
		params.Set("stopPrice", req.StopPrice.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	positionSide := req.PositionSide
	if positionSide == "" {
		positionSide = c.cfg.PositionSide
	}
	params.Set("positionSide", positionSide)

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = "ft-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
	}
	params.Set("newClientOrderId", clientOrderID)
	return params
}

func orderIDParams(symbol string, orderID int64) url.Values {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return params
}

func decodeOrder(op string, body []byte) (*models.OrderRecord, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &GatewayError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return resp.toRecord(), nil
}
