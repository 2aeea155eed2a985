package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/sirupsen/logrus"
)

const listenKeyPath = "/fapi/v1/listenKey"

// UserStream delivers order status changes from the user data stream.
type UserStream struct {
	client            *Client
	logger            *logrus.Logger
	KeepAliveInterval time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	listenKey string
}

type userEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		OrderID       int64  `json:"i"`
		ExecutionType string `json:"x"`
		Status        string `json:"X"`
	} `json:"o"`
}

func (c *Client) NewUserStream() *UserStream {
	return &UserStream{
		client:            c,
		logger:            c.logger,
		KeepAliveInterval: 30 * time.Minute,
	}
}

// Start opens a listen key and connects. The returned channel is closed when
// the connection ends or ctx is done.
func (us *UserStream) Start(ctx context.Context) (<-chan models.OrderUpdate, error) {
	body, err := us.client.doRequest(ctx, "createListenKey", http.MethodPost, listenKeyPath, nil, securityAPIKey)
	if err != nil {
		return nil, err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ListenKey == "" {
		return nil, &GatewayError{Op: "createListenKey", Err: fmt.Errorf("invalid listen key response: %s", string(body))}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, us.client.cfg.StreamURL+"/ws/"+resp.ListenKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to user stream: %w", err)
	}

	us.mu.Lock()
	us.conn = conn
	us.listenKey = resp.ListenKey
	us.mu.Unlock()

	updates := make(chan models.OrderUpdate, 16)
	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-streamCtx.Done()
		us.closeConn()
	}()
	go us.keepAlive(streamCtx)
	go func() {
		defer cancel()
		defer close(updates)
		us.readLoop(streamCtx, conn, updates)
	}()

	return updates, nil
}

func (us *UserStream) readLoop(ctx context.Context, conn *websocket.Conn, updates chan<- models.OrderUpdate) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				us.logger.WithError(err).Error("Failed to read user stream message")
			}
			return
		}

		var ev userEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			us.logger.WithError(err).Warn("Skipping malformed user stream message")
			continue
		}

		switch ev.EventType {
		case "ORDER_TRADE_UPDATE":
			update := models.OrderUpdate{
				Symbol:  ev.Order.Symbol,
				OrderID: ev.Order.OrderID,
				Status:  models.OrderStatus(ev.Order.Status),
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		case "listenKeyExpired":
			us.logger.Warn("User stream listen key expired")
			return
		}
	}
}

func (us *UserStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(us.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := us.client.doRequest(ctx, "keepAliveListenKey", http.MethodPut, listenKeyPath, nil, securityAPIKey); err != nil {
				us.logger.WithError(err).Error("Failed to keep user stream alive")
			}
		}
	}
}

func (us *UserStream) closeConn() {
	us.mu.Lock()
	defer us.mu.Unlock()

	if us.conn != nil {
		us.conn.Close()
		us.conn = nil
	}
}

// Close drops the connection and releases the listen key.
func (us *UserStream) Close(ctx context.Context) error {
	us.closeConn()

	us.mu.Lock()
	key := us.listenKey
	us.listenKey = ""
	us.mu.Unlock()

	if key == "" {
		return nil
	}
	_, err := us.client.doRequest(ctx, "closeListenKey", http.MethodDelete, listenKeyPath, nil, securityAPIKey)
	return err
}
