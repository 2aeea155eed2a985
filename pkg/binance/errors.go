package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrSymbolNotFound is returned when exchangeInfo does not list the symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNotCancelable means the order is unknown to the matching engine,
	// normally because it already reached a terminal status.
	ErrNotCancelable = errors.New("order not cancelable")
)

// Exchange error codes the client reacts to.
const (
	codeDisconnected    = -1001
	codeTooManyRequests = -1003
	codeTimeout         = -1007
	codeInvalidTime     = -1021
	codeUnknownOrder    = -2011
)

// GatewayError is a transport or API failure.
type GatewayError struct {
	Op         string
	StatusCode int
	Code       int
	Msg        string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("%s: API error %d (code %d): %s", e.Op, e.StatusCode, e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: API error %d: %s", e.Op, e.StatusCode, e.Msg)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying the same idempotent call may succeed.
func (e *GatewayError) IsTransient() bool {
	switch e.Code {
	case codeDisconnected, codeTooManyRequests, codeTimeout, codeInvalidTime:
		return true
	case 0:
	default:
		return e.StatusCode >= 500
	}
	if e.Err != nil {
		if errors.Is(e.Err, context.Canceled) {
			return false
		}
		var netErr net.Error
		return errors.As(e.Err, &netErr)
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot
}

// IsTransient unwraps err looking for a transient GatewayError.
func IsTransient(err error) bool {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.IsTransient()
	}
	return false
}

func parseAPIError(op string, status int, body []byte) error {
	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code == 0 {
		return &GatewayError{Op: op, StatusCode: status, Msg: string(body)}
	}

	gerr := &GatewayError{Op: op, StatusCode: status, Code: errResp.Code, Msg: errResp.Msg}
	if errResp.Code == codeUnknownOrder {
		gerr.Err = ErrNotCancelable
	}
	return gerr
}
