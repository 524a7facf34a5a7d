// Package xrpl maintains the streaming session to an XRPL node and
// delivers ledger/transaction push events to the pipeline.
package xrpl

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Conn is a live request/response session to one upstream endpoint.
type Conn interface {
	// Request issues a command and returns the "result" object of a
	// successful response.
	Request(ctx context.Context, params map[string]any) (gjson.Result, error)
	Close() error
}

// Events are push-event callbacks delivered by a live session. Any field
// may be nil.
type Events struct {
	LedgerClosed func(msg gjson.Result)
	Transaction  func(msg gjson.Result)
	Disconnected func(err error)
}

// DialFunc opens a session to an endpoint. Injectable for tests.
type DialFunc func(ctx context.Context, endpoint string, events Events) (Conn, error)

// RequestError is a command rejection from the upstream node.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("xrpl: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("xrpl: %s", e.Code)
}

// IsTooBusy reports whether err is the upstream's explicit overload signal.
func IsTooBusy(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Code == "tooBusy"
}
