package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// EndReason is the code a finished session reports to the business layer.
type EndReason string

const (
	ReasonTelephonyClosed         EndReason = "telephony_closed"
	ReasonTelephonyStopped        EndReason = "telephony_stopped"
	ReasonProviderClosed          EndReason = "provider_closed"
	ReasonProviderConnectionError EndReason = "provider_connection_error"
	ReasonInactivityTimeout       EndReason = "inactivity_timeout"
	ReasonCriticalProviderError   EndReason = "critical_provider_error"
	ReasonUnsupportedCodec        EndReason = "unsupported_codec"
	ReasonProviderNotRegistered   EndReason = "provider_not_registered"
	ReasonStopped                 EndReason = "stopped"
	ReasonShutdown                EndReason = "shutdown"
)

// Failure reports whether the session ended because something went wrong,
// as opposed to a hangup, stop or timeout.
func (r EndReason) Failure() bool {
	switch r {
	case ReasonProviderClosed, ReasonProviderConnectionError, ReasonCriticalProviderError,
		ReasonUnsupportedCodec, ReasonProviderNotRegistered:
		return true
	}
	return false
}

func (r EndReason) closeCode() int {
	switch r {
	case ReasonShutdown:
		return websocket.CloseGoingAway
	case ReasonUnsupportedCodec:
		return websocket.CloseUnsupportedData
	case ReasonProviderNotRegistered:
		return websocket.ClosePolicyViolation
	}
	if r.Failure() {
		return websocket.CloseInternalServerErr
	}
	return websocket.CloseNormalClosure
}

// EndError carries the end reason as a context cancel cause.
type EndError struct {
	Reason EndReason
	Err    error
}

func (e *EndError) Error() string {
	if e.Err == nil {
		return "relay: session ended: " + string(e.Reason)
	}
	return fmt.Sprintf("relay: session ended: %s: %v", e.Reason, e.Err)
}

func (e *EndError) Unwrap() error { return e.Err }

func endErr(r EndReason, err error) error { return &EndError{Reason: r, Err: err} }

// ReasonOf maps a cancel cause to its end reason. A bare context
// cancellation counts as a stop.
func ReasonOf(err error) EndReason {
	var ee *EndError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonInactivityTimeout
	}
	return ReasonStopped
}
