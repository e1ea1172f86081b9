package mexc

import (
	"errors"
	"fmt"
)

// ErrCredentialsMissing is returned before any signing is attempted
// when the API key or secret is absent.
var ErrCredentialsMissing = errors.New("exchange API key or secret not configured")

// TransportError covers network, forwarding, and non-success HTTP
// failures. The next timer tick is the retry; callers log and keep
// prior state.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange unreachable (check network or forwarding URL): %v", e.Err)
	}
	return fmt.Sprintf("exchange returned HTTP %d: %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExchangeError is an application-level rejection carrying the
// exchange's own code and message, surfaced verbatim to the operator.
type ExchangeError struct {
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected request (code %d): %s", e.Code, e.Message)
}

// DecodeError is an unexpected payload shape.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid exchange payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ForwarderActivationError reports that the configured forwarding proxy
// is serving its activation interstitial instead of relaying requests.
type ForwarderActivationError struct {
	ActivationURL string
}

func (e *ForwarderActivationError) Error() string {
	return fmt.Sprintf("forwarding proxy requires activation: open %s in a browser and request temporary access", e.ActivationURL)
}
