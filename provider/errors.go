package provider

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of normalized error categories every provider
// error code maps into.
type ErrorKind string

const (
	ErrorKindInvalidCard       ErrorKind = "invalid_card"
	ErrorKindExpiredCard       ErrorKind = "expired_card"
	ErrorKindInvalidCVV        ErrorKind = "invalid_cvv"
	ErrorKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrorKindDeclined          ErrorKind = "declined"
	ErrorKindThreeDSFailed     ErrorKind = "three_ds_failed"
	ErrorKindNetwork           ErrorKind = "network_error"
	ErrorKindConfig            ErrorKind = "config_error"
	ErrorKindCircuitOpen       ErrorKind = "circuit_open"
	ErrorKindUnsupported       ErrorKind = "unsupported_operation"
	ErrorKindParse             ErrorKind = "parse_error"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// PaymentError is a typed error carrying the normalized kind alongside the
// provider's original code and message. The original code is never dropped:
// unrecognized codes map to ErrorKindUnknown with Code/Message preserved.
type PaymentError struct {
	Provider string
	Kind     ErrorKind
	Code     string
	Message  string
	// Raw holds the raw response body for parse failures.
	Raw string
	Err error
}

// Error implements the error interface
func (e *PaymentError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s (%s): %s", e.Provider, e.Kind, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

// Unwrap returns the underlying cause, if any
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a typed payment error
func NewPaymentError(providerName string, kind ErrorKind, code, message string) *PaymentError {
	return &PaymentError{Provider: providerName, Kind: kind, Code: code, Message: message}
}

// NewConfigError reports a configuration problem detected before any network call
func NewConfigError(providerName, message string) *PaymentError {
	return &PaymentError{Provider: providerName, Kind: ErrorKindConfig, Message: message}
}

// NewUnsupportedError reports an operation the provider does not offer
func NewUnsupportedError(providerName, operation string) *PaymentError {
	return &PaymentError{
		Provider: providerName,
		Kind:     ErrorKindUnsupported,
		Message:  fmt.Sprintf("operation %q is not supported", operation),
	}
}

// NewNetworkError wraps a transport failure
func NewNetworkError(providerName string, err error) *PaymentError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &PaymentError{Provider: providerName, Kind: ErrorKindNetwork, Message: msg, Err: err}
}

// NewParseError reports a response body that could not be interpreted. The
// raw body is preserved so the failure is never coerced to success or a
// generic decline.
func NewParseError(providerName string, raw string, err error) *PaymentError {
	msg := "failed to parse provider response"
	if err != nil {
		msg = err.Error()
	}
	return &PaymentError{Provider: providerName, Kind: ErrorKindParse, Message: msg, Raw: raw, Err: err}
}

// KindOf returns the error kind of err, or ErrorKindUnknown for untyped errors
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindUnknown
}

// IsKind reports whether err carries the given normalized kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
