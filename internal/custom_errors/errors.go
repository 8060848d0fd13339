package customerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOrderNotFound describes an error when the storage
// was successfully checked but no order with given data was found
var ErrOrderNotFound = errors.New("order not found")

// ErrPaymentNotFound is returned when no payment record exists for a gateway order id
var ErrPaymentNotFound = errors.New("payment not found")

// ErrShipmentNotFound is returned when no shipment record exists for an AWB
var ErrShipmentNotFound = errors.New("shipment not found")

// ErrTrackingUnavailable means the carrier has no record for the AWB
var ErrTrackingUnavailable = errors.New("tracking unavailable")

// ErrInvalidSignature is security-relevant: a supplied payment or webhook
// signature did not match the HMAC computed with our secret. Must never
// advance order state and must be security-logged at the ingestion point.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrRefundExceedsCaptured is returned when a requested refund would push the
// sum of a payment's refunds over its captured amount.
var ErrRefundExceedsCaptured = errors.New("refund exceeds captured amount")

// ValidationError describes bad caller input (HTTP 400).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MissingFieldsError lists required shipment fields that were absent.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// InvalidTransitionError reports an illegal order state change (HTTP 409).
// It usually means a race was lost or a replayed event hit a terminal state.
type InvalidTransitionError struct {
	OrderNumber string
	From        string
	To          string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %s -> %s", e.OrderNumber, e.From, e.To)
}

// GatewayError is a non-2xx response from the payment gateway with the
// upstream code preserved.
type GatewayError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// GatewayUnavailableError is a network failure or timeout talking to the
// gateway. Retryable by the caller with backoff; never retried internally.
type GatewayUnavailableError struct {
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable: %v", e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// CarrierError is a non-2xx response from the shipment carrier. For 422-class
// validation failures FieldErrors carries the carrier's structured
// field-level messages instead of one generic string.
type CarrierError struct {
	Code        string
	Message     string
	HTTPStatus  int
	FieldErrors map[string]string
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("carrier error %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// CarrierUnavailableError is a network failure or timeout talking to the
// carrier. Retryable by the caller with backoff.
type CarrierUnavailableError struct {
	Err error
}

func (e *CarrierUnavailableError) Error() string {
	return fmt.Sprintf("carrier unavailable: %v", e.Err)
}

func (e *CarrierUnavailableError) Unwrap() error { return e.Err }

// AuthError describes a failed authentication or authorization (401/403).
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }
