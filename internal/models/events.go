package models

import "time"

// Transition is one atomic step of the order state machine together with the
// external event that triggered it.
//
// EventID keys the idempotency guard: storing a transition whose
// (OrderNumber, EventID) pair was already recorded is a no-op, not an error.
type Transition struct {
	OrderNumber string
	From        OrderStatus
	To          OrderStatus
	EventID     string

	// PaymentStatus, when non-empty, is written together with the new order
	// status inside the same transaction.
	PaymentStatus PaymentStatus
}

// ShipmentEvent is a carrier webhook payload mapped to the domain.
type ShipmentEvent struct {
	EventID     string
	AWB         string
	Status      ShipmentStatus
	Description string
	CourierName string
	OccurredAt  time.Time
}

// PaymentEvent is a gateway webhook payload mapped to the domain.
type PaymentEvent struct {
	EventID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           int64
	Captured         bool
}

// TemplateKind selects one of the dispatcher's fixed mail templates.
type TemplateKind string

const (
	TemplateWelcome           TemplateKind = "welcome"
	TemplatePasswordReset     TemplateKind = "password-reset"
	TemplateEmailVerification TemplateKind = "email-verification"
	TemplateOrderConfirmation TemplateKind = "order-confirmation"
	TemplateShipment          TemplateKind = "shipment-notification"
	TemplateDelivery          TemplateKind = "delivery-notification"
)

// NotificationMessage is what the lifecycle service publishes on a state
// transition and the notification service consumes.
//
// Delivery is best-effort: a failed send is logged and dropped, it never
// rolls back the transition that produced it.
type NotificationMessage struct {
	EventID   string            `json:"event_id"`
	Template  TemplateKind      `json:"template"`
	Recipient string            `json:"recipient"`
	Data      map[string]string `json:"data"`
}
