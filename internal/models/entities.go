package models

import (
	"time"
)

// OrderStatus is the state of an order in its lifecycle.
//
// Progress past StatusShipmentCreated is driven only by verified carrier
// events, never by client-supplied statuses.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "CREATED"
	StatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	StatusPaid            OrderStatus = "PAID"
	StatusShipmentCreated OrderStatus = "SHIPMENT_CREATED"
	StatusInTransit       OrderStatus = "IN_TRANSIT"
	StatusDelivered       OrderStatus = "DELIVERED"
	StatusPaymentFailed   OrderStatus = "PAYMENT_FAILED"
	StatusShipmentFailed  OrderStatus = "SHIPMENT_FAILED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// PaymentStatus is the state of a payment attempt against the gateway.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentCaptured PaymentStatus = "captured"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// ShipmentStatus is the state of a shipment at the carrier.
type ShipmentStatus string

const (
	ShipmentCreated   ShipmentStatus = "created"
	ShipmentInTransit ShipmentStatus = "in-transit"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentCancelled ShipmentStatus = "cancelled"
	ShipmentFailed    ShipmentStatus = "failed"
)

// Order is the aggregate owned by the lifecycle service.
//
// TotalAmount is in minor currency units (paise) and equals the sum of
// item UnitPrice*Quantity at creation time; it never changes afterwards.
type Order struct {
	OrderNumber   string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	TotalAmount   int64
	Currency      string
	CustomerName  string
	CustomerEmail string

	// external references, empty until the matching stage is reached
	GatewayOrderID string
	AWB            string

	CreatedAt time.Time
	UpdatedAt time.Time

	Address Address
	Items   []OrderItem
}

// Total computes the order total in minor units from its items.
func (o Order) Total() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.UnitPrice * int64(item.Quantity)
	}
	return sum
}

// Address is the shipping destination of an order.
type Address struct {
	Line1   string
	Line2   string
	City    string
	State   string
	Pincode string
	Country string
	Phone   string
}

// OrderItem is a single purchased position.
//
// UnitPrice is in minor currency units. WeightGrams may be zero, in which
// case DefaultItemWeightGrams is assumed when computing shipping weight.
type OrderItem struct {
	SKU         string
	Name        string
	UnitPrice   int64
	Quantity    int
	WeightGrams int
}

// DefaultItemWeightGrams stands in for catalog items with no recorded weight
const DefaultItemWeightGrams = 500

// ItemsWeightKg sums per-item weight times quantity, substituting
// fallbackGrams for items without a weight, in the kilograms carriers expect.
func ItemsWeightKg(items []OrderItem, fallbackGrams int) float64 {
	var grams int
	for _, item := range items {
		weight := item.WeightGrams
		if weight <= 0 {
			weight = fallbackGrams
		}
		grams += weight * item.Quantity
	}
	return float64(grams) / 1000
}

// PaymentRecord tracks one gateway order and its (at most one) captured payment.
//
// Status becomes captured only after signature verification succeeded
// and the gateway amount matched the order total.
type PaymentRecord struct {
	GatewayOrderID    string
	OrderNumber       string
	GatewayPaymentID  string
	Amount            int64
	Currency          string
	Status            PaymentStatus
	SignatureVerified bool
	CreatedAt         time.Time
}

// RefundRecord is one refund issued against a captured payment.
type RefundRecord struct {
	GatewayRefundID  string
	GatewayPaymentID string
	Amount           int64
	Status           string
	Reason           string
	CreatedAt        time.Time
}

// ShipmentRecord is the carrier-side shipment of an order, keyed by AWB.
type ShipmentRecord struct {
	AWB               string
	OrderNumber       string
	CarrierShipmentID string
	CourierName       string
	TrackingURL       string
	Status            ShipmentStatus
	EstimatedDelivery time.Time
	CreatedAt         time.Time
}

// TrackingEvent is one append-only entry of a shipment's tracking history.
type TrackingEvent struct {
	AWB         string
	Status      ShipmentStatus
	Description string
	OccurredAt  time.Time
}

// CourierQuote is one serviceability quote from the carrier.
type CourierQuote struct {
	CourierID     int
	CourierName   string
	RateMinor     int64
	EstimatedDays int
}

// ShipmentFailure preserves a failed shipment creation attempt, including the
// carrier's structured field-level errors when it returned a 422 and, when the
// carrier could still quote the route, the courier options for the retry.
type ShipmentFailure struct {
	OrderNumber string
	Code        string
	Message     string
	FieldErrors map[string]string
	Quotes      []CourierQuote
	CreatedAt   time.Time
}
