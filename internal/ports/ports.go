package ports

import (
	"context"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/pkgports"
)

// OrderStorage port describes the persistent order store, e.g. postgres.
//
// ApplyTransition is the only way order status moves: it writes the new
// status and the triggering event id in one transaction. It returns
// applied=false with a nil error when the (order, event) pair was already
// recorded, which callers treat as an idempotent replay. RecordEvent claims
// an event id without moving the order, for events that only touch the
// tracking history; fresh=false means a duplicate delivery.
type OrderStorage interface {
	CreateOrder(ctx context.Context, order models.Order) error
	GetOrderByNumber(ctx context.Context, orderNumber string) (models.Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (models.Order, error)
	GetOrderByAWB(ctx context.Context, awb string) (models.Order, error)
	ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error)
	ApplyTransition(ctx context.Context, t models.Transition) (applied bool, err error)
	RecordEvent(ctx context.Context, orderNumber, eventID string) (fresh bool, err error)
	WasEventProcessed(ctx context.Context, orderNumber, eventID string) (bool, error)

	SavePaymentRecord(ctx context.Context, rec models.PaymentRecord) error
	MarkPaymentCaptured(ctx context.Context, gatewayOrderID, gatewayPaymentID string) error
	GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (models.PaymentRecord, error)

	SaveRefundRecord(ctx context.Context, rec models.RefundRecord) error
	SumRefunds(ctx context.Context, gatewayPaymentID string) (int64, error)

	SaveShipmentRecord(ctx context.Context, rec models.ShipmentRecord) error
	GetShipmentByAWB(ctx context.Context, awb string) (models.ShipmentRecord, error)
	UpdateShipmentStatus(ctx context.Context, awb string, status models.ShipmentStatus) error
	AppendTrackingEvent(ctx context.Context, event models.TrackingEvent) error
	ListTrackingEvents(ctx context.Context, awb string) ([]models.TrackingEvent, error)
	SaveShipmentFailure(ctx context.Context, failure models.ShipmentFailure) error
}

// PaymentGateway port wraps the external payment provider (Razorpay).
type PaymentGateway interface {
	CreateGatewayOrder(ctx context.Context, amountMinor int64, currency, receiptID string) (models.PaymentRecord, error)
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool
	VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool
	FetchPayment(ctx context.Context, gatewayPaymentID string) (models.PaymentRecord, error)
	Refund(ctx context.Context, gatewayPaymentID string, amountMinor int64, reason string) (models.RefundRecord, error)
}

// ShipmentCarrier port wraps the external shipping carrier (Shiprocket).
type ShipmentCarrier interface {
	CreateShipment(ctx context.Context, order models.Order, courierOverride string) (models.ShipmentRecord, error)
	TrackShipment(ctx context.Context, awb string) ([]models.TrackingEvent, error)
	CancelShipment(ctx context.Context, awb string) error
	GetAvailableCouriers(ctx context.Context, pickupPostcode, deliveryPostcode string, weightKg float64, cod bool) ([]models.CourierQuote, error)
	VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool
}

// NotificationPublisher port emits notification messages for the
// out-of-band dispatcher, e.g. a kafka producer.
type NotificationPublisher interface {
	Publish(ctx context.Context, msg models.NotificationMessage) error
}

// NotificationReceiver port describes the message queue consumer the
// notification service reads from, e.g. kafka.
type NotificationReceiver[MessageType any] pkgports.Receiver[models.NotificationMessage, MessageType]

// Mailer port is the outbound mail transport.
type Mailer interface {
	Send(to, subject, body string) error
}

// OrderCache describes a cache for order read paths, e.g. in-memory LRU.
type OrderCache pkgports.Cache[string, models.Order]
