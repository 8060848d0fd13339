package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/cache/lru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//region fakes

// fakeStorage is an in-memory OrderStorage that reproduces the transactional
// idempotency guard of the postgres adapter: an already-seen (order, event id)
// pair makes ApplyTransition a no-op, a stale From status makes it fail.
type fakeStorage struct {
	orders      map[string]models.Order
	payments    map[string]models.PaymentRecord // by gateway order id
	refunds     []models.RefundRecord
	shipments   map[string]models.ShipmentRecord // by awb
	tracking    map[string][]models.TrackingEvent
	failures    []models.ShipmentFailure
	seenEvents  map[string]bool // orderNumber + "/" + eventID
	transitions []models.Transition
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		orders:     map[string]models.Order{},
		payments:   map[string]models.PaymentRecord{},
		shipments:  map[string]models.ShipmentRecord{},
		tracking:   map[string][]models.TrackingEvent{},
		seenEvents: map[string]bool{},
	}
}

func (f *fakeStorage) CreateOrder(_ context.Context, order models.Order) error {
	f.orders[order.OrderNumber] = order
	return nil
}

func (f *fakeStorage) GetOrderByNumber(_ context.Context, orderNumber string) (models.Order, error) {
	order, ok := f.orders[orderNumber]
	if !ok {
		return models.Order{}, customerrors.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeStorage) GetOrderByGatewayOrderID(_ context.Context, gatewayOrderID string) (models.Order, error) {
	for _, order := range f.orders {
		if order.GatewayOrderID == gatewayOrderID {
			return order, nil
		}
	}
	return models.Order{}, customerrors.ErrOrderNotFound
}

func (f *fakeStorage) GetOrderByAWB(_ context.Context, awb string) (models.Order, error) {
	for _, order := range f.orders {
		if order.AWB == awb {
			return order, nil
		}
	}
	return models.Order{}, customerrors.ErrOrderNotFound
}

func (f *fakeStorage) ListRecentOrders(_ context.Context, limit int) ([]models.Order, error) {
	result := make([]models.Order, 0, len(f.orders))
	for _, order := range f.orders {
		result = append(result, order)
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeStorage) ApplyTransition(_ context.Context, t models.Transition) (bool, error) {
	key := t.OrderNumber + "/" + t.EventID
	if f.seenEvents[key] {
		return false, nil
	}
	order, ok := f.orders[t.OrderNumber]
	if !ok {
		return false, customerrors.ErrOrderNotFound
	}
	if order.Status != t.From {
		return false, &customerrors.InvalidTransitionError{
			OrderNumber: t.OrderNumber, From: string(order.Status), To: string(t.To),
		}
	}
	f.seenEvents[key] = true
	order.Status = t.To
	if t.PaymentStatus != "" {
		order.PaymentStatus = t.PaymentStatus
	}
	f.orders[t.OrderNumber] = order
	f.transitions = append(f.transitions, t)
	return true, nil
}

func (f *fakeStorage) RecordEvent(_ context.Context, orderNumber, eventID string) (bool, error) {
	key := orderNumber + "/" + eventID
	if f.seenEvents[key] {
		return false, nil
	}
	f.seenEvents[key] = true
	return true, nil
}

func (f *fakeStorage) WasEventProcessed(_ context.Context, orderNumber, eventID string) (bool, error) {
	return f.seenEvents[orderNumber+"/"+eventID], nil
}

func (f *fakeStorage) SavePaymentRecord(_ context.Context, rec models.PaymentRecord) error {
	f.payments[rec.GatewayOrderID] = rec
	order := f.orders[rec.OrderNumber]
	order.GatewayOrderID = rec.GatewayOrderID
	f.orders[rec.OrderNumber] = order
	return nil
}

func (f *fakeStorage) MarkPaymentCaptured(_ context.Context, gatewayOrderID, gatewayPaymentID string) error {
	rec, ok := f.payments[gatewayOrderID]
	if !ok {
		return customerrors.ErrPaymentNotFound
	}
	rec.GatewayPaymentID = gatewayPaymentID
	rec.Status = models.PaymentCaptured
	f.payments[gatewayOrderID] = rec
	return nil
}

func (f *fakeStorage) GetPaymentByGatewayOrderID(_ context.Context, gatewayOrderID string) (models.PaymentRecord, error) {
	rec, ok := f.payments[gatewayOrderID]
	if !ok {
		return models.PaymentRecord{}, customerrors.ErrPaymentNotFound
	}
	return rec, nil
}

func (f *fakeStorage) SaveRefundRecord(_ context.Context, rec models.RefundRecord) error {
	f.refunds = append(f.refunds, rec)
	return nil
}

func (f *fakeStorage) SumRefunds(_ context.Context, gatewayPaymentID string) (int64, error) {
	var sum int64
	for _, refund := range f.refunds {
		if refund.GatewayPaymentID == gatewayPaymentID {
			sum += refund.Amount
		}
	}
	return sum, nil
}

func (f *fakeStorage) SaveShipmentRecord(_ context.Context, rec models.ShipmentRecord) error {
	f.shipments[rec.AWB] = rec
	order := f.orders[rec.OrderNumber]
	order.AWB = rec.AWB
	f.orders[rec.OrderNumber] = order
	return nil
}

func (f *fakeStorage) GetShipmentByAWB(_ context.Context, awb string) (models.ShipmentRecord, error) {
	rec, ok := f.shipments[awb]
	if !ok {
		return models.ShipmentRecord{}, customerrors.ErrShipmentNotFound
	}
	return rec, nil
}

func (f *fakeStorage) UpdateShipmentStatus(_ context.Context, awb string, status models.ShipmentStatus) error {
	rec := f.shipments[awb]
	rec.Status = status
	f.shipments[awb] = rec
	return nil
}

func (f *fakeStorage) AppendTrackingEvent(_ context.Context, event models.TrackingEvent) error {
	f.tracking[event.AWB] = append(f.tracking[event.AWB], event)
	return nil
}

func (f *fakeStorage) ListTrackingEvents(_ context.Context, awb string) ([]models.TrackingEvent, error) {
	return f.tracking[awb], nil
}

func (f *fakeStorage) SaveShipmentFailure(_ context.Context, failure models.ShipmentFailure) error {
	f.failures = append(f.failures, failure)
	return nil
}

type fakeGateway struct {
	orderSeq       int
	validSignature string
	payments       map[string]models.PaymentRecord // by payment id
	refundErr      error
	refundSeq      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{validSignature: "good-signature", payments: map[string]models.PaymentRecord{}}
}

func (f *fakeGateway) CreateGatewayOrder(_ context.Context, amountMinor int64, currency, receiptID string) (models.PaymentRecord, error) {
	f.orderSeq++
	return models.PaymentRecord{
		GatewayOrderID: fmt.Sprintf("order_%03d", f.orderSeq),
		Amount:         amountMinor,
		Currency:       currency,
		Status:         models.PaymentPending,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeGateway) VerifySignature(_, _, signature string) bool {
	return signature == f.validSignature
}

func (f *fakeGateway) VerifyWebhookSignature(_ []byte, signatureHeader string) bool {
	return signatureHeader == f.validSignature
}

func (f *fakeGateway) FetchPayment(_ context.Context, gatewayPaymentID string) (models.PaymentRecord, error) {
	rec, ok := f.payments[gatewayPaymentID]
	if !ok {
		return models.PaymentRecord{}, customerrors.ErrPaymentNotFound
	}
	return rec, nil
}

func (f *fakeGateway) Refund(_ context.Context, gatewayPaymentID string, amountMinor int64, _ string) (models.RefundRecord, error) {
	if f.refundErr != nil {
		return models.RefundRecord{}, f.refundErr
	}
	f.refundSeq++
	return models.RefundRecord{
		GatewayRefundID:  fmt.Sprintf("rfnd_%03d", f.refundSeq),
		GatewayPaymentID: gatewayPaymentID,
		Amount:           amountMinor,
		CreatedAt:        time.Now(),
	}, nil
}

type fakeCarrier struct {
	createErr error
	awb       string
	calls     int
	quotes    []models.CourierQuote
}

func (f *fakeCarrier) CreateShipment(_ context.Context, order models.Order, _ string) (models.ShipmentRecord, error) {
	f.calls++
	if f.createErr != nil {
		return models.ShipmentRecord{}, f.createErr
	}
	return models.ShipmentRecord{
		OrderNumber: order.OrderNumber,
		AWB:         f.awb,
		CourierName: "Test Express",
		Status:      models.ShipmentCreated,
		CreatedAt:   time.Now(),
	}, nil
}

func (f *fakeCarrier) TrackShipment(_ context.Context, _ string) ([]models.TrackingEvent, error) {
	return nil, customerrors.ErrTrackingUnavailable
}

func (f *fakeCarrier) CancelShipment(_ context.Context, _ string) error { return nil }

func (f *fakeCarrier) GetAvailableCouriers(_ context.Context, _, _ string, _ float64, _ bool) ([]models.CourierQuote, error) {
	return f.quotes, nil
}

func (f *fakeCarrier) VerifyWebhookSignature(_ []byte, _ string) bool { return true }

type fakePublisher struct {
	messages []models.NotificationMessage
}

func (f *fakePublisher) Publish(_ context.Context, msg models.NotificationMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

type fakeCache struct{}

func (fakeCache) Get(_ context.Context, _ string) (models.Order, bool, error) {
	return models.Order{}, false, nil
}
func (fakeCache) Set(_ context.Context, _ string, _ models.Order) error { return nil }
func (fakeCache) Delete(_ context.Context, _ string) error              { return nil }

//endregion

type lifecycleFixture struct {
	storage   *fakeStorage
	gateway   *fakeGateway
	carrier   *fakeCarrier
	publisher *fakePublisher
	service   *LifecycleService
}

func newLifecycleFixture() *lifecycleFixture {
	f := &lifecycleFixture{
		storage:   newFakeStorage(),
		gateway:   newFakeGateway(),
		carrier:   &fakeCarrier{awb: "AWB123"},
		publisher: &fakePublisher{},
	}
	f.service = NewLifecycleService(f.storage, f.gateway, f.carrier, f.publisher, fakeCache{}, "INR", nil)
	return f
}

func sampleOrder() models.Order {
	return models.Order{
		CustomerName:  "Asha Pillai",
		CustomerEmail: "asha@example.com",
		Address: models.Address{
			Line1:   "14 MG Road",
			City:    "Bengaluru",
			State:   "Karnataka",
			Pincode: "560001",
			Country: "India",
			Phone:   "+919876543210",
		},
		Items: []models.OrderItem{
			{SKU: "PLQ-1", Name: "Walnut plaque", UnitPrice: 124950, Quantity: 2, WeightGrams: 800},
		},
	}
}

// createPaidOrder drives a fresh order through checkout up to the point where
// the gateway reports a captured payment matching the frozen total.
func (f *lifecycleFixture) createPaidOrder(t *testing.T) models.Order {
	t.Helper()
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingPayment, order.Status)
	require.Equal(t, int64(249900), order.TotalAmount)

	f.gateway.payments["pay_001"] = models.PaymentRecord{
		GatewayPaymentID: "pay_001",
		GatewayOrderID:   order.GatewayOrderID,
		Amount:           order.TotalAmount,
		Status:           models.PaymentCaptured,
	}

	err = f.service.ConfirmPayment(ctx, order.GatewayOrderID, "pay_001", f.gateway.validSignature, false)
	require.NoError(t, err)

	paid, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	return paid
}

func TestLifecycle_FullHappyPath(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order := f.createPaidOrder(t)

	// payment auto-creates the shipment
	assert.Equal(t, models.StatusShipmentCreated, order.Status)
	assert.Equal(t, models.PaymentCaptured, order.PaymentStatus)
	assert.Equal(t, "AWB123", order.AWB)

	err := f.service.HandleShipmentEvent(ctx, models.ShipmentEvent{
		EventID: "evt-1", AWB: "AWB123", Status: models.ShipmentInTransit, OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	err = f.service.HandleShipmentEvent(ctx, models.ShipmentEvent{
		EventID: "evt-2", AWB: "AWB123", Status: models.ShipmentDelivered, OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	final, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, final.Status)

	// exactly one notification per customer-visible milestone:
	// confirmation, shipment, delivery
	require.Len(t, f.publisher.messages, 3)
	assert.Equal(t, models.TemplateOrderConfirmation, f.publisher.messages[0].Template)
	assert.Equal(t, models.TemplateShipment, f.publisher.messages[1].Template)
	assert.Equal(t, models.TemplateDelivery, f.publisher.messages[2].Template)
}

func TestConfirmPayment_InvalidSignatureNeverAdvancesState(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)

	err = f.service.ConfirmPayment(ctx, order.GatewayOrderID, "pay_001", "forged", false)
	assert.ErrorIs(t, err, customerrors.ErrInvalidSignature)

	stored, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPayment, stored.Status)
	assert.Empty(t, f.publisher.messages)
}

func TestConfirmPayment_AmountMismatchFailsClosed(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)

	// gateway reports one paisa less than the frozen total
	f.gateway.payments["pay_001"] = models.PaymentRecord{
		GatewayPaymentID: "pay_001",
		GatewayOrderID:   order.GatewayOrderID,
		Amount:           order.TotalAmount - 1,
		Status:           models.PaymentCaptured,
	}

	err = f.service.ConfirmPayment(ctx, order.GatewayOrderID, "pay_001", f.gateway.validSignature, false)
	var validationErr *customerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "amount", validationErr.Field)

	stored, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentFailed, stored.Status)
	assert.Equal(t, models.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, 0, f.carrier.calls, "no shipment for a mismatched payment")
}

func TestConfirmPayment_WebhookReplayIsNoOp(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order := f.createPaidOrder(t)
	notificationsAfterCapture := len(f.publisher.messages)

	// the webhook delivers the same capture the client already verified
	err := f.service.ConfirmPayment(ctx, order.GatewayOrderID, "pay_001", "", true)
	require.NoError(t, err)

	stored, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipmentCreated, stored.Status)
	assert.Len(t, f.publisher.messages, notificationsAfterCapture, "replay must not re-notify")
	assert.Equal(t, 1, f.carrier.calls, "replay must not re-ship")
}

func TestHandleShipmentEvent_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order := f.createPaidOrder(t)

	event := models.ShipmentEvent{
		EventID: "evt-delivered", AWB: "AWB123", Status: models.ShipmentDelivered, OccurredAt: time.Now(),
	}
	require.NoError(t, f.service.HandleShipmentEvent(ctx, event))
	require.NoError(t, f.service.HandleShipmentEvent(ctx, event))

	stored, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.Len(t, f.storage.tracking["AWB123"], 1, "duplicate event must not duplicate history")
}

func TestGetOrder_SeesStatusAfterPayment(t *testing.T) {
	f := &lifecycleFixture{
		storage:   newFakeStorage(),
		gateway:   newFakeGateway(),
		carrier:   &fakeCarrier{awb: "AWB123"},
		publisher: &fakePublisher{},
	}
	cache := lru.NewCacheLRUInMemory[string, models.Order](16)
	f.service = NewLifecycleService(f.storage, f.gateway, f.carrier, f.publisher, cache, "INR", nil)
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)

	// the customer polls before paying, which caches AWAITING_PAYMENT
	polled, err := f.service.GetOrder(ctx, order.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingPayment, polled.Status)

	f.gateway.payments["pay_001"] = models.PaymentRecord{
		GatewayPaymentID: "pay_001",
		GatewayOrderID:   order.GatewayOrderID,
		Amount:           order.TotalAmount,
		Status:           models.PaymentCaptured,
	}
	require.NoError(t, f.service.ConfirmPayment(ctx, order.GatewayOrderID, "pay_001", f.gateway.validSignature, false))

	// the next poll must see the post-payment status, not the cached one
	polled, err = f.service.GetOrder(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipmentCreated, polled.Status)
	assert.Equal(t, "AWB123", polled.AWB)

	require.NoError(t, f.service.HandleShipmentEvent(ctx, models.ShipmentEvent{
		EventID: "evt-del", AWB: "AWB123", Status: models.ShipmentDelivered, OccurredAt: time.Now(),
	}))

	polled, err = f.service.GetOrder(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, polled.Status)
}

func TestHandleShipmentEvent_DuplicateScanAppendsOnce(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.createPaidOrder(t)

	// an informational scan that doesn't move the order
	scan := models.ShipmentEvent{
		EventID: "evt-scan", AWB: "AWB123", Status: models.ShipmentCreated,
		Description: "picked up", OccurredAt: time.Now(),
	}
	require.NoError(t, f.service.HandleShipmentEvent(ctx, scan))
	require.NoError(t, f.service.HandleShipmentEvent(ctx, scan))

	assert.Len(t, f.storage.tracking["AWB123"], 1, "redelivered scan must not duplicate history")
}

func TestHandleShipmentEvent_DuplicateCancellationAppendsOnce(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.createPaidOrder(t)

	cancel := models.ShipmentEvent{
		EventID: "evt-cancel", AWB: "AWB123", Status: models.ShipmentCancelled, OccurredAt: time.Now(),
	}
	require.NoError(t, f.service.HandleShipmentEvent(ctx, cancel))
	require.NoError(t, f.service.HandleShipmentEvent(ctx, cancel))

	shipment, err := f.storage.GetShipmentByAWB(ctx, "AWB123")
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentCancelled, shipment.Status)
	assert.Len(t, f.storage.tracking["AWB123"], 1)
}

func TestHandleShipmentEvent_RegressionIgnored(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order := f.createPaidOrder(t)

	require.NoError(t, f.service.HandleShipmentEvent(ctx, models.ShipmentEvent{
		EventID: "evt-1", AWB: "AWB123", Status: models.ShipmentDelivered, OccurredAt: time.Now(),
	}))

	// a late in-transit scan arrives after delivery
	require.NoError(t, f.service.HandleShipmentEvent(ctx, models.ShipmentEvent{
		EventID: "evt-late", AWB: "AWB123", Status: models.ShipmentInTransit, OccurredAt: time.Now(),
	}))

	stored, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)

	shipment, err := f.storage.GetShipmentByAWB(ctx, "AWB123")
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentDelivered, shipment.Status)
}

func TestCreateShipment_CarrierFailureKeepsOrderShippable(t *testing.T) {
	f := newLifecycleFixture()
	f.carrier.createErr = &customerrors.CarrierError{
		Code:       "VALIDATION",
		Message:    "unprocessable entity",
		HTTPStatus: 422,
		FieldErrors: map[string]string{
			"billing_pincode": "does not exist",
		},
	}
	f.carrier.quotes = []models.CourierQuote{
		{CourierID: 10, CourierName: "Delhivery Surface", RateMinor: 12550, EstimatedDays: 4},
	}
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)

	f.gateway.payments["pay_001"] = models.PaymentRecord{
		GatewayPaymentID: "pay_001",
		GatewayOrderID:   order.GatewayOrderID,
		Amount:           order.TotalAmount,
		Status:           models.PaymentCaptured,
	}

	// the payment itself must succeed even though shipping fails after it
	err = f.service.ConfirmPayment(ctx, order.GatewayOrderID, "pay_001", f.gateway.validSignature, false)
	require.NoError(t, err)

	stored, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipmentFailed, stored.Status)
	assert.Equal(t, models.PaymentCaptured, stored.PaymentStatus, "captured money is never dropped")

	require.Len(t, f.storage.failures, 1)
	assert.Equal(t, "VALIDATION", f.storage.failures[0].Code)
	assert.Equal(t, "does not exist", f.storage.failures[0].FieldErrors["billing_pincode"])
	require.Len(t, f.storage.failures[0].Quotes, 1, "courier options recorded for the retry")
	assert.Equal(t, "Delhivery Surface", f.storage.failures[0].Quotes[0].CourierName)

	// admin retry succeeds once the carrier recovers
	f.carrier.createErr = nil
	require.NoError(t, f.service.CreateShipment(ctx, order.OrderNumber, ""))

	stored, err = f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipmentCreated, stored.Status)
}

func TestCancelOrder_PaidOrderRefundsInFull(t *testing.T) {
	f := newLifecycleFixture()
	// keep the order unshipped: a down carrier parks it in SHIPMENT_FAILED
	f.carrier.createErr = &customerrors.CarrierUnavailableError{Err: context.DeadlineExceeded}
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)
	f.gateway.payments["pay_001"] = models.PaymentRecord{
		GatewayPaymentID: "pay_001",
		GatewayOrderID:   order.GatewayOrderID,
		Amount:           order.TotalAmount,
		Status:           models.PaymentCaptured,
	}
	require.NoError(t, f.service.ConfirmPayment(ctx, order.GatewayOrderID, "pay_001", f.gateway.validSignature, false))

	// force the order back to PAID for the cancellation path
	_, err = f.storage.ApplyTransition(ctx, models.Transition{
		OrderNumber: order.OrderNumber, From: models.StatusShipmentFailed, To: models.StatusPaid, EventID: "retry",
	})
	require.NoError(t, err)

	err = f.service.CancelOrder(ctx, order.OrderNumber, "customer request")
	require.NoError(t, err)

	stored, err := f.storage.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentRefunded, stored.PaymentStatus)

	require.Len(t, f.storage.refunds, 1)
	assert.Equal(t, order.TotalAmount, f.storage.refunds[0].Amount)
}

func TestRefundPayment_SumNeverExceedsCaptured(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order := f.createPaidOrder(t)

	_, err := f.service.RefundPayment(ctx, order.OrderNumber, 200000, "partial")
	require.NoError(t, err)

	// remaining refundable is 49900; asking for more must be rejected before
	// the gateway is called
	gatewayCallsBefore := f.gateway.refundSeq
	_, err = f.service.RefundPayment(ctx, order.OrderNumber, 50000, "too much")
	assert.ErrorIs(t, err, customerrors.ErrRefundExceedsCaptured)
	assert.Equal(t, gatewayCallsBefore, f.gateway.refundSeq)

	_, err = f.service.RefundPayment(ctx, order.OrderNumber, 49900, "rest")
	require.NoError(t, err)
}

func TestCancelOrder_ShippedOrderCannotBeCancelled(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	order := f.createPaidOrder(t)
	require.Equal(t, models.StatusShipmentCreated, order.Status)

	err := f.service.CancelOrder(ctx, order.OrderNumber, "too late")
	var transitionErr *customerrors.InvalidTransitionError
	assert.ErrorAs(t, err, &transitionErr)
	assert.Empty(t, f.storage.refunds)
}
