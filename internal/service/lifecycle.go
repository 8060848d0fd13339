package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/metrics"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/ports"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/validators"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransitionObserver is called after every applied transition, e.g. to bump a metric
type TransitionObserver func(to models.OrderStatus)

// LifecycleService owns the order state machine. It is the only component
// that moves orders between statuses; adapters and handlers never write
// status fields directly.
//
// Each order's transitions are serialized behind a per-order mutex so that a
// webhook racing a client-initiated verification for the same order cannot
// interleave: one wins, the others observe the idempotent no-op path.
type LifecycleService struct {
	storage   ports.OrderStorage
	gateway   ports.PaymentGateway
	carrier   ports.ShipmentCarrier
	publisher ports.NotificationPublisher
	cache     ports.OrderCache
	currency  string
	observer  TransitionObserver

	// per-order mutexes, kept for the process lifetime
	orderLocks sync.Map
}

// NewLifecycleService creates the lifecycle orchestrator
func NewLifecycleService(
	storage ports.OrderStorage,
	gateway ports.PaymentGateway,
	carrier ports.ShipmentCarrier,
	publisher ports.NotificationPublisher,
	cache ports.OrderCache,
	currency string,
	observer TransitionObserver,
) *LifecycleService {
	if observer == nil {
		observer = func(models.OrderStatus) {}
	}
	return &LifecycleService{
		storage:   storage,
		gateway:   gateway,
		carrier:   carrier,
		publisher: publisher,
		cache:     cache,
		currency:  currency,
		observer:  observer,
	}
}

func (s *LifecycleService) lockOrder(orderNumber string) func() {
	muAny, _ := s.orderLocks.LoadOrStore(orderNumber, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateOrder validates the input, freezes the total from its items, persists
// the order and opens a gateway order for it. On success the order is in
// AWAITING_PAYMENT with a pending payment record attached.
func (s *LifecycleService) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	if err := validators.ValidateNewOrder(order); err != nil {
		return models.Order{}, err
	}

	now := time.Now()
	order.OrderNumber = "MTA-" + uuid.NewString()[:8]
	order.Status = models.StatusCreated
	order.PaymentStatus = models.PaymentPending
	order.TotalAmount = order.Total()
	order.Currency = s.currency
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := s.storage.CreateOrder(ctx, order); err != nil {
		return models.Order{}, fmt.Errorf("error persisting order: %w", err)
	}

	rec, err := s.gateway.CreateGatewayOrder(ctx, order.TotalAmount, order.Currency, order.OrderNumber)
	if err != nil {
		return models.Order{}, err
	}
	rec.OrderNumber = order.OrderNumber
	if err = s.storage.SavePaymentRecord(ctx, rec); err != nil {
		return models.Order{}, fmt.Errorf("error persisting payment record: %w", err)
	}

	if _, err = s.transition(ctx, models.Transition{
		OrderNumber: order.OrderNumber,
		From:        models.StatusCreated,
		To:          models.StatusAwaitingPayment,
		EventID:     rec.GatewayOrderID,
	}); err != nil {
		return models.Order{}, err
	}

	order.Status = models.StatusAwaitingPayment
	order.GatewayOrderID = rec.GatewayOrderID

	logger.GetOrCreateLoggerFromCtx(ctx).Info(ctx, "order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("gateway_order_id", rec.GatewayOrderID),
		zap.Int64("amount", order.TotalAmount))

	return order, nil
}

// ConfirmPayment handles both the client-submitted verification and the
// verified gateway webhook. The signature must already be checked for the
// webhook path (verified=true); the client path passes the raw signature.
//
// Fail closed: the order becomes PAID only when the signature is valid AND
// the gateway-reported amount equals the frozen order total. The capture
// event id is the gateway payment id, so a webhook replaying a capture the
// client already verified (or vice versa) is a no-op.
func (s *LifecycleService) ConfirmPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string, verified bool) error {
	if !verified && !s.gateway.VerifySignature(gatewayOrderID, gatewayPaymentID, signature) {
		// never advances state; the handler security-logs and answers 401
		return customerrors.ErrInvalidSignature
	}

	order, err := s.storage.GetOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}

	unlock := s.lockOrder(order.OrderNumber)
	defer unlock()

	payment, err := s.gateway.FetchPayment(ctx, gatewayPaymentID)
	if err != nil {
		return err
	}

	if payment.Amount != order.TotalAmount {
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "payment amount mismatch",
			zap.String("order_number", order.OrderNumber),
			zap.Int64("order_amount", order.TotalAmount),
			zap.Int64("payment_amount", payment.Amount))

		if _, failErr := s.transition(ctx, models.Transition{
			OrderNumber:   order.OrderNumber,
			From:          order.Status,
			To:            models.StatusPaymentFailed,
			EventID:       gatewayPaymentID + ":amount-mismatch",
			PaymentStatus: models.PaymentFailed,
		}); failErr != nil {
			return failErr
		}
		return &customerrors.ValidationError{Field: "amount", Message: "payment amount does not match order total"}
	}

	if err = s.storage.MarkPaymentCaptured(ctx, gatewayOrderID, gatewayPaymentID); err != nil {
		return err
	}
	s.dropCachedOrder(ctx, order.OrderNumber)

	applied, err := s.transition(ctx, models.Transition{
		OrderNumber:   order.OrderNumber,
		From:          order.Status,
		To:            models.StatusPaid,
		EventID:       gatewayPaymentID,
		PaymentStatus: models.PaymentCaptured,
	})
	if err != nil {
		return err
	}
	if !applied {
		// capture already processed through the other path
		if verified {
			metrics.WebhooksDuplicateTotal.WithLabelValues("gateway").Inc()
		}
		return nil
	}

	s.notify(ctx, models.NotificationMessage{
		EventID:   gatewayPaymentID,
		Template:  models.TemplateOrderConfirmation,
		Recipient: order.CustomerEmail,
		Data: map[string]string{
			"order_number": order.OrderNumber,
			"amount":       strconv.FormatInt(order.TotalAmount, 10),
			"currency":     order.Currency,
		},
	})

	// money is captured, hand the order to the carrier; a failure here is
	// recorded as SHIPMENT_FAILED and retried later, never returned to the
	// payer as an error
	if shipErr := s.createShipmentLocked(ctx, order.OrderNumber, ""); shipErr != nil {
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "shipment creation after payment failed",
			zap.String("order_number", order.OrderNumber), zap.Error(shipErr))
	}
	return nil
}

// CreateShipment registers a carrier shipment for a paid order. Admin retries
// for SHIPMENT_FAILED orders come through here too.
func (s *LifecycleService) CreateShipment(ctx context.Context, orderNumber, courierOverride string) error {
	unlock := s.lockOrder(orderNumber)
	defer unlock()
	return s.createShipmentLocked(ctx, orderNumber, courierOverride)
}

// createShipmentLocked requires the caller to hold the order lock
func (s *LifecycleService) createShipmentLocked(ctx context.Context, orderNumber, courierOverride string) error {
	order, err := s.storage.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return err
	}
	if order.Status != models.StatusPaid && order.Status != models.StatusShipmentFailed {
		return &customerrors.InvalidTransitionError{
			OrderNumber: orderNumber,
			From:        string(order.Status),
			To:          string(models.StatusShipmentCreated),
		}
	}

	rec, err := s.carrier.CreateShipment(ctx, order, courierOverride)
	if err != nil {
		s.recordShipmentFailure(ctx, order, err)
		return err
	}

	if err = s.storage.SaveShipmentRecord(ctx, rec); err != nil {
		return fmt.Errorf("error persisting shipment record: %w", err)
	}
	s.dropCachedOrder(ctx, orderNumber)

	applied, err := s.transition(ctx, models.Transition{
		OrderNumber: orderNumber,
		From:        order.Status,
		To:          models.StatusShipmentCreated,
		EventID:     "awb:" + rec.AWB,
	})
	if err != nil {
		return err
	}
	if applied {
		s.notify(ctx, models.NotificationMessage{
			EventID:   "awb:" + rec.AWB,
			Template:  models.TemplateShipment,
			Recipient: order.CustomerEmail,
			Data: map[string]string{
				"order_number": order.OrderNumber,
				"awb":          rec.AWB,
				"courier":      rec.CourierName,
				"tracking_url": rec.TrackingURL,
			},
		})
	}
	return nil
}

// recordShipmentFailure keeps the paid order shippable: the order moves to
// SHIPMENT_FAILED (money already captured, never silently dropped) and the
// failure details, including 422 field errors, are preserved for the admin.
func (s *LifecycleService) recordShipmentFailure(ctx context.Context, order models.Order, cause error) {
	failure := models.ShipmentFailure{
		OrderNumber: order.OrderNumber,
		Code:        "CARRIER_ERROR",
		Message:     cause.Error(),
		CreatedAt:   time.Now(),
	}
	var carrierErr *customerrors.CarrierError
	if errors.As(cause, &carrierErr) {
		failure.Code = carrierErr.Code
		failure.FieldErrors = carrierErr.FieldErrors

		// the carrier answered, so it can likely still quote the route; the
		// admin sees the courier options next to the failure when retrying
		weightKg := models.ItemsWeightKg(order.Items, models.DefaultItemWeightGrams)
		quotes, quoteErr := s.carrier.GetAvailableCouriers(ctx, "", order.Address.Pincode, weightKg, false)
		if quoteErr != nil {
			logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "error quoting couriers for failed shipment",
				zap.String("order_number", order.OrderNumber), zap.Error(quoteErr))
		} else {
			failure.Quotes = quotes
		}
	}
	if err := s.storage.SaveShipmentFailure(ctx, failure); err != nil {
		logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error persisting shipment failure",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
	}

	if order.Status == models.StatusShipmentFailed {
		// already marked, nothing to transition
		return
	}
	if _, err := s.transition(ctx, models.Transition{
		OrderNumber: order.OrderNumber,
		From:        order.Status,
		To:          models.StatusShipmentFailed,
		EventID:     "shipfail:" + uuid.NewString(),
	}); err != nil {
		logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error marking shipment failed",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
	}
}

// HandleShipmentEvent applies one verified carrier webhook event.
//
// Duplicate deliveries no-op through the (order, event id) guard; out-of-order
// deliveries are dropped by the monotonic shipment status check, e.g. a late
// "shipped" scan after "delivered" is logged and ignored.
func (s *LifecycleService) HandleShipmentEvent(ctx context.Context, event models.ShipmentEvent) error {
	shipment, err := s.storage.GetShipmentByAWB(ctx, event.AWB)
	if err != nil {
		return err
	}

	unlock := s.lockOrder(shipment.OrderNumber)
	defer unlock()

	order, err := s.storage.GetOrderByNumber(ctx, shipment.OrderNumber)
	if err != nil {
		return err
	}

	if ShipmentStatusRegresses(shipment.Status, event.Status) {
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "ignoring out-of-order shipment event",
			zap.String("awb", event.AWB),
			zap.String("current", string(shipment.Status)),
			zap.String("incoming", string(event.Status)))
		return nil
	}

	if event.Status == models.ShipmentCancelled {
		fresh, err := s.storage.RecordEvent(ctx, order.OrderNumber, event.EventID)
		if err != nil {
			return err
		}
		if !fresh {
			s.logDuplicateShipmentEvent(ctx, event)
			return nil
		}
		// a carrier-side cancellation does not cancel the order; the admin
		// re-ships it from SHIPMENT_FAILED
		if err = s.storage.UpdateShipmentStatus(ctx, event.AWB, models.ShipmentCancelled); err != nil {
			return err
		}
		return s.storage.AppendTrackingEvent(ctx, models.TrackingEvent{
			AWB: event.AWB, Status: event.Status, Description: event.Description, OccurredAt: event.OccurredAt,
		})
	}

	toOrderStatus, ok := orderStatusForShipment(event.Status)
	if !ok {
		// informational scans don't move the order but still claim their event
		// id, so a redelivered scan cannot extend the history twice
		fresh, err := s.storage.RecordEvent(ctx, order.OrderNumber, event.EventID)
		if err != nil {
			return err
		}
		if !fresh {
			s.logDuplicateShipmentEvent(ctx, event)
			return nil
		}
		return s.storage.AppendTrackingEvent(ctx, models.TrackingEvent{
			AWB: event.AWB, Status: event.Status, Description: event.Description, OccurredAt: event.OccurredAt,
		})
	}

	if err = CheckTransition(order.OrderNumber, order.Status, toOrderStatus); err != nil {
		// e.g. a delivered replay against a terminal order
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "ignoring shipment event for terminal order",
			zap.String("awb", event.AWB), zap.Error(err))
		return nil
	}

	applied, err := s.transition(ctx, models.Transition{
		OrderNumber: order.OrderNumber,
		From:        order.Status,
		To:          toOrderStatus,
		EventID:     event.EventID,
	})
	if err != nil {
		return err
	}
	if !applied {
		s.logDuplicateShipmentEvent(ctx, event)
		return nil
	}

	if err = s.storage.UpdateShipmentStatus(ctx, event.AWB, event.Status); err != nil {
		return err
	}
	if err = s.storage.AppendTrackingEvent(ctx, models.TrackingEvent{
		AWB: event.AWB, Status: event.Status, Description: event.Description, OccurredAt: event.OccurredAt,
	}); err != nil {
		return err
	}

	if toOrderStatus == models.StatusDelivered {
		s.notify(ctx, models.NotificationMessage{
			EventID:   event.EventID,
			Template:  models.TemplateDelivery,
			Recipient: order.CustomerEmail,
			Data: map[string]string{
				"order_number": order.OrderNumber,
				"awb":          event.AWB,
			},
		})
	}
	return nil
}

// CancelOrder cancels an order that has not shipped yet. For paid orders the
// captured amount is refunded in full before the transition.
func (s *LifecycleService) CancelOrder(ctx context.Context, orderNumber, reason string) error {
	unlock := s.lockOrder(orderNumber)
	defer unlock()

	order, err := s.storage.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return err
	}
	if err = CheckTransition(orderNumber, order.Status, models.StatusCancelled); err != nil {
		return err
	}

	t := models.Transition{
		OrderNumber: orderNumber,
		From:        order.Status,
		To:          models.StatusCancelled,
		EventID:     "cancel:" + orderNumber,
	}

	if order.Status == models.StatusPaid {
		refund, refundErr := s.refundLocked(ctx, order, order.TotalAmount, reason)
		if refundErr != nil {
			return refundErr
		}
		t.EventID = refund.GatewayRefundID
		t.PaymentStatus = models.PaymentRefunded
	}

	_, err = s.transition(ctx, t)
	return err
}

// RefundPayment issues a partial or full refund for a paid order.
func (s *LifecycleService) RefundPayment(ctx context.Context, orderNumber string, amountMinor int64, reason string) (models.RefundRecord, error) {
	unlock := s.lockOrder(orderNumber)
	defer unlock()

	order, err := s.storage.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return models.RefundRecord{}, err
	}
	return s.refundLocked(ctx, order, amountMinor, reason)
}

// refundLocked re-checks the refund invariant before touching the gateway:
// the sum of a payment's refunds must never exceed its captured amount.
// The caller must hold the order lock.
func (s *LifecycleService) refundLocked(ctx context.Context, order models.Order, amountMinor int64, reason string) (models.RefundRecord, error) {
	payment, err := s.storage.GetPaymentByGatewayOrderID(ctx, order.GatewayOrderID)
	if err != nil {
		return models.RefundRecord{}, err
	}
	if payment.Status != models.PaymentCaptured {
		return models.RefundRecord{}, &customerrors.ValidationError{
			Field: "payment", Message: "only captured payments can be refunded",
		}
	}

	refunded, err := s.storage.SumRefunds(ctx, payment.GatewayPaymentID)
	if err != nil {
		return models.RefundRecord{}, err
	}
	if refunded+amountMinor > payment.Amount {
		return models.RefundRecord{}, customerrors.ErrRefundExceedsCaptured
	}

	refund, err := s.gateway.Refund(ctx, payment.GatewayPaymentID, amountMinor, reason)
	if err != nil {
		return models.RefundRecord{}, err
	}
	if err = s.storage.SaveRefundRecord(ctx, refund); err != nil {
		return models.RefundRecord{}, fmt.Errorf("error persisting refund record: %w", err)
	}
	return refund, nil
}

// GetOrder retrieves an order, firstly from cache, then storage.
// Caches the found value on cache miss.
func (s *LifecycleService) GetOrder(ctx context.Context, orderNumber string) (models.Order, error) {
	result, found, err := s.cache.Get(ctx, orderNumber)
	if err != nil {
		return models.Order{}, fmt.Errorf("error checking orders cache: %w", err)
	}
	if found {
		return result, nil
	}

	// refill under the order lock: a transition cannot slip between the
	// storage read and the cache write and leave a stale status cached
	unlock := s.lockOrder(orderNumber)
	defer unlock()

	result, err = s.storage.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return models.Order{}, err
	}

	if cacheErr := s.cache.Set(ctx, orderNumber, result); cacheErr != nil {
		logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error caching order",
			zap.String("key", orderNumber), zap.Error(cacheErr))
	}
	return result, nil
}

// ListRecentOrders gets a list of last <=limit orders for the admin console
func (s *LifecycleService) ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	result, err := s.storage.ListRecentOrders(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("error getting recent orders: %w", err)
	}
	return result, nil
}

// TrackShipment returns the stored tracking history for an AWB, extended by a
// live carrier snapshot when the carrier answers in time
func (s *LifecycleService) TrackShipment(ctx context.Context, awb string) (models.ShipmentRecord, []models.TrackingEvent, error) {
	shipment, err := s.storage.GetShipmentByAWB(ctx, awb)
	if err != nil {
		return models.ShipmentRecord{}, nil, err
	}

	events, err := s.storage.ListTrackingEvents(ctx, awb)
	if err != nil {
		return models.ShipmentRecord{}, nil, err
	}

	if live, liveErr := s.carrier.TrackShipment(ctx, awb); liveErr == nil && len(live) > len(events) {
		events = live
	} else if liveErr != nil && !errors.Is(liveErr, customerrors.ErrTrackingUnavailable) {
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "live tracking lookup failed",
			zap.String("awb", awb), zap.Error(liveErr))
	}

	return shipment, events, nil
}

// transition runs the legality check and the storage write together
func (s *LifecycleService) transition(ctx context.Context, t models.Transition) (bool, error) {
	if err := CheckTransition(t.OrderNumber, t.From, t.To); err != nil {
		// an event already applied through the other ingestion path arrives
		// with a stale From; that is a replay, not an error
		seen, seenErr := s.storage.WasEventProcessed(ctx, t.OrderNumber, t.EventID)
		if seenErr != nil {
			return false, seenErr
		}
		if seen {
			return false, nil
		}
		return false, err
	}

	applied, err := s.storage.ApplyTransition(ctx, t)
	if err != nil {
		return false, err
	}
	if applied {
		s.dropCachedOrder(ctx, t.OrderNumber)
		s.observer(t.To)
		logger.GetOrCreateLoggerFromCtx(ctx).Info(ctx, "order transition",
			zap.String("order_number", t.OrderNumber),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.String("event_id", t.EventID))
	}
	return applied, nil
}

// dropCachedOrder invalidates the cached order after a write; the next
// GetOrder refills from storage
func (s *LifecycleService) dropCachedOrder(ctx context.Context, orderNumber string) {
	if err := s.cache.Delete(ctx, orderNumber); err != nil {
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "error invalidating cached order",
			zap.String("key", orderNumber), zap.Error(err))
	}
}

func (s *LifecycleService) logDuplicateShipmentEvent(ctx context.Context, event models.ShipmentEvent) {
	metrics.WebhooksDuplicateTotal.WithLabelValues("carrier").Inc()
	logger.GetOrCreateLoggerFromCtx(ctx).Info(ctx, "duplicate shipment event",
		zap.String("awb", event.AWB), zap.String("event_id", event.EventID))
}

// notify publishes a notification message for the out-of-band dispatcher.
// Best-effort: a publish failure is logged and dropped, it never rolls back
// or blocks the transition that triggered it.
func (s *LifecycleService) notify(ctx context.Context, msg models.NotificationMessage) {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.publisher.Publish(publishCtx, msg); err != nil {
		logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error publishing notification",
			zap.String("template", string(msg.Template)), zap.Error(err))
	}
}
