package httphandlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/carrier"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/metrics"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/ports"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/service"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBodySize = 1 << 20 // 1 MiB is far above anything the providers send

// StoreHandler wires the lifecycle service into the HTTP surface
type StoreHandler struct {
	service    *service.LifecycleService
	gateway    ports.PaymentGateway
	carrier    ports.ShipmentCarrier
	adminToken string
	listLimit  int
}

// NewStoreHandler creates the handler set
func NewStoreHandler(lifecycle *service.LifecycleService, gateway ports.PaymentGateway, shipper ports.ShipmentCarrier, adminToken string, listLimit int) *StoreHandler {
	return &StoreHandler{
		service:    lifecycle,
		gateway:    gateway,
		carrier:    shipper,
		adminToken: adminToken,
		listLimit:  listLimit,
	}
}

// Router builds the chi router with all public, admin and webhook endpoints
func (h *StoreHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/payments/verify", h.verifyPayment)
		r.Post("/payments/webhook", h.paymentWebhook)
		r.Post("/shiprocket/webhook", h.carrierWebhook)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(h.adminToken))
			r.Get("/orders", h.listOrders)
			r.Post("/orders/{id}/ship", h.shipOrder)
			r.Post("/orders/{id}/cancel", h.cancelOrder)
		})
	})

	r.Get("/track/{awb}", h.trackShipment)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type createOrderRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	Address       struct {
		Line1   string `json:"line1"`
		Line2   string `json:"line2"`
		City    string `json:"city"`
		State   string `json:"state"`
		Pincode string `json:"pincode"`
		Country string `json:"country"`
		Phone   string `json:"phone"`
	} `json:"address"`
	Items []struct {
		SKU         string `json:"sku"`
		Name        string `json:"name"`
		UnitPrice   int64  `json:"unit_price"`
		Quantity    int    `json:"quantity"`
		WeightGrams int    `json:"weight_grams"`
	} `json:"items"`
}

type orderResponse struct {
	OrderNumber    string    `json:"order_number"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	TotalAmount    int64     `json:"total_amount"`
	Currency       string    `json:"currency"`
	GatewayOrderID string    `json:"gateway_order_id,omitempty"`
	AWB            string    `json:"awb,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toOrderResponse(order models.Order) orderResponse {
	return orderResponse{
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		GatewayOrderID: order.GatewayOrderID,
		AWB:            order.AWB,
		CreatedAt:      order.CreatedAt,
	}
}

func (h *StoreHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &customerrors.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}

	order := models.Order{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Address: models.Address{
			Line1:   req.Address.Line1,
			Line2:   req.Address.Line2,
			City:    req.Address.City,
			State:   req.Address.State,
			Pincode: req.Address.Pincode,
			Country: req.Address.Country,
			Phone:   req.Address.Phone,
		},
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, models.OrderItem{
			SKU:         item.SKU,
			Name:        item.Name,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			WeightGrams: item.WeightGrams,
		})
	}

	created, err := h.service.CreateOrder(r.Context(), order)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "order created", toOrderResponse(created))
}

func (h *StoreHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "order", toOrderResponse(order))
}

func (h *StoreHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListRecentOrders(r.Context(), h.listLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderResponse(order))
	}
	writeSuccess(w, http.StatusOK, "orders", result)
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

func (h *StoreHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &customerrors.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}

	err := h.service.ConfirmPayment(r.Context(), req.GatewayOrderID, req.GatewayPaymentID, req.Signature, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "payment verified", nil)
}

// razorpayWebhook is the subset of the gateway's webhook schema we act on;
// the payload is treated as opaque until the signature over the raw bytes
// has been verified
type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int64  `json:"amount"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (h *StoreHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics.WebhooksReceivedTotal.WithLabelValues("gateway").Inc()
	timer := time.Now()
	defer func() {
		metrics.WebhookProcessingDuration.WithLabelValues("gateway").Observe(time.Since(timer).Seconds())
	}()

	// step 1: raw body first, before any parsing
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, r, &customerrors.ValidationError{Field: "body", Message: "unreadable body"})
		return
	}

	// step 2: signature over the raw bytes
	if !h.gateway.VerifyWebhookSignature(raw, r.Header.Get("X-Razorpay-Signature")) {
		metrics.WebhooksInvalidSignatureTotal.WithLabelValues("gateway").Inc()
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "gateway webhook signature rejected",
			zap.String("remote", r.RemoteAddr))
		writeError(w, r, customerrors.ErrInvalidSignature)
		return
	}

	// step 3: parse
	var payload razorpayWebhook
	if err = json.Unmarshal(raw, &payload); err != nil {
		writeError(w, r, &customerrors.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}

	// step 4+5: map to a domain event and hand off
	switch payload.Event {
	case "payment.captured":
		err = h.service.ConfirmPayment(ctx,
			payload.Payload.Payment.Entity.OrderID,
			payload.Payload.Payment.Entity.ID,
			"", true)
		if err != nil {
			writeError(w, r, err)
			return
		}
	default:
		logger.GetOrCreateLoggerFromCtx(ctx).Info(ctx, "ignoring gateway webhook event",
			zap.String("event", payload.Event))
	}

	writeSuccess(w, http.StatusOK, "ok", nil)
}

// shiprocketWebhook is the subset of the carrier's webhook schema we act on
type shiprocketWebhook struct {
	AWB           string `json:"awb"`
	CurrentStatus string `json:"current_status"`
	CourierName   string `json:"courier_name"`
	Remarks       string `json:"remarks"`
	Timestamp     string `json:"current_timestamp"`
}

func (h *StoreHandler) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics.WebhooksReceivedTotal.WithLabelValues("carrier").Inc()
	timer := time.Now()
	defer func() {
		metrics.WebhookProcessingDuration.WithLabelValues("carrier").Observe(time.Since(timer).Seconds())
	}()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, r, &customerrors.ValidationError{Field: "body", Message: "unreadable body"})
		return
	}

	if !h.carrier.VerifyWebhookSignature(raw, r.Header.Get("X-Shiprocket-Signature")) {
		metrics.WebhooksInvalidSignatureTotal.WithLabelValues("carrier").Inc()
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "carrier webhook signature rejected",
			zap.String("remote", r.RemoteAddr))
		writeError(w, r, customerrors.ErrInvalidSignature)
		return
	}

	var payload shiprocketWebhook
	if err = json.Unmarshal(raw, &payload); err != nil {
		writeError(w, r, &customerrors.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	if payload.AWB == "" {
		writeError(w, r, &customerrors.ValidationError{Field: "awb", Message: "is required"})
		return
	}

	occurred, parseErr := time.Parse("2006-01-02 15:04:05", payload.Timestamp)
	if parseErr != nil {
		occurred = time.Now()
	}

	// the carrier sends no event id; a digest of the raw body is stable
	// across duplicate deliveries of the same event
	digest := sha256.Sum256(raw)

	err = h.service.HandleShipmentEvent(ctx, models.ShipmentEvent{
		EventID:     "carrier:" + hex.EncodeToString(digest[:16]),
		AWB:         payload.AWB,
		Status:      carrier.MapCarrierStatus(payload.CurrentStatus),
		Description: payload.Remarks,
		CourierName: payload.CourierName,
		OccurredAt:  occurred,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ok", nil)
}

type shipOrderRequest struct {
	Courier string `json:"courier"`
}

func (h *StoreHandler) shipOrder(w http.ResponseWriter, r *http.Request) {
	var req shipOrderRequest
	if r.Body != nil {
		// body is optional, courier override only
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.CreateShipment(r.Context(), chi.URLParam(r, "id"), req.Courier); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "shipment created", nil)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *StoreHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "order cancelled", nil)
}

type trackResponse struct {
	AWB         string          `json:"awb"`
	CourierName string          `json:"courier_name"`
	Status      string          `json:"status"`
	TrackingURL string          `json:"tracking_url"`
	ETD         time.Time       `json:"estimated_delivery,omitempty"`
	History     []trackingEvent `json:"history"`
}

type trackingEvent struct {
	Status      string    `json:"status"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (h *StoreHandler) trackShipment(w http.ResponseWriter, r *http.Request) {
	shipment, events, err := h.service.TrackShipment(r.Context(), chi.URLParam(r, "awb"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := trackResponse{
		AWB:         shipment.AWB,
		CourierName: shipment.CourierName,
		Status:      string(shipment.Status),
		TrackingURL: shipment.TrackingURL,
		ETD:         shipment.EstimatedDelivery,
		History:     make([]trackingEvent, 0, len(events)),
	}
	for _, event := range events {
		resp.History = append(resp.History, trackingEvent{
			Status:      string(event.Status),
			Description: event.Description,
			OccurredAt:  event.OccurredAt,
		})
	}
	writeSuccess(w, http.StatusOK, "tracking", resp)
}
