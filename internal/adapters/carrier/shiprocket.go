package carrier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/validators"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// the carrier issues tokens valid for 10 days; refresh a little early
	tokenLifetime = 9 * 24 * time.Hour

	defaultPickupLocation = "Primary"
)

// Config holds carrier credentials, read by cleanenv
type Config struct {
	BaseURL       string        `yaml:"base_url" env:"BASE_URL" env-default:"https://apiv2.shiprocket.in/v1/external"`
	Email         string        `yaml:"email" env:"EMAIL"`
	Password      string        `yaml:"password" env:"PASSWORD"`
	WebhookSecret string        `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	PickupPincode string        `yaml:"pickup_pincode" env:"PICKUP_PINCODE"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"30s"`
}

// ShiprocketCarrier is the ports.ShipmentCarrier implementation for Shiprocket.
//
// The cached bearer token is its only internal state. Refresh is serialized
// through a singleflight group: a second caller awaits the in-flight login
// instead of issuing a duplicate one.
type ShiprocketCarrier struct {
	cfg    Config
	client *http.Client

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time

	refresh singleflight.Group

	// onAuthRefresh is called after every successful login, e.g. to bump a metric
	onAuthRefresh func()
}

// NewShiprocketCarrier creates a carrier adapter with a request timeout from cfg
func NewShiprocketCarrier(cfg Config, onAuthRefresh func()) *ShiprocketCarrier {
	if onAuthRefresh == nil {
		onAuthRefresh = func() {}
	}
	return &ShiprocketCarrier{
		cfg:           cfg,
		client:        &http.Client{Timeout: cfg.Timeout},
		onAuthRefresh: onAuthRefresh,
	}
}

// getAuthToken returns a valid bearer token, transparently re-authenticating
// when the cached one is absent or past expiry
func (c *ShiprocketCarrier) getAuthToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiry := c.token, c.tokenExpiry
	c.mu.RUnlock()

	if token != "" && time.Now().Before(expiry) {
		return token, nil
	}

	result, err, _ := c.refresh.Do("login", func() (any, error) {
		return c.login(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *ShiprocketCarrier) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("error marshalling login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("error creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &customerrors.CarrierUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &customerrors.CarrierUnavailableError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", carrierErrorFromResponse(resp.StatusCode, data)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err = json.Unmarshal(data, &loginResp); err != nil {
		return "", fmt.Errorf("error unmarshalling login response: %w", err)
	}
	if loginResp.Token == "" {
		return "", &customerrors.AuthError{Message: "carrier login returned empty token"}
	}

	c.mu.Lock()
	c.token = loginResp.Token
	c.tokenExpiry = time.Now().Add(tokenLifetime)
	c.mu.Unlock()

	c.onAuthRefresh()
	return loginResp.Token, nil
}

type createShipmentRequest struct {
	OrderID         string                `json:"order_id"`
	OrderDate       string                `json:"order_date"`
	PickupLocation  string                `json:"pickup_location"`
	BillingName     string                `json:"billing_customer_name"`
	BillingAddress  string                `json:"billing_address"`
	BillingAddress2 string                `json:"billing_address_2,omitempty"`
	BillingCity     string                `json:"billing_city"`
	BillingState    string                `json:"billing_state"`
	BillingPincode  string                `json:"billing_pincode"`
	BillingCountry  string                `json:"billing_country"`
	BillingEmail    string                `json:"billing_email"`
	BillingPhone    string                `json:"billing_phone"`
	OrderItems      []createShipmentItem  `json:"order_items"`
	PaymentMethod   string                `json:"payment_method"`
	SubTotal        float64               `json:"sub_total"`
	WeightKg        float64               `json:"weight"`
	CourierName     string                `json:"courier_name,omitempty"`
}

type createShipmentItem struct {
	Name     string  `json:"name"`
	SKU      string  `json:"sku"`
	Units    int     `json:"units"`
	Selling  float64 `json:"selling_price"`
}

type createShipmentResponse struct {
	ShipmentID  json.Number `json:"shipment_id"`
	AWBCode     string      `json:"awb_code"`
	CourierName string      `json:"courier_name"`
	ETD         string      `json:"etd"`
}

// CreateShipment validates the order's address, resolves the pickup location
// and registers the shipment with the carrier. The order must already be paid;
// the lifecycle service owns that check.
func (c *ShiprocketCarrier) CreateShipment(ctx context.Context, order models.Order, courierOverride string) (models.ShipmentRecord, error) {
	warn, err := validators.ValidateShipmentAddress(order)
	if err != nil {
		return models.ShipmentRecord{}, err
	}
	if warn != nil {
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "shipment address warning",
			zap.String("order_number", order.OrderNumber), zap.Error(warn))
	}

	pickup, err := c.resolvePickupLocation(ctx)
	if err != nil {
		// pickup resolution is best-effort, the default name is accepted
		logger.GetOrCreateLoggerFromCtx(ctx).Warn(ctx, "falling back to default pickup location", zap.Error(err))
		pickup = defaultPickupLocation
	}

	req := createShipmentRequest{
		OrderID:         order.OrderNumber,
		OrderDate:       order.CreatedAt.Format("2006-01-02"),
		PickupLocation:  pickup,
		BillingName:     order.CustomerName,
		BillingAddress:  order.Address.Line1,
		BillingAddress2: order.Address.Line2,
		BillingCity:     order.Address.City,
		BillingState:    order.Address.State,
		BillingPincode:  order.Address.Pincode,
		BillingCountry:  order.Address.Country,
		BillingEmail:    order.CustomerEmail,
		BillingPhone:    order.Address.Phone,
		PaymentMethod:   "Prepaid",
		SubTotal:        float64(order.TotalAmount) / 100,
		WeightKg:        models.ItemsWeightKg(order.Items, models.DefaultItemWeightGrams),
		CourierName:     courierOverride,
	}
	for _, item := range order.Items {
		req.OrderItems = append(req.OrderItems, createShipmentItem{
			Name:    item.Name,
			SKU:     item.SKU,
			Units:   item.Quantity,
			Selling: float64(item.UnitPrice) / 100,
		})
	}

	var resp createShipmentResponse
	if err = c.call(ctx, http.MethodPost, "/shipments/create/forward-shipment", req, &resp); err != nil {
		return models.ShipmentRecord{}, err
	}

	etd, _ := time.Parse("2006-01-02 15:04:05", resp.ETD)

	return models.ShipmentRecord{
		AWB:               resp.AWBCode,
		OrderNumber:       order.OrderNumber,
		CarrierShipmentID: resp.ShipmentID.String(),
		CourierName:       resp.CourierName,
		TrackingURL:       "https://shiprocket.co/tracking/" + resp.AWBCode,
		Status:            models.ShipmentCreated,
		EstimatedDelivery: etd,
		CreatedAt:         time.Now(),
	}, nil
}

// TrackShipment returns the carrier's tracking history for the AWB, newest last
func (c *ShiprocketCarrier) TrackShipment(ctx context.Context, awb string) ([]models.TrackingEvent, error) {
	var resp struct {
		TrackingData struct {
			TrackStatus int `json:"track_status"`
			Shipment    []struct {
				Activities []struct {
					Date     string `json:"date"`
					Status   string `json:"sr-status-label"`
					Activity string `json:"activity"`
				} `json:"activities"`
			} `json:"shipment_track_activities"`
		} `json:"tracking_data"`
	}

	if err := c.call(ctx, http.MethodGet, "/courier/track/awb/"+awb, nil, &resp); err != nil {
		return nil, err
	}
	if resp.TrackingData.TrackStatus == 0 || len(resp.TrackingData.Shipment) == 0 {
		return nil, customerrors.ErrTrackingUnavailable
	}

	var events []models.TrackingEvent
	for _, activity := range resp.TrackingData.Shipment[0].Activities {
		occurred, _ := time.Parse("2006-01-02 15:04:05", activity.Date)
		events = append(events, models.TrackingEvent{
			AWB:         awb,
			Status:      MapCarrierStatus(activity.Status),
			Description: activity.Activity,
			OccurredAt:  occurred,
		})
	}
	return events, nil
}

// CancelShipment asks the carrier to cancel the shipment behind the AWB
func (c *ShiprocketCarrier) CancelShipment(ctx context.Context, awb string) error {
	return c.call(ctx, http.MethodPost, "/orders/cancel/shipment/awbs", map[string]any{
		"awbs": []string{awb},
	}, nil)
}

// GetAvailableCouriers returns serviceability quotes for the route and weight.
// An empty pickupPostcode falls back to the configured warehouse pincode.
func (c *ShiprocketCarrier) GetAvailableCouriers(ctx context.Context, pickupPostcode, deliveryPostcode string, weightKg float64, cod bool) ([]models.CourierQuote, error) {
	if pickupPostcode == "" {
		pickupPostcode = c.cfg.PickupPincode
	}
	codFlag := "0"
	if cod {
		codFlag = "1"
	}
	query := url.Values{
		"pickup_postcode":   {pickupPostcode},
		"delivery_postcode": {deliveryPostcode},
		"weight":            {strconv.FormatFloat(weightKg, 'f', 2, 64)},
		"cod":               {codFlag},
	}

	var resp struct {
		Data struct {
			AvailableCouriers []struct {
				CourierID    int     `json:"courier_company_id"`
				CourierName  string  `json:"courier_name"`
				Rate         float64 `json:"rate"`
				EstimatedDays string `json:"estimated_delivery_days"`
			} `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/courier/serviceability/?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	quotes := make([]models.CourierQuote, 0, len(resp.Data.AvailableCouriers))
	for _, courier := range resp.Data.AvailableCouriers {
		days, _ := strconv.Atoi(courier.EstimatedDays)
		quotes = append(quotes, models.CourierQuote{
			CourierID:     courier.CourierID,
			CourierName:   courier.CourierName,
			RateMinor:     int64(courier.Rate * 100),
			EstimatedDays: days,
		})
	}
	return quotes, nil
}

// VerifyWebhookSignature checks the carrier webhook signature over the raw
// body, keyed by the configured webhook secret. Constant-time compare.
func (c *ShiprocketCarrier) VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool {
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(rawPayload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// resolvePickupLocation queries the carrier for configured pickup addresses
// and returns the first one
func (c *ShiprocketCarrier) resolvePickupLocation(ctx context.Context) (string, error) {
	var resp struct {
		Data struct {
			ShippingAddress []struct {
				PickupLocation string `json:"pickup_location"`
			} `json:"shipping_address"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/settings/company/pickup", nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Data.ShippingAddress) == 0 {
		return "", fmt.Errorf("no pickup locations configured")
	}
	return resp.Data.ShippingAddress[0].PickupLocation, nil
}

// call performs one bearer-authenticated request and decodes the 2xx response
// into out. 422 responses surface the carrier's field-level errors, other
// non-2xx become a generic CarrierError, network failures become
// CarrierUnavailableError; nothing is retried here.
func (c *ShiprocketCarrier) call(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.getAuthToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return fmt.Errorf("error marshalling carrier request: %w", marshalErr)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating carrier request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &customerrors.CarrierUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &customerrors.CarrierUnavailableError{Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// stale token, drop the cache so the next call logs in again
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return carrierErrorFromResponse(resp.StatusCode, data)
	}

	if out != nil {
		if err = json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("error unmarshalling carrier response: %w", err)
		}
	}
	return nil
}

// carrierErrorFromResponse maps a non-2xx carrier response to CarrierError,
// pulling field-level messages out of 422 validation bodies
func carrierErrorFromResponse(status int, data []byte) error {
	var errResp struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	_ = json.Unmarshal(data, &errResp)
	if errResp.Message == "" {
		errResp.Message = http.StatusText(status)
	}

	carrierErr := &customerrors.CarrierError{
		Code:       strconv.Itoa(status),
		Message:    errResp.Message,
		HTTPStatus: status,
	}
	if status == http.StatusUnprocessableEntity && len(errResp.Errors) > 0 {
		carrierErr.FieldErrors = make(map[string]string, len(errResp.Errors))
		for field, messages := range errResp.Errors {
			if len(messages) > 0 {
				carrierErr.FieldErrors[field] = messages[0]
			}
		}
	}
	return carrierErr
}

// MapCarrierStatus translates the carrier's human status labels to the
// domain shipment statuses
func MapCarrierStatus(label string) models.ShipmentStatus {
	switch {
	case strings.EqualFold(label, "DELIVERED"):
		return models.ShipmentDelivered
	case strings.EqualFold(label, "CANCELED"), strings.EqualFold(label, "CANCELLED"):
		return models.ShipmentCancelled
	case strings.EqualFold(label, "PICKED UP"), strings.EqualFold(label, "IN TRANSIT"),
		strings.EqualFold(label, "SHIPPED"), strings.EqualFold(label, "OUT FOR DELIVERY"):
		return models.ShipmentInTransit
	default:
		return models.ShipmentCreated
	}
}
