package carrier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hmacHexDigest(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func carrierTestConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Email:         "ops@example.com",
		Password:      "carrier-password",
		WebhookSecret: "carrier-webhook-secret",
		Timeout:       5 * time.Second,
	}
}

func shippableOrder() models.Order {
	return models.Order{
		OrderNumber:   "MTA-abc12345",
		TotalAmount:   249900,
		Currency:      "INR",
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
		CreatedAt: time.Now(),
	}
}

// carrierServer fakes the carrier API: login plus whatever extra routes a test registers
func carrierServer(t *testing.T, logins *atomic.Int32, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "ops@example.com", creds["email"])
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	return httptest.NewServer(mux)
}

func TestGetAuthToken_SingleFlightUnderConcurrency(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/settings/company/pickup", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"shipping_address":[{"pickup_location":"Warehouse BLR"}]}}`))
	})
	server := carrierServer(t, &logins, mux)
	defer server.Close()

	var refreshes atomic.Int32
	c := NewShiprocketCarrier(carrierTestConfig(server.URL), func() { refreshes.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pickup, err := c.resolvePickupLocation(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "Warehouse BLR", pickup)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), logins.Load(), "concurrent callers must share one login")
	assert.Equal(t, int32(1), refreshes.Load())

	// token is cached, a later call does not log in again
	_, err := c.resolvePickupLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), logins.Load())
}

func TestCall_DropsTokenOn401(t *testing.T) {
	var logins atomic.Int32
	unauthorized := true
	mux := http.NewServeMux()
	mux.HandleFunc("/settings/company/pickup", func(w http.ResponseWriter, _ *http.Request) {
		if unauthorized {
			unauthorized = false
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"shipping_address":[{"pickup_location":"Warehouse BLR"}]}}`))
	})
	server := carrierServer(t, &logins, mux)
	defer server.Close()

	c := NewShiprocketCarrier(carrierTestConfig(server.URL), nil)

	_, err := c.resolvePickupLocation(context.Background())
	var carrierErr *customerrors.CarrierError
	require.ErrorAs(t, err, &carrierErr)
	assert.Equal(t, http.StatusUnauthorized, carrierErr.HTTPStatus)

	// the stale token was dropped, the retry logs in again and succeeds
	pickup, err := c.resolvePickupLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Warehouse BLR", pickup)
	assert.Equal(t, int32(2), logins.Load())
}

func TestCreateShipment_Success(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/settings/company/pickup", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"shipping_address":[{"pickup_location":"Warehouse BLR"}]}}`))
	})
	mux.HandleFunc("/shipments/create/forward-shipment", func(w http.ResponseWriter, r *http.Request) {
		var req createShipmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "MTA-abc12345", req.OrderID)
		assert.Equal(t, "Warehouse BLR", req.PickupLocation)
		assert.Equal(t, "Prepaid", req.PaymentMethod)
		assert.InDelta(t, 2499.0, req.SubTotal, 0.001, "sub total is in rupees")
		assert.InDelta(t, 1.6, req.WeightKg, 0.001, "2 x 800g")
		require.Len(t, req.OrderItems, 1)
		assert.Equal(t, 2, req.OrderItems[0].Units)

		_ = json.NewEncoder(w).Encode(createShipmentResponse{
			ShipmentID:  "424242",
			AWBCode:     "AWB123",
			CourierName: "Delhivery Surface",
			ETD:         "2026-09-02 18:00:00",
		})
	})
	server := carrierServer(t, &logins, mux)
	defer server.Close()

	c := NewShiprocketCarrier(carrierTestConfig(server.URL), nil)
	rec, err := c.CreateShipment(context.Background(), shippableOrder(), "")
	require.NoError(t, err)

	assert.Equal(t, "AWB123", rec.AWB)
	assert.Equal(t, "MTA-abc12345", rec.OrderNumber)
	assert.Equal(t, "424242", rec.CarrierShipmentID)
	assert.Equal(t, "Delhivery Surface", rec.CourierName)
	assert.Equal(t, models.ShipmentCreated, rec.Status)
	assert.Contains(t, rec.TrackingURL, "AWB123")
	assert.Equal(t, 2026, rec.EstimatedDelivery.Year())
}

func TestCreateShipment_InvalidAddressNeverReachesCarrier(t *testing.T) {
	var logins atomic.Int32
	server := carrierServer(t, &logins, http.NewServeMux())
	defer server.Close()

	c := NewShiprocketCarrier(carrierTestConfig(server.URL), nil)

	order := shippableOrder()
	order.Address.Pincode = "0001"
	_, err := c.CreateShipment(context.Background(), order, "")

	var validationErr *customerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "pincode", validationErr.Field)
	assert.Equal(t, int32(0), logins.Load())

	order = shippableOrder()
	order.Address.Phone = ""
	order.Address.City = ""
	_, err = c.CreateShipment(context.Background(), order, "")

	var missingErr *customerrors.MissingFieldsError
	require.ErrorAs(t, err, &missingErr)
	assert.ElementsMatch(t, []string{"city", "phone"}, missingErr.Fields)
}

func TestCreateShipment_FieldErrorsFrom422(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/settings/company/pickup", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"shipping_address":[{"pickup_location":"Warehouse BLR"}]}}`))
	})
	mux.HandleFunc("/shipments/create/forward-shipment", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"The given data was invalid.","errors":{"billing_pincode":["The billing pincode does not exist."]}}`))
	})
	server := carrierServer(t, &logins, mux)
	defer server.Close()

	c := NewShiprocketCarrier(carrierTestConfig(server.URL), nil)
	_, err := c.CreateShipment(context.Background(), shippableOrder(), "")

	var carrierErr *customerrors.CarrierError
	require.ErrorAs(t, err, &carrierErr)
	assert.Equal(t, http.StatusUnprocessableEntity, carrierErr.HTTPStatus)
	assert.Equal(t, "The billing pincode does not exist.", carrierErr.FieldErrors["billing_pincode"])
}

func TestTrackShipment_UnavailableWhenNoData(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/courier/track/awb/AWB123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_data":{"track_status":0}}`))
	})
	server := carrierServer(t, &logins, mux)
	defer server.Close()

	c := NewShiprocketCarrier(carrierTestConfig(server.URL), nil)
	_, err := c.TrackShipment(context.Background(), "AWB123")
	assert.ErrorIs(t, err, customerrors.ErrTrackingUnavailable)
}

func TestTrackShipment_MapsActivities(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/courier/track/awb/AWB123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_data":{"track_status":1,"shipment_track_activities":[{"activities":[
			{"date":"2026-08-29 10:00:00","sr-status-label":"PICKED UP","activity":"Shipment picked up"},
			{"date":"2026-08-30 08:15:00","sr-status-label":"DELIVERED","activity":"Delivered to consignee"}
		]}]}}`))
	})
	server := carrierServer(t, &logins, mux)
	defer server.Close()

	c := NewShiprocketCarrier(carrierTestConfig(server.URL), nil)
	events, err := c.TrackShipment(context.Background(), "AWB123")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.ShipmentInTransit, events[0].Status)
	assert.Equal(t, models.ShipmentDelivered, events[1].Status)
	assert.Equal(t, "Delivered to consignee", events[1].Description)
}

func TestVerifyWebhookSignature_Carrier(t *testing.T) {
	c := NewShiprocketCarrier(carrierTestConfig("http://unused"), nil)
	payload := []byte(`{"awb":"AWB123","current_status":"Delivered"}`)

	valid := hmacHexDigest(payload, "carrier-webhook-secret")
	assert.True(t, c.VerifyWebhookSignature(payload, valid))
	assert.False(t, c.VerifyWebhookSignature(payload, hmacHexDigest(payload, "wrong-secret")))
	assert.False(t, c.VerifyWebhookSignature([]byte(`{"awb":"AWB999"}`), valid))
}

func TestMapCarrierStatus(t *testing.T) {
	assert.Equal(t, models.ShipmentDelivered, MapCarrierStatus("Delivered"))
	assert.Equal(t, models.ShipmentCancelled, MapCarrierStatus("CANCELED"))
	assert.Equal(t, models.ShipmentInTransit, MapCarrierStatus("In Transit"))
	assert.Equal(t, models.ShipmentInTransit, MapCarrierStatus("Out For Delivery"))
	assert.Equal(t, models.ShipmentCreated, MapCarrierStatus("Manifest Generated"))
}

func TestGetAvailableCouriers_DefaultsPickupPincode(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/courier/serviceability/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "110001", r.URL.Query().Get("pickup_postcode"))
		assert.Equal(t, "560001", r.URL.Query().Get("delivery_postcode"))
		assert.Equal(t, "1.60", r.URL.Query().Get("weight"))
		_, _ = w.Write([]byte(`{"data":{"available_courier_companies":[
			{"courier_company_id":10,"courier_name":"Delhivery Surface","rate":125.5,"estimated_delivery_days":"4"}
		]}}`))
	})
	server := carrierServer(t, &logins, mux)
	defer server.Close()

	cfg := carrierTestConfig(server.URL)
	cfg.PickupPincode = "110001"
	c := NewShiprocketCarrier(cfg, nil)

	quotes, err := c.GetAvailableCouriers(context.Background(), "", "560001", 1.6, false)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "Delhivery Surface", quotes[0].CourierName)
	assert.Equal(t, int64(12550), quotes[0].RateMinor)
	assert.Equal(t, 4, quotes[0].EstimatedDays)
}
