package httphandlers

import (
	"encoding/json"
	"net/http"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

type successEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{Success: true, Message: message, Data: data})
}

// writeError maps the domain error taxonomy onto HTTP statuses. Upstream 5xx
// and unknown errors never leak details to the client, only a generic message
// plus a correlation id for support lookup.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	status, body := http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal error"}

	var (
		validationErr    *customerrors.ValidationError
		missingFieldsErr *customerrors.MissingFieldsError
		transitionErr    *customerrors.InvalidTransitionError
		gatewayErr       *customerrors.GatewayError
		carrierErr       *customerrors.CarrierError
		authErr          *customerrors.AuthError
		gatewayDownErr   *customerrors.GatewayUnavailableError
		carrierDownErr   *customerrors.CarrierUnavailableError
	)

	switch {
	case errors.As(err, &validationErr):
		status, body = http.StatusBadRequest, errorBody{Code: "VALIDATION", Message: validationErr.Error()}
	case errors.As(err, &missingFieldsErr):
		status, body = http.StatusBadRequest, errorBody{
			Code: "MISSING_FIELDS", Message: missingFieldsErr.Error(), Details: missingFieldsErr.Fields,
		}
	case errors.Is(err, customerrors.ErrInvalidSignature):
		status, body = http.StatusUnauthorized, errorBody{Code: "INVALID_SIGNATURE", Message: "signature verification failed"}
	case errors.As(err, &authErr):
		status, body = http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Message: authErr.Error()}
	case errors.Is(err, customerrors.ErrOrderNotFound),
		errors.Is(err, customerrors.ErrPaymentNotFound),
		errors.Is(err, customerrors.ErrShipmentNotFound),
		errors.Is(err, customerrors.ErrTrackingUnavailable):
		status, body = http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error()}
	case errors.As(err, &transitionErr):
		status, body = http.StatusConflict, errorBody{Code: "INVALID_TRANSITION", Message: transitionErr.Error()}
	case errors.Is(err, customerrors.ErrRefundExceedsCaptured):
		status, body = http.StatusConflict, errorBody{Code: "REFUND_EXCEEDS_CAPTURED", Message: err.Error()}
	case errors.As(err, &gatewayErr):
		status, body = http.StatusBadGateway, errorBody{Code: gatewayErr.Code, Message: gatewayErr.Message}
	case errors.As(err, &carrierErr):
		status, body = http.StatusBadGateway, errorBody{
			Code: carrierErr.Code, Message: carrierErr.Message, Details: carrierErr.FieldErrors,
		}
	case errors.As(err, &gatewayDownErr):
		status, body = http.StatusServiceUnavailable, errorBody{Code: "GATEWAY_UNAVAILABLE", Message: "payment gateway unavailable"}
	case errors.As(err, &carrierDownErr):
		status, body = http.StatusServiceUnavailable, errorBody{Code: "CARRIER_UNAVAILABLE", Message: "shipment carrier unavailable"}
	}

	if status >= http.StatusInternalServerError {
		logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "request failed", zap.Error(err))
		if correlationID := logger.CorrelationIDFromCtx(ctx); correlationID != "" {
			body.Details = map[string]string{"correlation_id": correlationID}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: body})
}
