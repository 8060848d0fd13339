package validators

import (
	"regexp"
	"strings"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
)

var (
	pincodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	phonePattern   = regexp.MustCompile(`^(\+91)?[6-9][0-9]{9}$`)
)

// ValidateShipmentAddress checks the fields the carrier requires before a
// shipment can be created.
//
// A failed phone check is returned separately as a non-fatal warning:
// the carrier accepts such shipments but flags them for manual review.
func ValidateShipmentAddress(order models.Order) (warn error, err error) {
	var missing []string
	if strings.TrimSpace(order.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	if strings.TrimSpace(order.CustomerEmail) == "" {
		missing = append(missing, "customer_email")
	}
	if strings.TrimSpace(order.Address.Line1) == "" {
		missing = append(missing, "address_line1")
	}
	if strings.TrimSpace(order.Address.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(order.Address.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(order.Address.Pincode) == "" {
		missing = append(missing, "pincode")
	}
	if strings.TrimSpace(order.Address.Phone) == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return nil, &customerrors.MissingFieldsError{Fields: missing}
	}

	if !pincodePattern.MatchString(order.Address.Pincode) {
		return nil, &customerrors.ValidationError{Field: "pincode", Message: "must be a 6-digit postal code"}
	}

	if !phonePattern.MatchString(strings.ReplaceAll(order.Address.Phone, " ", "")) {
		warn = &customerrors.ValidationError{Field: "phone", Message: "does not look like an Indian mobile number"}
	}

	return warn, nil
}

// ValidateNewOrder checks client input for order creation.
func ValidateNewOrder(order models.Order) error {
	if strings.TrimSpace(order.CustomerName) == "" {
		return &customerrors.ValidationError{Field: "customer_name", Message: "is required"}
	}
	if strings.TrimSpace(order.CustomerEmail) == "" {
		return &customerrors.ValidationError{Field: "customer_email", Message: "is required"}
	}
	if len(order.Items) == 0 {
		return &customerrors.ValidationError{Field: "items", Message: "at least one item is required"}
	}
	for _, item := range order.Items {
		if strings.TrimSpace(item.Name) == "" {
			return &customerrors.ValidationError{Field: "items", Message: "item name is required"}
		}
		if item.UnitPrice <= 0 {
			return &customerrors.ValidationError{Field: "items", Message: "item price must be positive minor units"}
		}
		if item.Quantity <= 0 {
			return &customerrors.ValidationError{Field: "items", Message: "item quantity must be positive"}
		}
	}
	return nil
}
