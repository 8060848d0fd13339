package service

import (
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
)

// legalTransitions is the single source of truth for order status moves.
// Terminal states (DELIVERED, CANCELLED) have no outgoing edges.
var legalTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusCreated: {
		models.StatusAwaitingPayment,
		models.StatusCancelled,
	},
	models.StatusAwaitingPayment: {
		models.StatusPaid,
		models.StatusPaymentFailed,
		models.StatusCancelled,
	},
	models.StatusPaymentFailed: {
		// a retried checkout can still succeed
		models.StatusPaid,
		models.StatusPaymentFailed,
		models.StatusCancelled,
	},
	models.StatusPaid: {
		models.StatusShipmentCreated,
		models.StatusShipmentFailed,
		models.StatusCancelled,
	},
	models.StatusShipmentFailed: {
		// money is already captured, the order stays shippable
		models.StatusPaid,
		models.StatusShipmentCreated,
		models.StatusShipmentFailed,
	},
	models.StatusShipmentCreated: {
		models.StatusInTransit,
		// out-of-order carrier events may deliver before any transit scan
		models.StatusDelivered,
	},
	models.StatusInTransit: {
		models.StatusInTransit,
		models.StatusDelivered,
	},
}

// CheckTransition returns an InvalidTransitionError when the move from one
// order status to another is not in the legal transition table.
func CheckTransition(orderNumber string, from, to models.OrderStatus) error {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &customerrors.InvalidTransitionError{
		OrderNumber: orderNumber,
		From:        string(from),
		To:          string(to),
	}
}

// shipmentStatusRank orders shipment statuses monotonically so that a late
// "shipped" webhook cannot regress an order that is already delivered.
var shipmentStatusRank = map[models.ShipmentStatus]int{
	models.ShipmentCreated:   1,
	models.ShipmentInTransit: 2,
	models.ShipmentDelivered: 3,
	models.ShipmentCancelled: 3,
}

// ShipmentStatusRegresses reports whether applying next after current would
// move the shipment backwards in its lifecycle.
func ShipmentStatusRegresses(current, next models.ShipmentStatus) bool {
	return shipmentStatusRank[next] < shipmentStatusRank[current]
}

// orderStatusForShipment maps a shipment status to the order status the
// lifecycle should move to when a verified carrier event reports it.
func orderStatusForShipment(status models.ShipmentStatus) (models.OrderStatus, bool) {
	switch status {
	case models.ShipmentInTransit:
		return models.StatusInTransit, true
	case models.ShipmentDelivered:
		return models.StatusDelivered, true
	default:
		return "", false
	}
}
