package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// OrdersStoragePostgres is the postgres implementation of ports.OrderStorage
type OrdersStoragePostgres struct {
	pool *pgxpool.Pool
}

// NewOrdersStoragePostgres creates a new *OrdersStoragePostgres with given DB pool
func NewOrdersStoragePostgres(pool *pgxpool.Pool) *OrdersStoragePostgres {
	return &OrdersStoragePostgres{
		pool: pool,
	}
}

var orderColumns = []string{
	"o.order_number", "o.status", "o.payment_status", "o.amount", "o.currency",
	"o.customer_name", "o.customer_email", "o.gateway_order_id", "o.awb",
	"o.address_line1", "o.address_line2", "o.city", "o.state", "o.pincode",
	"o.country", "o.phone", "o.created_at", "o.updated_at",
}

// CreateOrder inserts the order row and its items in one transaction
func (o *OrdersStoragePostgres) CreateOrder(ctx context.Context, order models.Order) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning create-order tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sql, args, err := squirrel.Insert("trade_award.orders").
		Columns("order_number", "status", "payment_status", "amount", "currency",
			"customer_name", "customer_email", "gateway_order_id", "awb",
			"address_line1", "address_line2", "city", "state", "pincode",
			"country", "phone", "created_at", "updated_at").
		Values(order.OrderNumber, order.Status, order.PaymentStatus, order.TotalAmount, order.Currency,
			order.CustomerName, order.CustomerEmail, order.GatewayOrderID, order.AWB,
			order.Address.Line1, order.Address.Line2, order.Address.City, order.Address.State,
			order.Address.Pincode, order.Address.Country, order.Address.Phone,
			order.CreatedAt, order.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build order insert query: %w", err)
	}
	if _, err = tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting order: %w", err)
	}

	for _, item := range order.Items {
		sql, args, err = squirrel.Insert("trade_award.order_items").
			Columns("order_number", "sku", "name", "unit_price", "quantity", "weight_grams").
			Values(order.OrderNumber, item.SKU, item.Name, item.UnitPrice, item.Quantity, item.WeightGrams).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("couldn't build item insert query: %w", err)
		}
		if _, err = tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("error inserting order item: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing create-order tx: %w", err)
	}
	return nil
}

// GetOrderByNumber gathers all data about the order with given number if any.
//
// Querying for the order and its items is parallel
func (o *OrdersStoragePostgres) GetOrderByNumber(ctx context.Context, orderNumber string) (models.Order, error) {
	return o.getOrderWhere(ctx, squirrel.Eq{"o.order_number": orderNumber})
}

// GetOrderByGatewayOrderID finds the order that owns the given gateway order id
func (o *OrdersStoragePostgres) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (models.Order, error) {
	return o.getOrderWhere(ctx, squirrel.Eq{"o.gateway_order_id": gatewayOrderID})
}

// GetOrderByAWB finds the order that owns the given shipment AWB
func (o *OrdersStoragePostgres) GetOrderByAWB(ctx context.Context, awb string) (models.Order, error) {
	return o.getOrderWhere(ctx, squirrel.Eq{"o.awb": awb})
}

func (o *OrdersStoragePostgres) getOrderWhere(ctx context.Context, where squirrel.Eq) (models.Order, error) {
	var order models.Order
	var items []models.OrderItem

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		order, err = o.getOrderBase(egCtx, where)
		if err != nil {
			return errors.Wrap(err, "error trying to get order itself")
		}
		return nil
	})

	eg.Go(func() error {
		rows, err := o.queryItems(egCtx, where)
		if err != nil {
			return errors.Wrap(err, "error trying to get order items")
		}
		items = rows
		return nil
	})

	if err := eg.Wait(); err != nil {
		return models.Order{}, err
	}

	order.Items = items
	return order, nil
}

func (o *OrdersStoragePostgres) getOrderBase(ctx context.Context, where squirrel.Eq) (models.Order, error) {
	sql, args, err := squirrel.Select(orderColumns...).
		From("trade_award.orders o").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return models.Order{}, fmt.Errorf("couldn't build order query: %w", err)
	}

	var order models.Order
	err = o.pool.QueryRow(ctx, sql, args...).Scan(
		&order.OrderNumber, &order.Status, &order.PaymentStatus, &order.TotalAmount, &order.Currency,
		&order.CustomerName, &order.CustomerEmail, &order.GatewayOrderID, &order.AWB,
		&order.Address.Line1, &order.Address.Line2, &order.Address.City, &order.Address.State,
		&order.Address.Pincode, &order.Address.Country, &order.Address.Phone,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, customerrors.ErrOrderNotFound
		}
		return models.Order{}, fmt.Errorf("error mapping order row: %w", err)
	}
	return order, nil
}

func (o *OrdersStoragePostgres) queryItems(ctx context.Context, where squirrel.Eq) ([]models.OrderItem, error) {
	sql, args, err := squirrel.Select("i.sku", "i.name", "i.unit_price", "i.quantity", "i.weight_grams").
		From("trade_award.order_items i").
		Join("trade_award.orders o ON o.order_number = i.order_number").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("couldn't build items query: %w", err)
	}

	rows, err := o.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("couldn't query items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err = rows.Scan(&item.SKU, &item.Name, &item.UnitPrice, &item.Quantity, &item.WeightGrams); err != nil {
			return nil, fmt.Errorf("couldn't scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListRecentOrders gets a list of last <=limit orders, items not included
func (o *OrdersStoragePostgres) ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	sql, args, err := squirrel.Select(orderColumns...).
		From("trade_award.orders o").
		OrderBy("o.created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("couldn't build recent orders query: %w", err)
	}

	rows, err := o.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("couldn't query recent orders: %w", err)
	}
	defer rows.Close()

	var result []models.Order
	for rows.Next() {
		var order models.Order
		err = rows.Scan(
			&order.OrderNumber, &order.Status, &order.PaymentStatus, &order.TotalAmount, &order.Currency,
			&order.CustomerName, &order.CustomerEmail, &order.GatewayOrderID, &order.AWB,
			&order.Address.Line1, &order.Address.Line2, &order.Address.City, &order.Address.State,
			&order.Address.Pincode, &order.Address.Country, &order.Address.Phone,
			&order.CreatedAt, &order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("couldn't scan order: %w", err)
		}
		result = append(result, order)
	}
	return result, rows.Err()
}

// ApplyTransition writes the new order status and the triggering event id in
// one transaction.
//
// The insert into processed_events is the idempotency guard: a conflict on
// (order_number, event_id) means the event was already applied, so the whole
// transition is reported as a no-op with applied=false and no error.
// The status update is a compare-and-swap on the current status; losing the
// race (zero rows updated) is an InvalidTransitionError.
func (o *OrdersStoragePostgres) ApplyTransition(ctx context.Context, t models.Transition) (bool, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("error beginning transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sql, args, err := squirrel.Insert("trade_award.processed_events").
		Columns("order_number", "event_id", "to_status", "created_at").
		Values(t.OrderNumber, t.EventID, t.To, time.Now()).
		Suffix("ON CONFLICT (order_number, event_id) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("couldn't build event insert query: %w", err)
	}

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("error recording transition event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// replayed event: observably a no-op
		return false, nil
	}

	update := squirrel.Update("trade_award.orders").
		Set("status", t.To).
		Set("updated_at", time.Now()).
		Where(squirrel.Eq{"order_number": t.OrderNumber, "status": t.From})
	if t.PaymentStatus != "" {
		update = update.Set("payment_status", t.PaymentStatus)
	}

	sql, args, err = update.PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return false, fmt.Errorf("couldn't build status update query: %w", err)
	}

	tag, err = tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("error updating order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// order is not in the expected source state: a concurrent transition
		// won, or the caller attempted an illegal move
		return false, &customerrors.InvalidTransitionError{
			OrderNumber: t.OrderNumber,
			From:        string(t.From),
			To:          string(t.To),
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("error committing transition tx: %w", err)
	}
	return true, nil
}

// RecordEvent claims the (order, event) pair without touching the order row,
// for carrier events that only extend the tracking history
func (o *OrdersStoragePostgres) RecordEvent(ctx context.Context, orderNumber, eventID string) (bool, error) {
	sql, args, err := squirrel.Insert("trade_award.processed_events").
		Columns("order_number", "event_id", "to_status", "created_at").
		Values(orderNumber, eventID, "", time.Now()).
		Suffix("ON CONFLICT (order_number, event_id) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("couldn't build event insert query: %w", err)
	}

	tag, err := o.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("error recording event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// WasEventProcessed reports whether the (order, event) pair was already
// recorded by a previous transition
func (o *OrdersStoragePostgres) WasEventProcessed(ctx context.Context, orderNumber, eventID string) (bool, error) {
	sql, args, err := squirrel.Select("1").
		From("trade_award.processed_events").
		Where(squirrel.Eq{"order_number": orderNumber, "event_id": eventID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("couldn't build processed event query: %w", err)
	}

	var one int
	err = o.pool.QueryRow(ctx, sql, args...).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error checking processed event: %w", err)
	}
	return true, nil
}

// SavePaymentRecord inserts the gateway order row and links it to the order
func (o *OrdersStoragePostgres) SavePaymentRecord(ctx context.Context, rec models.PaymentRecord) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning payment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sql, args, err := squirrel.Insert("trade_award.payments").
		Columns("gateway_order_id", "order_number", "gateway_payment_id", "amount",
			"currency", "status", "signature_verified", "created_at").
		Values(rec.GatewayOrderID, rec.OrderNumber, rec.GatewayPaymentID, rec.Amount,
			rec.Currency, rec.Status, rec.SignatureVerified, rec.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build payment insert query: %w", err)
	}
	if _, err = tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting payment record: %w", err)
	}

	sql, args, err = squirrel.Update("trade_award.orders").
		Set("gateway_order_id", rec.GatewayOrderID).
		Where(squirrel.Eq{"order_number": rec.OrderNumber}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build order link query: %w", err)
	}
	if _, err = tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error linking payment to order: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkPaymentCaptured records the verified capture on the payment row.
// Captured rows are never updated again except by refund sub-records.
func (o *OrdersStoragePostgres) MarkPaymentCaptured(ctx context.Context, gatewayOrderID, gatewayPaymentID string) error {
	sql, args, err := squirrel.Update("trade_award.payments").
		Set("gateway_payment_id", gatewayPaymentID).
		Set("status", models.PaymentCaptured).
		Set("signature_verified", true).
		Where(squirrel.Eq{"gateway_order_id": gatewayOrderID}).
		Where(squirrel.NotEq{"status": models.PaymentCaptured}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build capture update query: %w", err)
	}
	if _, err = o.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error marking payment captured: %w", err)
	}
	return nil
}

// GetPaymentByGatewayOrderID reads the payment record for a gateway order id
func (o *OrdersStoragePostgres) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (models.PaymentRecord, error) {
	sql, args, err := squirrel.Select("gateway_order_id", "order_number", "gateway_payment_id",
		"amount", "currency", "status", "signature_verified", "created_at").
		From("trade_award.payments").
		Where(squirrel.Eq{"gateway_order_id": gatewayOrderID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return models.PaymentRecord{}, fmt.Errorf("couldn't build payment query: %w", err)
	}

	var rec models.PaymentRecord
	err = o.pool.QueryRow(ctx, sql, args...).Scan(
		&rec.GatewayOrderID, &rec.OrderNumber, &rec.GatewayPaymentID,
		&rec.Amount, &rec.Currency, &rec.Status, &rec.SignatureVerified, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PaymentRecord{}, customerrors.ErrPaymentNotFound
		}
		return models.PaymentRecord{}, fmt.Errorf("error mapping payment row: %w", err)
	}
	return rec, nil
}

// SaveRefundRecord inserts one refund row
func (o *OrdersStoragePostgres) SaveRefundRecord(ctx context.Context, rec models.RefundRecord) error {
	sql, args, err := squirrel.Insert("trade_award.refunds").
		Columns("gateway_refund_id", "gateway_payment_id", "amount", "status", "reason", "created_at").
		Values(rec.GatewayRefundID, rec.GatewayPaymentID, rec.Amount, rec.Status, rec.Reason, rec.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build refund insert query: %w", err)
	}
	if _, err = o.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting refund record: %w", err)
	}
	return nil
}

// SumRefunds returns the total refunded amount for a payment in minor units
func (o *OrdersStoragePostgres) SumRefunds(ctx context.Context, gatewayPaymentID string) (int64, error) {
	sql, args, err := squirrel.Select("COALESCE(SUM(amount), 0)").
		From("trade_award.refunds").
		Where(squirrel.Eq{"gateway_payment_id": gatewayPaymentID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("couldn't build refund sum query: %w", err)
	}

	var sum int64
	if err = o.pool.QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("error summing refunds: %w", err)
	}
	return sum, nil
}

// SaveShipmentRecord inserts the shipment row and links its AWB to the order
func (o *OrdersStoragePostgres) SaveShipmentRecord(ctx context.Context, rec models.ShipmentRecord) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning shipment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sql, args, err := squirrel.Insert("trade_award.shipments").
		Columns("awb", "order_number", "carrier_shipment_id", "courier_name",
			"tracking_url", "status", "etd", "created_at").
		Values(rec.AWB, rec.OrderNumber, rec.CarrierShipmentID, rec.CourierName,
			rec.TrackingURL, rec.Status, rec.EstimatedDelivery, rec.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build shipment insert query: %w", err)
	}
	if _, err = tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting shipment record: %w", err)
	}

	sql, args, err = squirrel.Update("trade_award.orders").
		Set("awb", rec.AWB).
		Where(squirrel.Eq{"order_number": rec.OrderNumber}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build awb link query: %w", err)
	}
	if _, err = tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error linking awb to order: %w", err)
	}

	return tx.Commit(ctx)
}

// GetShipmentByAWB reads the shipment record for an AWB
func (o *OrdersStoragePostgres) GetShipmentByAWB(ctx context.Context, awb string) (models.ShipmentRecord, error) {
	sql, args, err := squirrel.Select("awb", "order_number", "carrier_shipment_id",
		"courier_name", "tracking_url", "status", "etd", "created_at").
		From("trade_award.shipments").
		Where(squirrel.Eq{"awb": awb}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return models.ShipmentRecord{}, fmt.Errorf("couldn't build shipment query: %w", err)
	}

	var rec models.ShipmentRecord
	err = o.pool.QueryRow(ctx, sql, args...).Scan(
		&rec.AWB, &rec.OrderNumber, &rec.CarrierShipmentID,
		&rec.CourierName, &rec.TrackingURL, &rec.Status, &rec.EstimatedDelivery, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ShipmentRecord{}, customerrors.ErrShipmentNotFound
		}
		return models.ShipmentRecord{}, fmt.Errorf("error mapping shipment row: %w", err)
	}
	return rec, nil
}

// UpdateShipmentStatus sets the shipment's current status, skipping terminal rows
func (o *OrdersStoragePostgres) UpdateShipmentStatus(ctx context.Context, awb string, status models.ShipmentStatus) error {
	sql, args, err := squirrel.Update("trade_award.shipments").
		Set("status", status).
		Where(squirrel.Eq{"awb": awb}).
		Where(squirrel.NotEq{"status": []models.ShipmentStatus{models.ShipmentDelivered, models.ShipmentCancelled}}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build shipment status query: %w", err)
	}
	if _, err = o.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error updating shipment status: %w", err)
	}
	return nil
}

// AppendTrackingEvent adds one row to the append-only tracking history
func (o *OrdersStoragePostgres) AppendTrackingEvent(ctx context.Context, event models.TrackingEvent) error {
	sql, args, err := squirrel.Insert("trade_award.shipment_events").
		Columns("awb", "status", "description", "occurred_at").
		Values(event.AWB, event.Status, event.Description, event.OccurredAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build tracking event insert query: %w", err)
	}
	if _, err = o.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting tracking event: %w", err)
	}
	return nil
}

// ListTrackingEvents returns the tracking history for an AWB, oldest first
func (o *OrdersStoragePostgres) ListTrackingEvents(ctx context.Context, awb string) ([]models.TrackingEvent, error) {
	sql, args, err := squirrel.Select("awb", "status", "description", "occurred_at").
		From("trade_award.shipment_events").
		Where(squirrel.Eq{"awb": awb}).
		OrderBy("occurred_at ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("couldn't build tracking events query: %w", err)
	}

	rows, err := o.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("couldn't query tracking events: %w", err)
	}
	defer rows.Close()

	var events []models.TrackingEvent
	for rows.Next() {
		var event models.TrackingEvent
		if err = rows.Scan(&event.AWB, &event.Status, &event.Description, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("couldn't scan tracking event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SaveShipmentFailure preserves a failed shipment creation attempt with the
// carrier's structured field errors and courier quotes as jsonb
func (o *OrdersStoragePostgres) SaveShipmentFailure(ctx context.Context, failure models.ShipmentFailure) error {
	fieldErrors, err := json.Marshal(failure.FieldErrors)
	if err != nil {
		return fmt.Errorf("error marshalling field errors: %w", err)
	}
	quotes, err := json.Marshal(failure.Quotes)
	if err != nil {
		return fmt.Errorf("error marshalling courier quotes: %w", err)
	}

	sql, args, err := squirrel.Insert("trade_award.shipment_failures").
		Columns("order_number", "code", "message", "field_errors", "courier_quotes", "created_at").
		Values(failure.OrderNumber, failure.Code, failure.Message, fieldErrors, quotes, failure.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("couldn't build shipment failure insert query: %w", err)
	}
	if _, err = o.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting shipment failure: %w", err)
	}
	return nil
}
