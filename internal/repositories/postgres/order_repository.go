package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/repositories"
)

const (
	defaultOrderListLimit = 50
	maxOrderListLimit     = 500
)

// OrderRepository persists orders into whatever columns the resolved schema exposes.
type OrderRepository struct {
	db     *ppostgres.DB
	schema OrderSchema
	clock  func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an order repository bound to a resolved schema.
func NewOrderRepository(db *ppostgres.DB, schema OrderSchema, clock func() time.Time) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires postgres db")
	}
	if !schema.Has(OrderFieldID) || !schema.Has(OrderFieldTotal) {
		return nil, fmt.Errorf("%w: schema not resolved", ErrRequiredColumnMissing)
	}
	if clock == nil {
		clock = time.Now
	}
	return &OrderRepository{
		db:     db,
		schema: schema,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Create inserts the order using only the columns present in the schema.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (string, error) {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return "", errors.New("order repository: order id is required")
	}
	createdAt := order.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = r.clock()
	}
	items := order.Items
	if items == nil {
		items = []domain.OrderItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("order repository: encode items: %w", err)
	}
	status := order.Status
	if status == "" {
		status = domain.OrderStatusPending
	}

	values := map[OrderField]any{
		OrderFieldID:                  id,
		OrderFieldUserID:              nullableText(order.UserID),
		OrderFieldPaymentMethod:       nullableText(string(order.PaymentMethod)),
		OrderFieldPayPalOrderID:       nullableText(order.PayPalOrderID),
		OrderFieldPayPalCaptureID:     nullableText(order.PayPalCaptureID),
		OrderFieldStripePaymentIntent: nullableText(order.StripePaymentIntent),
		OrderFieldNETSTxnRef:          nullableText(order.NETSTxnRef),
		OrderFieldSettlementKey:       nullableText(order.SettlementKey),
		OrderFieldPayerEmail:          nullableText(order.PayerEmail),
		OrderFieldShippingName:        nullableText(order.ShippingName),
		OrderFieldAddress:             nullableText(order.Address),
		OrderFieldContact:             nullableText(order.Contact),
		OrderFieldFulfillmentMode:     nullableText(string(order.FulfillmentMode)),
		OrderFieldDeliveryUrgency:     nullableText(string(order.DeliveryUrgency)),
		OrderFieldNotes:               nullableText(order.Notes),
		OrderFieldItems:               string(itemsJSON),
		OrderFieldSubtotal:            money.Format(order.Subtotal),
		OrderFieldDeliveryFee:         money.Format(order.DeliveryFee),
		OrderFieldRedeemAmount:        money.Format(order.RedeemAmount),
		OrderFieldRedeemPoints:        order.RedeemPoints,
		OrderFieldTotal:               money.Format(order.Total),
		OrderFieldStatus:              string(status),
		OrderFieldCreatedAt:           createdAt,
	}
	if plan := order.Paylater; plan != nil {
		values[OrderFieldPaylaterMonths] = plan.Months
		values[OrderFieldPaylaterMonthly] = money.Format(plan.Monthly)
		values[OrderFieldPaylaterPaid] = money.Format(plan.Paid)
		values[OrderFieldPaylaterRemaining] = money.Format(plan.Remaining)
	}
	if order.CompletedAt != nil {
		values[OrderFieldCompletedAt] = order.CompletedAt.UTC()
	}

	columns := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, field := range r.schema.Fields() {
		value, ok := values[field]
		if !ok {
			continue
		}
		col, _ := r.schema.Column(field)
		args = append(args, value)
		columns = append(columns, quoteIdent(col))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(r.schema.Table()), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := r.db.Conn(ctx).Exec(ctx, query, args...); err != nil {
		return "", ppostgres.WrapError("orders.create", err)
	}
	return id, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ppostgres.NotFound("orders.find", nil)
	}
	idCol, _ := r.schema.Column(OrderFieldID)
	orders, err := r.query(ctx, "orders.find", fmt.Sprintf("WHERE %s = $1 LIMIT 1", quoteIdent(idCol)), orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, ppostgres.NotFound("orders.find", nil)
	}
	return orders[0], nil
}

// List returns the most recent orders across all customers.
func (r *OrderRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.query(ctx, "orders.list", fmt.Sprintf("%s LIMIT %d", r.newestFirst(), clampLimit(limit)))
}

// ListByUser returns a customer's orders, newest first. Without a user column there is
// nothing to filter on and the result is empty.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	userCol, ok := r.schema.Column(OrderFieldUserID)
	if !ok || strings.TrimSpace(userID) == "" {
		return []domain.Order{}, nil
	}
	clause := fmt.Sprintf("WHERE %s = $1 %s LIMIT %d", quoteIdent(userCol), r.newestFirst(), clampLimit(limit))
	return r.query(ctx, "orders.list_by_user", clause, userID)
}

// UpdateStatus changes the status and stamps completed_at for completed orders.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (bool, error) {
	statusCol, ok := r.schema.Column(OrderFieldStatus)
	if !ok || strings.TrimSpace(orderID) == "" {
		return false, nil
	}
	idCol, _ := r.schema.Column(OrderFieldID)
	sets := []string{fmt.Sprintf("%s = $2", quoteIdent(statusCol))}
	args := []any{orderID, string(status)}
	if completedCol, ok := r.schema.Column(OrderFieldCompletedAt); ok && status == domain.OrderStatusCompleted {
		args = append(args, r.clock())
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(completedCol), len(args)))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1",
		quoteIdent(r.schema.Table()), strings.Join(sets, ", "), quoteIdent(idCol))
	tag, err := r.db.Conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, ppostgres.WrapError("orders.update_status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordSettlement flips a pending order to paid and stamps the provider references.
func (r *OrderRepository) RecordSettlement(ctx context.Context, orderID string, settlement domain.OrderSettlement) (bool, error) {
	statusCol, ok := r.schema.Column(OrderFieldStatus)
	if !ok {
		return false, nil
	}
	idCol, _ := r.schema.Column(OrderFieldID)
	args := []any{orderID, string(domain.OrderStatusPaid), string(domain.OrderStatusPending)}
	sets := []string{fmt.Sprintf("%s = $2", quoteIdent(statusCol))}
	stamp := func(field OrderField, value string) {
		col, ok := r.schema.Column(field)
		if !ok || strings.TrimSpace(value) == "" {
			return
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(col), len(args)))
	}
	stamp(OrderFieldPaymentMethod, string(settlement.Method))
	stamp(OrderFieldPayPalOrderID, settlement.PayPalOrderID)
	stamp(OrderFieldPayPalCaptureID, settlement.PayPalCaptureID)
	stamp(OrderFieldStripePaymentIntent, settlement.StripePaymentIntent)
	stamp(OrderFieldNETSTxnRef, settlement.NETSTxnRef)
	stamp(OrderFieldPayerEmail, settlement.PayerEmail)
	stamp(OrderFieldSettlementKey, settlement.SettlementKey)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1 AND %s = $3",
		quoteIdent(r.schema.Table()), strings.Join(sets, ", "), quoteIdent(idCol), quoteIdent(statusCol))
	tag, err := r.db.Conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, ppostgres.WrapError("orders.record_settlement", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AttachPaymentReference stamps the provider's payment reference on an order before it
// settles, so asynchronous notifications can locate it. Returns false when the schema
// has no column for the method.
func (r *OrderRepository) AttachPaymentReference(ctx context.Context, orderID string, method domain.PaymentMethod, reference string) (bool, error) {
	field, ok := paymentReferenceField(method)
	if !ok || strings.TrimSpace(reference) == "" {
		return false, nil
	}
	refCol, ok := r.schema.Column(field)
	if !ok {
		return false, nil
	}
	idCol, _ := r.schema.Column(OrderFieldID)
	query := fmt.Sprintf("UPDATE %s SET %s = $2 WHERE %s = $1",
		quoteIdent(r.schema.Table()), quoteIdent(refCol), quoteIdent(idCol))
	tag, err := r.db.Conn(ctx).Exec(ctx, query, orderID, strings.TrimSpace(reference))
	if err != nil {
		return false, ppostgres.WrapError("orders.attach_reference", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindByPaymentReference loads the most recent order carrying the provider reference.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, method domain.PaymentMethod, reference string) (domain.Order, error) {
	field, ok := paymentReferenceField(method)
	reference = strings.TrimSpace(reference)
	if !ok || reference == "" {
		return domain.Order{}, ppostgres.NotFound("orders.find_reference", nil)
	}
	refCol, ok := r.schema.Column(field)
	if !ok {
		return domain.Order{}, ppostgres.NotFound("orders.find_reference", nil)
	}
	clause := fmt.Sprintf("WHERE %s = $1 %s LIMIT 1", quoteIdent(refCol), r.newestFirst())
	orders, err := r.query(ctx, "orders.find_reference", clause, reference)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, ppostgres.NotFound("orders.find_reference", nil)
	}
	return orders[0], nil
}

func paymentReferenceField(method domain.PaymentMethod) (OrderField, bool) {
	switch method {
	case domain.PaymentMethodPayPal:
		return OrderFieldPayPalOrderID, true
	case domain.PaymentMethodStripe:
		return OrderFieldStripePaymentIntent, true
	case domain.PaymentMethodNETS:
		return OrderFieldNETSTxnRef, true
	}
	return "", false
}

// ApplyPaylaterPayment allocates amount across the user's outstanding PayLater orders,
// oldest first, inside a single transaction.
func (r *OrderRepository) ApplyPaylaterPayment(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	amount = money.Round2(amount)
	if !amount.IsPositive() || strings.TrimSpace(userID) == "" {
		return decimal.Zero, nil
	}
	if !r.supportsPaylater() {
		return decimal.Zero, nil
	}

	applied := decimal.Zero
	err := r.db.RunInTx(ctx, func(txCtx context.Context) error {
		userCol, _ := r.schema.Column(OrderFieldUserID)
		statusCol, _ := r.schema.Column(OrderFieldStatus)
		clause := fmt.Sprintf("WHERE %s = $1 AND %s = $2 %s FOR UPDATE",
			quoteIdent(userCol), quoteIdent(statusCol), r.oldestFirst())
		outstanding, err := r.query(txCtx, "orders.paylater_outstanding", clause, userID, string(domain.OrderStatusPaylater))
		if err != nil {
			return err
		}
		allocations, total := domain.AllocatePaylaterPayment(outstanding, amount)
		for _, allocation := range allocations {
			if err := r.writeAllocation(txCtx, allocation); err != nil {
				return err
			}
		}
		applied = total
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applied, nil
}

// ListPaylater returns every PayLater order of the user, settled or not, oldest first.
func (r *OrderRepository) ListPaylater(ctx context.Context, userID string) ([]domain.Order, error) {
	userCol, hasUser := r.schema.Column(OrderFieldUserID)
	monthsCol, hasMonths := r.schema.Column(OrderFieldPaylaterMonths)
	if !hasUser || !hasMonths || strings.TrimSpace(userID) == "" {
		return []domain.Order{}, nil
	}
	clause := fmt.Sprintf("WHERE %s = $1 AND %s IS NOT NULL AND %s > 0 %s",
		quoteIdent(userCol), quoteIdent(monthsCol), quoteIdent(monthsCol), r.oldestFirst())
	return r.query(ctx, "orders.list_paylater", clause, userID)
}

// ListOutstandingPaylater returns PayLater orders with a remaining balance across all users.
func (r *OrderRepository) ListOutstandingPaylater(ctx context.Context, limit int) ([]domain.Order, error) {
	if !r.supportsPaylater() {
		return []domain.Order{}, nil
	}
	statusCol, _ := r.schema.Column(OrderFieldStatus)
	clause := fmt.Sprintf("WHERE %s = $1 %s LIMIT %d", quoteIdent(statusCol), r.oldestFirst(), clampLimit(limit))
	return r.query(ctx, "orders.list_outstanding_paylater", clause, string(domain.OrderStatusPaylater))
}

func (r *OrderRepository) supportsPaylater() bool {
	for _, field := range []OrderField{OrderFieldUserID, OrderFieldStatus, OrderFieldPaylaterRemaining} {
		if !r.schema.Has(field) {
			return false
		}
	}
	return true
}

func (r *OrderRepository) writeAllocation(ctx context.Context, allocation domain.PaylaterAllocation) error {
	idCol, _ := r.schema.Column(OrderFieldID)
	remainingCol, _ := r.schema.Column(OrderFieldPaylaterRemaining)
	statusCol, _ := r.schema.Column(OrderFieldStatus)

	args := []any{allocation.OrderID, money.Format(allocation.Remaining), string(allocation.Status)}
	sets := []string{
		fmt.Sprintf("%s = $2", quoteIdent(remainingCol)),
		fmt.Sprintf("%s = $3", quoteIdent(statusCol)),
	}
	if paidCol, ok := r.schema.Column(OrderFieldPaylaterPaid); ok {
		args = append(args, money.Format(allocation.Paid))
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(paidCol), len(args)))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1",
		quoteIdent(r.schema.Table()), strings.Join(sets, ", "), quoteIdent(idCol))
	if _, err := r.db.Conn(ctx).Exec(ctx, query, args...); err != nil {
		return ppostgres.WrapError("orders.apply_paylater", err)
	}
	return nil
}

func (r *OrderRepository) newestFirst() string {
	if col, ok := r.schema.Column(OrderFieldCreatedAt); ok {
		return fmt.Sprintf("ORDER BY %s DESC NULLS LAST", quoteIdent(col))
	}
	idCol, _ := r.schema.Column(OrderFieldID)
	return fmt.Sprintf("ORDER BY %s DESC", quoteIdent(idCol))
}

func (r *OrderRepository) oldestFirst() string {
	idCol, _ := r.schema.Column(OrderFieldID)
	if col, ok := r.schema.Column(OrderFieldCreatedAt); ok {
		return fmt.Sprintf("ORDER BY %s ASC, %s ASC", quoteIdent(col), quoteIdent(idCol))
	}
	return fmt.Sprintf("ORDER BY %s ASC", quoteIdent(idCol))
}

// query runs a projection over every resolved column followed by clause.
func (r *OrderRepository) query(ctx context.Context, op string, clause string, args ...any) ([]domain.Order, error) {
	fields := r.schema.Fields()
	exprs := make([]string, 0, len(fields))
	for _, field := range fields {
		col, _ := r.schema.Column(field)
		exprs = append(exprs, selectExpr(quoteIdent(col), kindOf(field)))
	}
	sql := fmt.Sprintf("SELECT %s FROM %s %s", strings.Join(exprs, ", "), quoteIdent(r.schema.Table()), clause)

	rows, err := r.db.Conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		targets := make([]any, len(fields))
		for i, field := range fields {
			targets[i] = scanTarget(kindOf(field))
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, ppostgres.WrapError(op, err)
		}
		orders = append(orders, decodeOrder(fields, targets))
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	return orders, nil
}

func selectExpr(col string, kind fieldKind) string {
	switch kind {
	case kindInt:
		return fmt.Sprintf("(%s)::bigint", col)
	case kindTime:
		return fmt.Sprintf("(%s)::timestamptz", col)
	default:
		return fmt.Sprintf("(%s)::text", col)
	}
}

func scanTarget(kind fieldKind) any {
	switch kind {
	case kindInt:
		return &pgtype.Int8{}
	case kindTime:
		return &pgtype.Timestamptz{}
	default:
		return &pgtype.Text{}
	}
}

func kindOf(field OrderField) fieldKind {
	for _, spec := range orderFields {
		if spec.field == field {
			return spec.kind
		}
	}
	return kindText
}

func decodeOrder(fields []OrderField, targets []any) domain.Order {
	var (
		order   domain.Order
		plan    domain.PaylaterPlan
		hasPlan bool
	)
	for i, field := range fields {
		switch v := targets[i].(type) {
		case *pgtype.Text:
			if !v.Valid {
				continue
			}
			switch field {
			case OrderFieldID:
				order.ID = v.String
			case OrderFieldUserID:
				order.UserID = v.String
			case OrderFieldPaymentMethod:
				order.PaymentMethod = domain.PaymentMethod(v.String)
			case OrderFieldPayPalOrderID:
				order.PayPalOrderID = v.String
			case OrderFieldPayPalCaptureID:
				order.PayPalCaptureID = v.String
			case OrderFieldStripePaymentIntent:
				order.StripePaymentIntent = v.String
			case OrderFieldNETSTxnRef:
				order.NETSTxnRef = v.String
			case OrderFieldSettlementKey:
				order.SettlementKey = v.String
			case OrderFieldPayerEmail:
				order.PayerEmail = v.String
			case OrderFieldShippingName:
				order.ShippingName = v.String
			case OrderFieldAddress:
				order.Address = v.String
			case OrderFieldContact:
				order.Contact = v.String
			case OrderFieldFulfillmentMode:
				order.FulfillmentMode = domain.FulfillmentMode(v.String)
			case OrderFieldDeliveryUrgency:
				order.DeliveryUrgency = domain.DeliveryUrgency(v.String)
			case OrderFieldNotes:
				order.Notes = v.String
			case OrderFieldItems:
				order.Items = DecodeOrderItems(v.String)
			case OrderFieldSubtotal:
				order.Subtotal = money.NormalizeOrZero(v.String)
			case OrderFieldDeliveryFee:
				order.DeliveryFee = money.NormalizeOrZero(v.String)
			case OrderFieldRedeemAmount:
				order.RedeemAmount = money.NormalizeOrZero(v.String)
			case OrderFieldTotal:
				order.Total = money.NormalizeOrZero(v.String)
			case OrderFieldPaylaterMonthly:
				plan.Monthly, hasPlan = money.NormalizeOrZero(v.String), true
			case OrderFieldPaylaterPaid:
				plan.Paid, hasPlan = money.NormalizeOrZero(v.String), true
			case OrderFieldPaylaterRemaining:
				plan.Remaining, hasPlan = money.NormalizeOrZero(v.String), true
			case OrderFieldStatus:
				order.Status = domain.OrderStatus(strings.ToLower(strings.TrimSpace(v.String)))
			}
		case *pgtype.Int8:
			if !v.Valid {
				continue
			}
			switch field {
			case OrderFieldRedeemPoints:
				order.RedeemPoints = int(v.Int64)
			case OrderFieldPaylaterMonths:
				plan.Months, hasPlan = int(v.Int64), true
			}
		case *pgtype.Timestamptz:
			if !v.Valid {
				continue
			}
			switch field {
			case OrderFieldCreatedAt:
				order.CreatedAt = v.Time.UTC()
			case OrderFieldCompletedAt:
				completed := v.Time.UTC()
				order.CompletedAt = &completed
			}
		}
	}
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}
	if hasPlan && plan.Months > 0 {
		order.Paylater = &plan
	}
	return order
}

// DecodeOrderItems parses a stored item snapshot. Prices and quantities are normalized
// individually; an unparsable document yields an empty slice.
func DecodeOrderItems(raw string) []domain.OrderItem {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []domain.OrderItem{}
	}
	var entries []map[string]any
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&entries); err != nil {
		return []domain.OrderItem{}
	}
	items := make([]domain.OrderItem, 0, len(entries))
	for _, entry := range entries {
		name, _ := entry["name"].(string)
		item := domain.OrderItem{Name: strings.TrimSpace(name)}
		if price, err := money.Normalize(firstPresent(entry, "price", "unitPrice", "unit_price")); err == nil {
			item.UnitPrice = price
		}
		if qty, err := money.ParseQuantity(firstPresent(entry, "qty", "quantity")); err == nil {
			item.Quantity = qty
		}
		items = append(items, item)
	}
	return items
}

func firstPresent(entry map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := entry[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func nullableText(value string) pgtype.Text {
	value = strings.TrimSpace(value)
	return pgtype.Text{String: value, Valid: value != ""}
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultOrderListLimit
	case limit > maxOrderListLimit:
		return maxOrderListLimit
	default:
		return limit
	}
}
