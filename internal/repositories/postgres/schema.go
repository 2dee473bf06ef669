package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	ppostgres "github.com/homebitez/api/internal/platform/postgres"
)

// DefaultOrderTable is the table holding the order ledger.
const DefaultOrderTable = "orders"

// OrderField names a logical order attribute independent of its physical column name.
type OrderField string

const (
	OrderFieldID                  OrderField = "id"
	OrderFieldUserID              OrderField = "user_id"
	OrderFieldPaymentMethod       OrderField = "payment_method"
	OrderFieldPayPalOrderID       OrderField = "paypal_order_id"
	OrderFieldPayPalCaptureID     OrderField = "paypal_capture_id"
	OrderFieldStripePaymentIntent OrderField = "stripe_payment_intent"
	OrderFieldNETSTxnRef          OrderField = "nets_txn_ref"
	OrderFieldSettlementKey       OrderField = "settlement_key"
	OrderFieldPayerEmail          OrderField = "payer_email"
	OrderFieldShippingName        OrderField = "shipping_name"
	OrderFieldAddress             OrderField = "address"
	OrderFieldContact             OrderField = "contact"
	OrderFieldFulfillmentMode     OrderField = "fulfillment_mode"
	OrderFieldDeliveryUrgency     OrderField = "delivery_urgency"
	OrderFieldNotes               OrderField = "notes"
	OrderFieldItems               OrderField = "items"
	OrderFieldSubtotal            OrderField = "subtotal"
	OrderFieldDeliveryFee         OrderField = "delivery_fee"
	OrderFieldRedeemAmount        OrderField = "redeem_amount"
	OrderFieldRedeemPoints        OrderField = "redeem_points"
	OrderFieldTotal               OrderField = "total"
	OrderFieldPaylaterMonths      OrderField = "paylater_months"
	OrderFieldPaylaterMonthly     OrderField = "paylater_monthly"
	OrderFieldPaylaterPaid        OrderField = "paylater_paid"
	OrderFieldPaylaterRemaining   OrderField = "paylater_remaining"
	OrderFieldStatus              OrderField = "status"
	OrderFieldCreatedAt           OrderField = "created_at"
	OrderFieldCompletedAt         OrderField = "completed_at"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindMoney
	kindInt
	kindTime
	kindJSON
)

type orderFieldSpec struct {
	field   OrderField
	kind    fieldKind
	aliases []string
}

// orderFields lists every logical field in projection order.
var orderFields = []orderFieldSpec{
	{field: OrderFieldID, kind: kindText, aliases: []string{"order_id"}},
	{field: OrderFieldUserID, kind: kindText, aliases: []string{"customer_id", "uid"}},
	{field: OrderFieldPaymentMethod, kind: kindText},
	{field: OrderFieldPayPalOrderID, kind: kindText},
	{field: OrderFieldPayPalCaptureID, kind: kindText},
	{field: OrderFieldStripePaymentIntent, kind: kindText, aliases: []string{"stripe_payment_intent_id"}},
	{field: OrderFieldNETSTxnRef, kind: kindText, aliases: []string{"nets_txn_retrieval_ref"}},
	{field: OrderFieldSettlementKey, kind: kindText},
	{field: OrderFieldPayerEmail, kind: kindText},
	{field: OrderFieldShippingName, kind: kindText},
	{field: OrderFieldAddress, kind: kindText, aliases: []string{"shipping_address"}},
	{field: OrderFieldContact, kind: kindText, aliases: []string{"phone"}},
	{field: OrderFieldFulfillmentMode, kind: kindText, aliases: []string{"fulfillment"}},
	{field: OrderFieldDeliveryUrgency, kind: kindText, aliases: []string{"urgency"}},
	{field: OrderFieldNotes, kind: kindText},
	{field: OrderFieldItems, kind: kindJSON, aliases: []string{"items_json"}},
	{field: OrderFieldSubtotal, kind: kindMoney},
	{field: OrderFieldDeliveryFee, kind: kindMoney},
	{field: OrderFieldRedeemAmount, kind: kindMoney},
	{field: OrderFieldRedeemPoints, kind: kindInt},
	{field: OrderFieldTotal, kind: kindMoney},
	{field: OrderFieldPaylaterMonths, kind: kindInt},
	{field: OrderFieldPaylaterMonthly, kind: kindMoney},
	{field: OrderFieldPaylaterPaid, kind: kindMoney},
	{field: OrderFieldPaylaterRemaining, kind: kindMoney},
	{field: OrderFieldStatus, kind: kindText},
	{field: OrderFieldCreatedAt, kind: kindTime},
	{field: OrderFieldCompletedAt, kind: kindTime},
}

var requiredOrderFields = []OrderField{OrderFieldID, OrderFieldTotal}

// ErrRequiredColumnMissing is returned when the order table lacks a required column.
var ErrRequiredColumnMissing = errors.New("order schema: required column missing")

// OrderSchema maps logical order fields to the physical columns present in the database.
// It is resolved once at startup and never mutated afterwards.
type OrderSchema struct {
	table   string
	columns map[OrderField]string
}

// NewOrderSchema resolves the available columns of table. Each field matches its snake_case
// name, its camelCase name or a known alias; exact matches win over case-insensitive ones.
func NewOrderSchema(table string, columns []string) (OrderSchema, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultOrderTable
	}
	exact := make(map[string]string, len(columns))
	folded := make(map[string]string, len(columns))
	for _, col := range columns {
		exact[col] = col
		key := foldColumn(col)
		if _, ok := folded[key]; !ok {
			folded[key] = col
		}
	}

	resolved := make(map[OrderField]string, len(orderFields))
	for _, spec := range orderFields {
		if col, ok := matchColumn(spec, exact, folded); ok {
			resolved[spec.field] = col
		}
	}

	var missing []string
	for _, field := range requiredOrderFields {
		if _, ok := resolved[field]; !ok {
			missing = append(missing, string(field))
		}
	}
	if len(missing) > 0 {
		return OrderSchema{}, fmt.Errorf("%w: %s.%s", ErrRequiredColumnMissing, table, strings.Join(missing, ", "))
	}
	return OrderSchema{table: table, columns: resolved}, nil
}

// LoadOrderSchema reads information_schema for the order table columns.
func LoadOrderSchema(ctx context.Context, db ppostgres.Querier, table string) (OrderSchema, error) {
	if db == nil {
		return OrderSchema{}, errors.New("order schema: querier is required")
	}
	if strings.TrimSpace(table) == "" {
		table = DefaultOrderTable
	}
	rows, err := db.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return OrderSchema{}, ppostgres.WrapError("order_schema.load", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return OrderSchema{}, ppostgres.WrapError("order_schema.scan", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return OrderSchema{}, ppostgres.WrapError("order_schema.load", err)
	}
	return NewOrderSchema(table, columns)
}

// Table returns the physical table name.
func (s OrderSchema) Table() string {
	if s.table == "" {
		return DefaultOrderTable
	}
	return s.table
}

// Column returns the physical column for field.
func (s OrderSchema) Column(field OrderField) (string, bool) {
	col, ok := s.columns[field]
	return col, ok
}

// Has reports whether field is backed by a column.
func (s OrderSchema) Has(field OrderField) bool {
	_, ok := s.columns[field]
	return ok
}

// Fields returns the resolved fields in projection order.
func (s OrderSchema) Fields() []OrderField {
	out := make([]OrderField, 0, len(s.columns))
	for _, spec := range orderFields {
		if s.Has(spec.field) {
			out = append(out, spec.field)
		}
	}
	return out
}

func matchColumn(spec orderFieldSpec, exact, folded map[string]string) (string, bool) {
	candidates := make([]string, 0, 2+len(spec.aliases)*2)
	candidates = append(candidates, string(spec.field), camelCase(string(spec.field)))
	for _, alias := range spec.aliases {
		candidates = append(candidates, alias, camelCase(alias))
	}
	for _, name := range candidates {
		if col, ok := exact[name]; ok {
			return col, true
		}
	}
	for _, name := range candidates {
		if col, ok := folded[foldColumn(name)]; ok {
			return col, true
		}
	}
	return "", false
}

// camelCase converts snake_case to lowerCamelCase.
func camelCase(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			b.WriteString(part)
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// foldColumn lowercases and strips underscores so "userId", "userid" and "user_id" collide.
func foldColumn(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}
