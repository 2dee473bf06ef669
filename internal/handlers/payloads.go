package handlers

import (
	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/services"
)

type pricingPayload struct {
	Subtotal     string `json:"subtotal"`
	DeliveryFee  string `json:"delivery_fee"`
	Redeem       string `json:"redeem"`
	RedeemPoints int    `json:"redeem_points"`
	Total        string `json:"total"`
}

func buildPricingPayload(p domain.PricingResult) pricingPayload {
	return pricingPayload{
		Subtotal:     money.Format(p.Subtotal),
		DeliveryFee:  money.Format(p.DeliveryFee),
		Redeem:       money.Format(p.Redeem),
		RedeemPoints: p.RedeemPoints,
		Total:        money.Format(p.Total),
	}
}

type cartItemPayload struct {
	Name      string `json:"name"`
	UnitPrice string `json:"price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
}

func buildCartItems(items []domain.CartItem) []cartItemPayload {
	out := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, cartItemPayload{
			Name:      item.Name,
			UnitPrice: money.Format(item.UnitPrice),
			Quantity:  item.Quantity,
			LineTotal: money.Format(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}
	return out
}

type preferencesPayload struct {
	Mode       string `json:"mode"`
	Urgency    string `json:"urgency,omitempty"`
	Name       string `json:"name,omitempty"`
	Address    string `json:"address,omitempty"`
	Contact    string `json:"contact,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Cutlery    bool   `json:"cutlery"`
	PickupDate string `json:"pickup_date,omitempty"`
	PickupTime string `json:"pickup_time,omitempty"`
}

type redemptionPayload struct {
	Points int    `json:"points"`
	Amount string `json:"amount"`
}

type cartPayload struct {
	Items          []cartItemPayload  `json:"items"`
	Selection      []string           `json:"selection"`
	Selected       []cartItemPayload  `json:"selected"`
	Preferences    preferencesPayload `json:"preferences"`
	Redemption     redemptionPayload  `json:"redemption"`
	Pricing        pricingPayload     `json:"pricing"`
	PendingOrderID string             `json:"pending_order_id,omitempty"`
	PendingMethod  string             `json:"pending_method,omitempty"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func buildCartPayload(view services.CartView) cartPayload {
	session := view.Session
	selection := session.Selection
	if selection == nil {
		selection = []string{}
	}
	prefs := session.Preferences
	mode := string(prefs.Mode)
	if mode == "" {
		mode = string(domain.FulfillmentPickup)
	}
	return cartPayload{
		Items:     buildCartItems(session.Items),
		Selection: selection,
		Selected:  buildCartItems(view.Selected),
		Preferences: preferencesPayload{
			Mode:       mode,
			Urgency:    string(prefs.Urgency),
			Name:       prefs.Name,
			Address:    prefs.Address,
			Contact:    prefs.Contact,
			Notes:      prefs.Notes,
			Cutlery:    prefs.Cutlery,
			PickupDate: prefs.PickupDate,
			PickupTime: prefs.PickupTime,
		},
		Redemption: redemptionPayload{
			Points: session.Redemption.Points,
			Amount: money.Format(session.Redemption.Amount),
		},
		Pricing:        buildPricingPayload(view.Pricing),
		PendingOrderID: session.PendingOrderID,
		PendingMethod:  string(session.PendingMethod),
		UpdatedAt:      formatTime(session.UpdatedAt),
	}
}

type orderItemPayload struct {
	Name      string `json:"name"`
	UnitPrice string `json:"price"`
	Quantity  int    `json:"qty"`
}

type paylaterPayload struct {
	Months    int    `json:"months"`
	Monthly   string `json:"monthly"`
	Paid      string `json:"paid"`
	Remaining string `json:"remaining"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id,omitempty"`
	Status          string             `json:"status"`
	PaymentMethod   string             `json:"payment_method,omitempty"`
	PaymentRef      string             `json:"payment_reference,omitempty"`
	PayerEmail      string             `json:"payer_email,omitempty"`
	ShippingName    string             `json:"shipping_name,omitempty"`
	FulfillmentMode string             `json:"fulfillment_mode,omitempty"`
	DeliveryUrgency string             `json:"delivery_urgency,omitempty"`
	Address         string             `json:"address,omitempty"`
	Contact         string             `json:"contact,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Items           []orderItemPayload `json:"items"`
	Subtotal        string             `json:"subtotal"`
	DeliveryFee     string             `json:"delivery_fee"`
	Redeem          string             `json:"redeem"`
	RedeemPoints    int                `json:"redeem_points"`
	Total           string             `json:"total"`
	Paylater        *paylaterPayload   `json:"paylater,omitempty"`
	CreatedAt       string             `json:"created_at,omitempty"`
	CompletedAt     string             `json:"completed_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			Name:      item.Name,
			UnitPrice: money.Format(item.UnitPrice),
			Quantity:  item.Quantity,
		})
	}
	payload := orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentRef:      paymentReference(order),
		PayerEmail:      order.PayerEmail,
		ShippingName:    order.ShippingName,
		FulfillmentMode: string(order.FulfillmentMode),
		DeliveryUrgency: string(order.DeliveryUrgency),
		Address:         order.Address,
		Contact:         order.Contact,
		Notes:           order.Notes,
		Items:           items,
		Subtotal:        money.Format(order.Subtotal),
		DeliveryFee:     money.Format(order.DeliveryFee),
		Redeem:          money.Format(order.RedeemAmount),
		RedeemPoints:    order.RedeemPoints,
		Total:           money.Format(order.Total),
		CreatedAt:       formatTime(order.CreatedAt),
		CompletedAt:     formatTimePointer(order.CompletedAt),
	}
	if plan := order.Paylater; plan != nil {
		payload.Paylater = &paylaterPayload{
			Months:    plan.Months,
			Monthly:   money.Format(plan.Monthly),
			Paid:      money.Format(plan.Paid),
			Remaining: money.Format(plan.Remaining),
		}
	}
	return payload
}

func buildOrderList(orders []domain.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

func paymentReference(order domain.Order) string {
	switch order.PaymentMethod {
	case domain.PaymentMethodPayPal:
		if order.PayPalCaptureID != "" {
			return order.PayPalCaptureID
		}
		return order.PayPalOrderID
	case domain.PaymentMethodStripe:
		return order.StripePaymentIntent
	case domain.PaymentMethodNETS:
		return order.NETSTxnRef
	default:
		return ""
	}
}

type refundPayload struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	Method    string `json:"method"`
	Details   string `json:"details,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	DecidedAt string `json:"decided_at,omitempty"`
}

func buildRefundPayload(refund domain.RefundRequest) refundPayload {
	return refundPayload{
		ID:        refund.ID,
		UserID:    refund.UserID,
		OrderID:   refund.OrderID,
		Amount:    money.Format(refund.Amount),
		Reason:    refund.Reason,
		Method:    string(refund.Method),
		Details:   refund.Details,
		Status:    string(refund.Status),
		CreatedAt: formatTime(refund.CreatedAt),
		DecidedAt: formatTimePointer(refund.DecidedAt),
	}
}

type walletTxnPayload struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Method       string `json:"method,omitempty"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	Reference    string `json:"reference,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func buildWalletHistory(txns []domain.WalletTransaction) []walletTxnPayload {
	out := make([]walletTxnPayload, 0, len(txns))
	for _, txn := range txns {
		out = append(out, walletTxnPayload{
			ID:           txn.ID,
			Type:         string(txn.Type),
			Method:       txn.Method,
			Amount:       money.Format(txn.Amount),
			BalanceAfter: money.Format(txn.BalanceAfter),
			Reference:    txn.Reference,
			CreatedAt:    formatTime(txn.CreatedAt),
		})
	}
	return out
}

type loyaltyEntryPayload struct {
	ID          int64  `json:"id"`
	PointsDelta int    `json:"points_delta"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func buildLoyaltyHistory(entries []domain.LoyaltyEntry) []loyaltyEntryPayload {
	out := make([]loyaltyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		out = append(out, loyaltyEntryPayload{
			ID:          entry.ID,
			PointsDelta: entry.PointsDelta,
			Description: entry.Description,
			CreatedAt:   formatTime(entry.CreatedAt),
		})
	}
	return out
}

type installmentPayload struct {
	Number int    `json:"number"`
	DueAt  string `json:"due_at"`
	Amount string `json:"amount"`
}

func buildInstallment(inst domain.PaylaterInstallment) installmentPayload {
	return installmentPayload{
		Number: inst.Number,
		DueAt:  inst.DueAt.UTC().Format("2006-01-02"),
		Amount: money.Format(inst.Amount),
	}
}

type paylaterPlanPayload struct {
	Order    orderPayload         `json:"order"`
	Schedule []installmentPayload `json:"schedule"`
	NextDue  *installmentPayload  `json:"next_due,omitempty"`
}

func buildPaylaterPlans(plans []services.PaylaterPlanView) []paylaterPlanPayload {
	out := make([]paylaterPlanPayload, 0, len(plans))
	for _, plan := range plans {
		entry := paylaterPlanPayload{
			Order:    buildOrderPayload(plan.Order),
			Schedule: make([]installmentPayload, 0, len(plan.Schedule)),
		}
		for _, inst := range plan.Schedule {
			entry.Schedule = append(entry.Schedule, buildInstallment(inst))
		}
		if plan.NextDue != nil {
			next := buildInstallment(*plan.NextDue)
			entry.NextDue = &next
		}
		out = append(out, entry)
	}
	return out
}

type productPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Stock     int    `json:"stock"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:        product.ID,
		Name:      product.Name,
		Price:     money.Format(product.Price),
		Stock:     product.Stock,
		UpdatedAt: formatTime(product.UpdatedAt),
	}
}
