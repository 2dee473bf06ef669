package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
)

// ErrPricingInvalidInput signals negative prices, quantities or redemption values.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// CheckoutPricingEngine computes the monetary breakdown of a checkout.
// It holds no state; the same inputs always produce the same result.
type CheckoutPricingEngine struct{}

// NewCheckoutPricingEngine returns the pricing engine.
func NewCheckoutPricingEngine() CheckoutPricingEngine {
	return CheckoutPricingEngine{}
}

// Price totals items, adds the delivery fee and subtracts the redeemed amount.
//
// The fee is zero for pickup or an empty selection, and follows the fixed delivery
// schedule otherwise. The redeemed amount never exceeds the subtotal or the value of the
// held points, and the points charged never exceed what that amount is worth.
func (CheckoutPricingEngine) Price(items []CartItem, prefs FulfillmentPreferences, redemption RedemptionState) (PricingResult, error) {
	subtotal := decimal.Zero
	for _, item := range items {
		if item.UnitPrice.IsNegative() || item.Quantity < 0 {
			return PricingResult{}, fmt.Errorf("%w: item %q", ErrPricingInvalidInput, item.Name)
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	subtotal = money.Round2(subtotal)

	if redemption.Points < 0 || redemption.Amount.IsNegative() {
		return PricingResult{}, fmt.Errorf("%w: redemption", ErrPricingInvalidInput)
	}

	fee := DeliveryFee(prefs, len(items))

	pointsWorth := domain.PointValue.Mul(decimal.NewFromInt(int64(redemption.Points)))
	requested := redemption.Amount
	if !requested.IsPositive() {
		requested = pointsWorth
	}
	redeem := money.Round2(decimal.Min(subtotal, requested, pointsWorth))
	redeemPoints := 0
	if redeem.IsPositive() {
		worth := int(redeem.Div(domain.PointValue).Floor().IntPart())
		redeemPoints = min(redemption.Points, worth)
	}

	total := money.Round2(subtotal.Add(fee).Sub(redeem))
	if total.IsNegative() {
		total = decimal.Zero
	}
	return PricingResult{
		Subtotal:     subtotal,
		DeliveryFee:  fee,
		Redeem:       redeem,
		RedeemPoints: redeemPoints,
		Total:        total,
	}, nil
}

// DeliveryFee returns the fee for the fulfillment choice.
func DeliveryFee(prefs FulfillmentPreferences, itemCount int) decimal.Decimal {
	if itemCount == 0 || prefs.Mode != domain.FulfillmentDelivery {
		return decimal.Zero
	}
	if prefs.Urgency == domain.DeliveryUrgent {
		return domain.DeliveryFeeUrgent
	}
	return domain.DeliveryFeeNormal
}
