package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// PointValue is the monetary value of a single loyalty point.
	PointValue = decimal.RequireFromString("0.10")
	// DeliveryFeeNormal applies to non-urgent deliveries.
	DeliveryFeeNormal = decimal.RequireFromString("2.50")
	// DeliveryFeeUrgent applies to urgent deliveries.
	DeliveryFeeUrgent = decimal.RequireFromString("6.00")
)

// PaylaterAllocation describes how much of a payment lands on one PayLater order.
type PaylaterAllocation struct {
	OrderID   string
	Applied   decimal.Decimal
	Paid      decimal.Decimal
	Remaining decimal.Decimal
	Status    OrderStatus
}

// AllocatePaylaterPayment spreads amount over outstanding PayLater orders, oldest first,
// taking at most each order's remaining balance. Orders must carry a Paylater plan;
// others are skipped. Returned allocations only cover orders that received money.
func AllocatePaylaterPayment(orders []Order, amount decimal.Decimal) ([]PaylaterAllocation, decimal.Decimal) {
	left := amount.Round(2)
	applied := decimal.Zero
	if !left.IsPositive() {
		return nil, applied
	}

	ordered := make([]Order, 0, len(orders))
	for _, order := range orders {
		if order.Paylater == nil || order.Status != OrderStatusPaylater || !order.Paylater.Remaining.IsPositive() {
			continue
		}
		ordered = append(ordered, order)
	}
	slices.SortStableFunc(ordered, func(a, b Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	allocations := make([]PaylaterAllocation, 0, len(ordered))
	for _, order := range ordered {
		if !left.IsPositive() {
			break
		}
		plan := order.Paylater
		take := decimal.Min(left, plan.Remaining)
		remaining := plan.Remaining.Sub(take).Round(2)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		status := OrderStatusPaylater
		if !remaining.IsPositive() {
			status = OrderStatusPaid
		}
		allocations = append(allocations, PaylaterAllocation{
			OrderID:   order.ID,
			Applied:   take,
			Paid:      plan.Paid.Add(take).Round(2),
			Remaining: remaining,
			Status:    status,
		})
		left = left.Sub(take)
		applied = applied.Add(take)
	}
	return allocations, applied.Round(2)
}

// PaylaterInstallment is a display-only entry of a PayLater schedule.
type PaylaterInstallment struct {
	Number int
	DueAt  time.Time
	Amount decimal.Decimal
}

// PaylaterSchedule derives the monthly due dates of a plan. The last installment absorbs
// rounding so the amounts sum to the order total. Dates past the end of a shorter month
// are clamped to that month's last day.
func PaylaterSchedule(order Order) []PaylaterInstallment {
	if order.Paylater == nil || order.Paylater.Months <= 0 {
		return nil
	}
	plan := order.Paylater
	out := make([]PaylaterInstallment, 0, plan.Months)
	allocated := decimal.Zero
	for i := 1; i <= plan.Months; i++ {
		amount := plan.Monthly
		if i == plan.Months {
			amount = order.Total.Sub(allocated).Round(2)
		}
		allocated = allocated.Add(amount)
		out = append(out, PaylaterInstallment{
			Number: i,
			DueAt:  AddMonthsClamped(order.CreatedAt, i),
			Amount: amount,
		})
	}
	return out
}

// AddMonthsClamped adds n calendar months, clamping the day to the target month's length.
func AddMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}
