package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/homebitez/api/internal/domain"
)

func paylaterOrder(id, userID string, created time.Time, months int, monthly, total, paid string) domain.Order {
	remaining := dec(total).Sub(dec(paid))
	return domain.Order{
		ID:            id,
		UserID:        userID,
		PaymentMethod: domain.PaymentMethodPaylater,
		Status:        domain.OrderStatusPaylater,
		Total:         dec(total),
		CreatedAt:     created,
		Paylater: &domain.PaylaterPlan{
			Months:    months,
			Monthly:   dec(monthly),
			Paid:      dec(paid),
			Remaining: remaining,
		},
	}
}

func newTestPaylaterService(t *testing.T, orders *memoryOrderRepo, wallets *memoryWalletRepo, events *recordingPublisher) PaylaterService {
	t.Helper()
	wallet := newTestWalletService(t, wallets)
	svc, err := NewPaylaterService(PaylaterServiceDeps{
		Orders:      orders,
		Wallet:      wallet,
		Events:      events,
		Clock:       fixedClock,
		IDGenerator: sequentialIDs("P1", "P2"),
	})
	if err != nil {
		t.Fatalf("NewPaylaterService error: %v", err)
	}
	return svc
}

func TestPaylaterService_PayAppliesToOldestPlan(t *testing.T) {
	orders := newMemoryOrderRepo(paylaterOrder("ord_1", "u1", fixedNow.AddDate(0, -1, 0), 3, "30.00", "90.00", "0"))
	wallets := newMemoryWalletRepo()
	wallets.balances["u1"] = dec("100.00")
	svc := newTestPaylaterService(t, orders, wallets, &recordingPublisher{})

	result, err := svc.Pay(context.Background(), PaylaterPaymentCommand{UserID: "u1", Amount: dec("50")})
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if !result.Applied.Equal(dec("50")) || !result.WalletBalance.Equal(dec("50.00")) {
		t.Fatalf("unexpected result %+v", result)
	}
	order := orders.get("ord_1")
	if !order.Paylater.Paid.Equal(dec("50")) || !order.Paylater.Remaining.Equal(dec("40")) || order.Status != domain.OrderStatusPaylater {
		t.Fatalf("unexpected plan %+v status %s", order.Paylater, order.Status)
	}
	if len(result.Plans) != 1 || result.Plans[0].NextDue == nil || result.Plans[0].NextDue.Number != 2 {
		t.Fatalf("expected second installment to be next, got %+v", result.Plans)
	}
	if txn := wallets.txns[0]; txn.Reference != "paylater:P1" || txn.Method != "paylater" || !txn.Amount.Equal(dec("50")) {
		t.Fatalf("unexpected wallet entry %+v", txn)
	}
}

func TestPaylaterService_PayDebitsOnlyAppliedAmount(t *testing.T) {
	orders := newMemoryOrderRepo(
		paylaterOrder("ord_old", "u1", fixedNow.AddDate(0, -2, 0), 3, "10.00", "30.00", "20.00"),
		paylaterOrder("ord_new", "u1", fixedNow.AddDate(0, -1, 0), 3, "5.00", "15.00", "0"),
	)
	wallets := newMemoryWalletRepo()
	wallets.balances["u1"] = dec("100.00")
	svc := newTestPaylaterService(t, orders, wallets, &recordingPublisher{})

	result, err := svc.Pay(context.Background(), PaylaterPaymentCommand{UserID: "u1", Amount: dec("40")})
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if !result.Applied.Equal(dec("25")) || !result.WalletBalance.Equal(dec("75.00")) {
		t.Fatalf("unexpected result %+v", result)
	}
	if orders.get("ord_old").Status != domain.OrderStatusPaid || orders.get("ord_new").Status != domain.OrderStatusPaid {
		t.Fatalf("expected both plans settled")
	}
}

func TestPaylaterService_PayRejections(t *testing.T) {
	orders := newMemoryOrderRepo()
	wallets := newMemoryWalletRepo()
	wallets.balances["u1"] = dec("10.00")
	svc := newTestPaylaterService(t, orders, wallets, &recordingPublisher{})
	ctx := context.Background()

	if _, err := svc.Pay(ctx, PaylaterPaymentCommand{UserID: "u1", Amount: dec("20")}); !errors.Is(err, ErrWalletInsufficientFunds) {
		t.Fatalf("expected ErrWalletInsufficientFunds, got %v", err)
	}
	if _, err := svc.Pay(ctx, PaylaterPaymentCommand{UserID: "u1", Amount: dec("5")}); !errors.Is(err, ErrPaylaterNothingOutstanding) {
		t.Fatalf("expected ErrPaylaterNothingOutstanding, got %v", err)
	}
	if _, err := svc.Pay(ctx, PaylaterPaymentCommand{UserID: "u1", Amount: dec("-1")}); !errors.Is(err, ErrPaylaterInvalidInput) {
		t.Fatalf("expected ErrPaylaterInvalidInput, got %v", err)
	}
	if !wallets.balances["u1"].Equal(dec("10.00")) {
		t.Fatalf("expected wallet untouched, got %s", wallets.balances["u1"])
	}
}

func TestPaylaterService_SendReminders(t *testing.T) {
	dueSoon := paylaterOrder("ord_due", "u1", fixedNow.AddDate(0, -1, 1), 3, "30.00", "90.00", "0")
	notYet := paylaterOrder("ord_later", "u2", fixedNow.AddDate(0, 0, -5), 6, "10.00", "60.00", "0")
	overdue := paylaterOrder("ord_overdue", "u3", fixedNow.AddDate(0, -2, 0), 3, "10.00", "30.00", "10.00")
	orders := newMemoryOrderRepo(dueSoon, notYet, overdue)
	events := &recordingPublisher{}
	svc := newTestPaylaterService(t, orders, newMemoryWalletRepo(), events)

	result, err := svc.SendReminders(context.Background(), PaylaterReminderCommand{Now: fixedNow, Within: 72 * time.Hour})
	if err != nil {
		t.Fatalf("SendReminders error: %v", err)
	}
	if result.Scanned != 3 || result.Published != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	keys := map[string]bool{}
	for _, event := range events.events {
		if event.Type != "paylater.installment.due" {
			t.Fatalf("unexpected event type %s", event.Type)
		}
		keys[event.IdempotencyKey] = true
	}
	if !keys["paylater:ord_due:1"] || !keys["paylater:ord_overdue:2"] {
		t.Fatalf("unexpected reminder keys %v", keys)
	}
}
