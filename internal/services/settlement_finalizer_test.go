package services

import (
	"context"
	"encoding/json"
	"testing"

	domain "github.com/homebitez/api/internal/domain"
)

func TestSettlementFinalizer_ContinuesPastFailures(t *testing.T) {
	products := newMemoryProductRepo(domain.Product{ID: "p1", Name: "Kaya Toast", Price: dec("5.00"), Stock: 1})
	products.decrementErr = errBoom
	carts := newMemoryCartRepo()
	carts.removeErr = errBoom
	sessions := newMemorySessionRepo()
	receipts := &stubReceiptArchive{}
	events := &recordingPublisher{}
	var failures []string
	finalizer, err := NewSettlementFinalizer(SettlementFinalizerDeps{
		Products: products,
		Sessions: sessions,
		Carts:    carts,
		Receipts: receipts,
		Events:   events,
		Clock:    fixedClock,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if event == "checkout.finalize.step.failed" {
				failures = append(failures, fields["step"].(string))
			}
		},
	})
	if err != nil {
		t.Fatalf("NewSettlementFinalizer error: %v", err)
	}

	session := CheckoutSession{
		Key:              UserSessionKey("u1"),
		UserID:           "u1",
		Items:            defaultItems(),
		Selection:        []string{"Kaya Toast"},
		Redemption:       RedemptionState{Points: 10},
		ConfirmedOrderID: "ord_1",
	}
	order := paidOrder("ord_1", "u1", "10.00")
	order.Items = []OrderItem{{Name: "Kaya Toast", UnitPrice: dec("5.00"), Quantity: 2}}

	result := finalizer.Finalize(context.Background(), session, order)
	if len(result.Failures) != 2 || len(failures) != 2 {
		t.Fatalf("expected stock and persistent cart failures, got %v", result.Failures)
	}
	saved := sessions.get(session.Key)
	if len(saved.Items) != 1 || saved.Items[0].Name != "Teh Tarik" {
		t.Fatalf("expected purchased line removed, got %+v", saved.Items)
	}
	if saved.LastReceiptID != "ord_1" || saved.ConfirmedOrderID != "" || !saved.Redemption.IsZero() || len(saved.Selection) != 0 {
		t.Fatalf("expected cleared markers, got %+v", saved)
	}
	if result.ReceiptURI != "gs://receipts/ord_1.json" {
		t.Fatalf("unexpected receipt uri %q", result.ReceiptURI)
	}
	var doc map[string]any
	if err := json.Unmarshal(receipts.payloads["ord_1"], &doc); err != nil {
		t.Fatalf("receipt payload is not JSON: %v", err)
	}
	if doc["total"] != "10.00" || doc["orderId"] != "ord_1" {
		t.Fatalf("unexpected receipt document %v", doc)
	}
	if types := events.types(); len(types) != 1 || types[0] != "order.finalized" {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestSettlementFinalizer_DecrementsStock(t *testing.T) {
	products := newMemoryProductRepo(
		domain.Product{ID: "p1", Name: "Kaya Toast", Price: dec("5.00"), Stock: 1},
		domain.Product{ID: "p2", Name: "Teh Tarik", Price: dec("3.50"), Stock: 5},
	)
	finalizer, err := NewSettlementFinalizer(SettlementFinalizerDeps{Products: products, Sessions: newMemorySessionRepo()})
	if err != nil {
		t.Fatalf("NewSettlementFinalizer error: %v", err)
	}
	order := paidOrder("ord_1", "", "13.50")
	order.Items = []OrderItem{
		{Name: "kaya toast", UnitPrice: dec("5.00"), Quantity: 2},
		{Name: "Teh Tarik", UnitPrice: dec("3.50"), Quantity: 1},
	}

	result := finalizer.Finalize(context.Background(), CheckoutSession{Key: GuestSessionKey("g")}, order)
	if result.StockAdjusted != 2 || len(result.Failures) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if products.products["p1"].Stock != 0 || products.products["p2"].Stock != 4 {
		t.Fatalf("unexpected stock p1=%d p2=%d", products.products["p1"].Stock, products.products["p2"].Stock)
	}
}
