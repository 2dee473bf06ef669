package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/payments"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/platform/textutil"
	"github.com/homebitez/api/internal/repositories"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sequentialIDs(ids ...string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(ids) {
			return "EXTRA" + strings.Repeat("X", next)
		}
		id := ids[next]
		next++
		return id
	}
}

type memoryOrderRepo struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	settlements map[string]string
	refs        map[string]string
	createErr   error
	settleErr   error
}

func newMemoryOrderRepo(orders ...domain.Order) *memoryOrderRepo {
	repo := &memoryOrderRepo{
		orders:      map[string]domain.Order{},
		settlements: map[string]string{},
		refs:        map[string]string{},
	}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *memoryOrderRepo) Create(_ context.Context, order domain.Order) (string, error) {
	if r.createErr != nil {
		return "", r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return order.ID, nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, ppostgres.NotFound("orders.find", nil)
	}
	return order, nil
}

func (r *memoryOrderRepo) List(_ context.Context, limit int) ([]domain.Order, error) {
	return r.filter(func(domain.Order) bool { return true }), nil
}

func (r *memoryOrderRepo) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.UserID == userID }), nil
}

func (r *memoryOrderRepo) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return false, nil
	}
	order.Status = status
	if status == domain.OrderStatusCompleted {
		now := fixedNow
		order.CompletedAt = &now
	}
	r.orders[orderID] = order
	return true, nil
}

func (r *memoryOrderRepo) ApplyPaylaterPayment(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var outstanding []domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			outstanding = append(outstanding, order)
		}
	}
	allocations, applied := domain.AllocatePaylaterPayment(outstanding, amount)
	for _, a := range allocations {
		order := r.orders[a.OrderID]
		plan := *order.Paylater
		plan.Paid = a.Paid
		plan.Remaining = a.Remaining
		order.Paylater = &plan
		order.Status = a.Status
		r.orders[a.OrderID] = order
	}
	return applied, nil
}

func (r *memoryOrderRepo) RecordSettlement(_ context.Context, orderID string, settlement domain.OrderSettlement) (bool, error) {
	if r.settleErr != nil {
		return false, r.settleErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok || order.Status != domain.OrderStatusPending {
		return false, nil
	}
	if settlement.SettlementKey != "" {
		if owner, taken := r.settlements[settlement.SettlementKey]; taken && owner != orderID {
			return false, ppostgres.Conflict("orders.record_settlement", nil)
		}
		r.settlements[settlement.SettlementKey] = orderID
	}
	order.Status = domain.OrderStatusPaid
	order.PaymentMethod = settlement.Method
	order.SettlementKey = settlement.SettlementKey
	order.PayPalCaptureID = settlement.PayPalCaptureID
	if settlement.PayPalOrderID != "" {
		order.PayPalOrderID = settlement.PayPalOrderID
	}
	if settlement.StripePaymentIntent != "" {
		order.StripePaymentIntent = settlement.StripePaymentIntent
	}
	if settlement.NETSTxnRef != "" {
		order.NETSTxnRef = settlement.NETSTxnRef
	}
	r.orders[orderID] = order
	return true, nil
}

func (r *memoryOrderRepo) AttachPaymentReference(_ context.Context, orderID string, method domain.PaymentMethod, reference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return false, nil
	}
	r.refs[string(method)+"|"+reference] = orderID
	return true, nil
}

func (r *memoryOrderRepo) FindByPaymentReference(ctx context.Context, method domain.PaymentMethod, reference string) (domain.Order, error) {
	r.mu.Lock()
	orderID, ok := r.refs[string(method)+"|"+reference]
	r.mu.Unlock()
	if !ok {
		return domain.Order{}, ppostgres.NotFound("orders.find_reference", nil)
	}
	return r.FindByID(ctx, orderID)
}

func (r *memoryOrderRepo) ListPaylater(_ context.Context, userID string) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.UserID == userID && o.Paylater != nil }), nil
}

func (r *memoryOrderRepo) ListOutstandingPaylater(_ context.Context, limit int) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.Status == domain.OrderStatusPaylater }), nil
}

func (r *memoryOrderRepo) get(orderID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[orderID]
}

func (r *memoryOrderRepo) filter(keep func(domain.Order) bool) []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, order := range r.orders {
		if keep(order) {
			out = append(out, order)
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
	saves    int
	saveErr  error
}

func newMemorySessionRepo(sessions ...domain.CheckoutSession) *memorySessionRepo {
	repo := &memorySessionRepo{sessions: map[string]domain.CheckoutSession{}}
	for _, session := range sessions {
		repo.sessions[session.Key] = session
	}
	return repo
}

func (r *memorySessionRepo) Get(_ context.Context, key string) (domain.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[key]
	if !ok {
		return domain.CheckoutSession{}, ppostgres.NotFound("sessions.get", nil)
	}
	return session, nil
}

func (r *memorySessionRepo) Save(_ context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error) {
	if r.saveErr != nil {
		return domain.CheckoutSession{}, r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	session.UpdatedAt = fixedNow
	r.sessions[session.Key] = session
	return session, nil
}

func (r *memorySessionRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
	return nil
}

func (r *memorySessionRepo) get(key string) domain.CheckoutSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

type memoryCartRepo struct {
	carts     map[string][]domain.CartItem
	removed   []string
	removeErr error
}

func newMemoryCartRepo() *memoryCartRepo {
	return &memoryCartRepo{carts: map[string][]domain.CartItem{}}
}

func (r *memoryCartRepo) Get(_ context.Context, userID string) ([]domain.CartItem, error) {
	items, ok := r.carts[userID]
	if !ok {
		return nil, ppostgres.NotFound("carts.get", nil)
	}
	return items, nil
}

func (r *memoryCartRepo) Replace(_ context.Context, userID string, items []domain.CartItem) error {
	r.carts[userID] = slices.Clone(items)
	return nil
}

func (r *memoryCartRepo) RemoveItems(_ context.Context, userID string, names []string) error {
	if r.removeErr != nil {
		return r.removeErr
	}
	r.removed = append(r.removed, names...)
	r.carts[userID] = slices.DeleteFunc(slices.Clone(r.carts[userID]), func(item domain.CartItem) bool {
		return slices.Contains(names, item.Name)
	})
	return nil
}

type memoryProductRepo struct {
	products     map[string]domain.Product
	decrementErr error
}

func newMemoryProductRepo(products ...domain.Product) *memoryProductRepo {
	repo := &memoryProductRepo{products: map[string]domain.Product{}}
	for _, p := range products {
		if p.NameKey == "" {
			p.NameKey = textutil.NormalizeName(p.Name)
		}
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memoryProductRepo) List(context.Context) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *memoryProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return domain.Product{}, ppostgres.NotFound("products.find", nil)
	}
	return p, nil
}

func (r *memoryProductRepo) FindByNameKey(_ context.Context, nameKey string) (domain.Product, error) {
	for _, p := range r.products {
		if p.NameKey == nameKey {
			return p, nil
		}
	}
	return domain.Product{}, ppostgres.NotFound("products.find_name", nil)
}

func (r *memoryProductRepo) SetStock(_ context.Context, productID string, stock int) (domain.Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return domain.Product{}, ppostgres.NotFound("products.set_stock", nil)
	}
	p.Stock = stock
	r.products[productID] = p
	return p, nil
}

func (r *memoryProductRepo) DecrementStockByName(_ context.Context, nameKey string, quantity int) (bool, error) {
	if r.decrementErr != nil {
		return false, r.decrementErr
	}
	for id, p := range r.products {
		if p.NameKey == nameKey {
			p.Stock = max(p.Stock-quantity, 0)
			r.products[id] = p
			return true, nil
		}
	}
	return false, nil
}

type memoryLoyaltyRepo struct {
	mu       sync.Mutex
	balances map[string]int
	entries  []domain.LoyaltyEntry
}

func newMemoryLoyaltyRepo() *memoryLoyaltyRepo {
	return &memoryLoyaltyRepo{balances: map[string]int{}}
}

func (r *memoryLoyaltyRepo) AddPoints(_ context.Context, entry domain.LoyaltyEntry) (repositories.LoyaltyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.Reference != "" {
		for _, existing := range r.entries {
			if existing.Reference == entry.Reference {
				return repositories.LoyaltyResult{Balance: r.balances[entry.UserID], Entry: existing}, nil
			}
		}
	}
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, entry)
	r.balances[entry.UserID] += entry.PointsDelta
	return repositories.LoyaltyResult{Balance: r.balances[entry.UserID], Entry: entry, Applied: true}, nil
}

func (r *memoryLoyaltyRepo) Balance(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *memoryLoyaltyRepo) History(_ context.Context, userID string, limit int) ([]domain.LoyaltyEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LoyaltyEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryWalletRepo struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txns     []domain.WalletTransaction
}

func newMemoryWalletRepo() *memoryWalletRepo {
	return &memoryWalletRepo{balances: map[string]decimal.Decimal{}}
}

func (r *memoryWalletRepo) Credit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] = r.balances[userID].Add(amount)
	return r.balances[userID], nil
}

func (r *memoryWalletRepo) Debit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[userID].LessThan(amount) {
		return decimal.Zero, repositories.NewLedgerError("wallet.debit", repositories.LedgerErrorInsufficientFunds, nil)
	}
	r.balances[userID] = r.balances[userID].Sub(amount)
	return r.balances[userID], nil
}

func (r *memoryWalletRepo) RecordTxn(_ context.Context, txn domain.WalletTransaction) (domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.txns {
		if txn.Reference != "" && existing.Reference == txn.Reference {
			return domain.WalletTransaction{}, repositories.NewLedgerError("wallet.record_txn", repositories.LedgerErrorDuplicateReference, nil)
		}
	}
	txn.ID = int64(len(r.txns) + 1)
	r.txns = append(r.txns, txn)
	return txn, nil
}

func (r *memoryWalletRepo) FindTxnByReference(_ context.Context, reference string) (domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.txns {
		if txn.Reference == reference {
			return txn, nil
		}
	}
	return domain.WalletTransaction{}, ppostgres.NotFound("wallet.find_reference", nil)
}

func (r *memoryWalletRepo) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *memoryWalletRepo) History(_ context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WalletTransaction
	for _, txn := range r.txns {
		if txn.UserID == userID {
			out = append(out, txn)
		}
	}
	return out, nil
}

type memoryRefundRepo struct {
	refunds map[string]domain.RefundRequest
	locks   int
}

func newMemoryRefundRepo(refunds ...domain.RefundRequest) *memoryRefundRepo {
	repo := &memoryRefundRepo{refunds: map[string]domain.RefundRequest{}}
	for _, refund := range refunds {
		repo.refunds[refund.ID] = refund
	}
	return repo
}

func (r *memoryRefundRepo) Insert(_ context.Context, refund domain.RefundRequest) error {
	if _, exists := r.refunds[refund.ID]; exists {
		return ppostgres.Conflict("refunds.insert", nil)
	}
	r.refunds[refund.ID] = refund
	return nil
}

func (r *memoryRefundRepo) FindByID(_ context.Context, refundID string) (domain.RefundRequest, error) {
	refund, ok := r.refunds[refundID]
	if !ok {
		return domain.RefundRequest{}, ppostgres.NotFound("refunds.find", nil)
	}
	return refund, nil
}

func (r *memoryRefundRepo) List(_ context.Context, filter repositories.RefundListFilter) ([]domain.RefundRequest, error) {
	var out []domain.RefundRequest
	for _, refund := range r.refunds {
		if filter.UserID != "" && refund.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && refund.Status != filter.Status {
			continue
		}
		out = append(out, refund)
	}
	return out, nil
}

func (r *memoryRefundRepo) UpdateStatus(_ context.Context, refundID string, from, to domain.RefundStatus, amount decimal.Decimal, decidedAt time.Time) (bool, error) {
	refund, ok := r.refunds[refundID]
	if !ok || refund.Status != from {
		return false, nil
	}
	refund.Status = to
	refund.Amount = amount
	refund.DecidedAt = &decidedAt
	r.refunds[refundID] = refund
	return true, nil
}

func (r *memoryRefundRepo) TotalsByOrder(_ context.Context, orderID string) (repositories.RefundTotals, error) {
	totals := repositories.RefundTotals{Approved: decimal.Zero}
	for _, refund := range r.refunds {
		if refund.OrderID != orderID {
			continue
		}
		switch refund.Status {
		case domain.RefundStatusApproved:
			totals.Approved = totals.Approved.Add(refund.Amount)
		case domain.RefundStatusPending:
			totals.Pending++
		}
	}
	return totals, nil
}

func (r *memoryRefundRepo) LockOrder(context.Context, string) error {
	r.locks++
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingMetrics struct {
	mu          sync.Mutex
	settlements []string
	refunds     []string
}

func (m *recordingMetrics) RecordSettlement(_ context.Context, method, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append(m.settlements, method+":"+outcome)
}

func (m *recordingMetrics) RecordRefund(_ context.Context, method, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, method+":"+outcome)
}

type stubPayments struct {
	createFn  func(context.Context, domain.PaymentMethod, payments.CreateRequest) (payments.CreateResult, error)
	confirmFn func(context.Context, domain.PaymentMethod, payments.ConfirmRequest) (payments.Confirmation, error)
	refundFn  func(context.Context, payments.RefundRequest) (payments.RefundResult, error)

	mu       sync.Mutex
	creates  []payments.CreateRequest
	confirms []payments.ConfirmRequest
	refunds  []payments.RefundRequest
}

func (s *stubPayments) Create(ctx context.Context, method domain.PaymentMethod, req payments.CreateRequest) (payments.CreateResult, error) {
	s.mu.Lock()
	s.creates = append(s.creates, req)
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, method, req)
	}
	return payments.CreateResult{Method: method, Reference: "REF-" + req.OrderID, Status: payments.StatusPending}, nil
}

func (s *stubPayments) Confirm(ctx context.Context, method domain.PaymentMethod, req payments.ConfirmRequest) (payments.Confirmation, error) {
	s.mu.Lock()
	s.confirms = append(s.confirms, req)
	s.mu.Unlock()
	if s.confirmFn != nil {
		return s.confirmFn(ctx, method, req)
	}
	return payments.Confirmation{
		Method:            method,
		Status:            payments.StatusSucceeded,
		ProviderReference: req.Reference,
		TransactionID:     "CAP-" + req.OrderID,
		SettledAmount:     req.Amount,
	}, nil
}

func (s *stubPayments) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	s.mu.Lock()
	s.refunds = append(s.refunds, req)
	s.mu.Unlock()
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return payments.RefundResult{Method: req.Method, RefundID: "RF-1", Status: payments.StatusSucceeded, Amount: req.Amount}, nil
}

func (s *stubPayments) confirmCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.confirms)
}

type stubReceiptArchive struct {
	payloads map[string][]byte
	err      error
}

func (s *stubReceiptArchive) PutReceipt(_ context.Context, orderID string, _ time.Time, payload []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.payloads == nil {
		s.payloads = map[string][]byte{}
	}
	s.payloads[orderID] = payload
	return "gs://receipts/" + orderID + ".json", nil
}

var errBoom = errors.New("boom")
