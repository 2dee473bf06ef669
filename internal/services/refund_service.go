package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/payments"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/platform/textutil"
	"github.com/homebitez/api/internal/repositories"
)

const refundIDPrefix = "rfd_"

var (
	// ErrRefundInvalidInput indicates malformed refund request data.
	ErrRefundInvalidInput = errors.New("refund: invalid input")
	// ErrRefundNotFound indicates the refund request or its order does not exist.
	ErrRefundNotFound = errors.New("refund: not found")
	// ErrRefundAlreadyRejected indicates an approval was attempted on a rejected request.
	ErrRefundAlreadyRejected = errors.New("refund: already rejected")
	// ErrRefundAlreadyApproved indicates a rejection was attempted on an approved request.
	ErrRefundAlreadyApproved = errors.New("refund: already approved")
	// ErrRefundInvalidAmount indicates no positive amount could be determined.
	ErrRefundInvalidAmount = errors.New("refund: invalid amount")
	// ErrRefundNoPaymentReference indicates the order carries no provider reference to refund against.
	ErrRefundNoPaymentReference = errors.New("refund: order has no refundable payment reference")
	// ErrRefundOrderNotEligible indicates the order has not been paid.
	ErrRefundOrderNotEligible = errors.New("refund: order not eligible")
	// ErrRefundPendingExists indicates the order already has an undecided refund request.
	ErrRefundPendingExists = errors.New("refund: a request is already pending for this order")
	// ErrRefundExceedsOrder indicates the amount is more than what remains refundable on the order.
	ErrRefundExceedsOrder = errors.New("refund: amount exceeds refundable balance")
)

// RefundProvider reverses a settled provider payment.
type RefundProvider interface {
	Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error)
}

// CheckoutMetrics receives settlement and refund outcomes.
type CheckoutMetrics interface {
	RecordSettlement(ctx context.Context, method, outcome string)
	RecordRefund(ctx context.Context, method, outcome string)
}

// RefundServiceDeps wires the refund workflow.
type RefundServiceDeps struct {
	Refunds     repositories.RefundRepository
	Orders      repositories.OrderRepository
	Wallet      WalletService
	Payments    RefundProvider
	Events      EventPublisher
	Metrics     CheckoutMetrics
	UnitOfWork  repositories.UnitOfWork
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	refunds  repositories.RefundRepository
	orders   repositories.OrderRepository
	wallet   WalletService
	payments RefundProvider
	events   EventPublisher
	metrics  CheckoutMetrics
	uow      repositories.UnitOfWork
	currency string
	now      func() time.Time
	newID    func() string
	logger   eventLogger
}

// NewRefundService constructs the refund workflow.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Refunds == nil {
		return nil, errors.New("refund service: refund repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Wallet == nil {
		return nil, errors.New("refund service: wallet service is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	return &refundService{
		refunds:  deps.Refunds,
		orders:   deps.Orders,
		wallet:   deps.Wallet,
		payments: deps.Payments,
		events:   deps.Events,
		metrics:  deps.Metrics,
		uow:      uow,
		currency: strings.TrimSpace(deps.Currency),
		now:      utcClock(deps.Clock),
		newID:    idGen,
		logger:   logger,
	}, nil
}

// Request files a pending refund against one of the customer's paid orders.
// A zero amount asks for whatever remains refundable, decided at approval time.
// Only one request per order may be pending at a time.
func (s *refundService) Request(ctx context.Context, cmd RequestRefundCommand) (RefundRequest, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" || orderID == "" || cmd.Amount.IsNegative() {
		return RefundRequest{}, ErrRefundInvalidInput
	}
	method := cmd.Method
	if method == "" {
		method = domain.RefundMethodOriginal
	}
	if method != domain.RefundMethodOriginal && method != domain.RefundMethodWallet {
		return RefundRequest{}, fmt.Errorf("%w: unsupported method %q", ErrRefundInvalidInput, method)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return RefundRequest{}, ErrRefundNotFound
		}
		return RefundRequest{}, err
	}
	if order.UserID != userID {
		return RefundRequest{}, ErrRefundNotFound
	}
	if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusCompleted {
		return RefundRequest{}, fmt.Errorf("%w: status %s", ErrRefundOrderNotEligible, order.Status)
	}
	amount := money.Round2(cmd.Amount)

	refund := RefundRequest{
		ID:        refundIDPrefix + s.newID(),
		UserID:    userID,
		OrderID:   orderID,
		Amount:    amount,
		Reason:    textutil.SanitizeText(cmd.Reason, 500),
		Method:    method,
		Details:   textutil.SanitizeText(cmd.Details, 500),
		Status:    domain.RefundStatusPending,
		CreatedAt: s.now(),
	}
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.refunds.LockOrder(txCtx, orderID); err != nil {
			return err
		}
		totals, err := s.refunds.TotalsByOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if totals.Pending > 0 {
			return ErrRefundPendingExists
		}
		if limit := refundCap(order); limit.IsPositive() {
			remaining := limit.Sub(totals.Approved)
			if !remaining.IsPositive() || amount.GreaterThan(remaining) {
				return fmt.Errorf("%w: %s remaining", ErrRefundExceedsOrder, money.Format(decimal.Max(remaining, decimal.Zero)))
			}
		}
		return s.refunds.Insert(txCtx, refund)
	})
	if err != nil {
		return RefundRequest{}, err
	}
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           "refund.requested",
		AggregateID:    refund.ID,
		UserID:         userID,
		IdempotencyKey: "refund:" + refund.ID + ":requested",
		OccurredAt:     refund.CreatedAt,
		Payload:        map[string]any{"orderId": orderID, "method": string(method), "amount": money.Format(amount)},
	})
	return refund, nil
}

func (s *refundService) List(ctx context.Context, filter RefundFilter) ([]RefundRequest, error) {
	return s.refunds.List(ctx, repositories.RefundListFilter{
		UserID: strings.TrimSpace(filter.UserID),
		Status: filter.Status,
		Limit:  normaliseLimit(filter.Limit),
	})
}

// Approve pays the refund out and marks the request approved. Approving an approved
// request is a no-op reported via AlreadyApproved; approving a rejected one fails.
// Decisions on one order are serialised so approved refunds never exceed what was paid.
func (s *refundService) Approve(ctx context.Context, cmd DecideRefundCommand) (RefundApproval, error) {
	refund, err := s.load(ctx, cmd.RefundID)
	if err != nil {
		return RefundApproval{}, err
	}

	var (
		approval RefundApproval
		settled  bool
	)
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.refunds.LockOrder(txCtx, refund.OrderID); err != nil {
			return err
		}
		current, err := s.load(txCtx, refund.ID)
		if err != nil {
			return err
		}
		switch current.Status {
		case domain.RefundStatusApproved:
			approval = RefundApproval{Refund: current, Amount: current.Amount, AlreadyApproved: true}
			return nil
		case domain.RefundStatusRejected:
			return ErrRefundAlreadyRejected
		}
		approval, settled, err = s.payOut(txCtx, current)
		return err
	})
	if err != nil {
		return RefundApproval{}, err
	}
	if !settled {
		return approval, nil
	}

	refund = approval.Refund
	s.recordOutcome(ctx, refund.Method, "approved")
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           "refund.approved",
		AggregateID:    refund.ID,
		UserID:         refund.UserID,
		IdempotencyKey: "refund:" + refund.ID + ":approved",
		OccurredAt:     *refund.DecidedAt,
		Payload: map[string]any{
			"orderId": refund.OrderID,
			"method":  string(refund.Method),
			"amount":  money.Format(approval.Amount),
			"actorId": cmd.ActorID,
		},
	})
	return approval, nil
}

// payOut moves the money for a pending refund and records the approval. settled is false
// when a concurrent decision won the status update.
func (s *refundService) payOut(ctx context.Context, refund RefundRequest) (RefundApproval, bool, error) {
	order, err := s.orders.FindByID(ctx, refund.OrderID)
	orderFound := err == nil
	if err != nil && !isRepoNotFound(err) {
		return RefundApproval{}, false, err
	}
	amount, err := s.approvalAmount(ctx, refund, order, orderFound)
	if err != nil {
		return RefundApproval{}, false, err
	}

	approval := RefundApproval{Amount: amount}
	if refund.Method == domain.RefundMethodWallet {
		movement, err := s.wallet.Credit(ctx, WalletCreditCommand{
			UserID:    refund.UserID,
			Amount:    amount,
			Method:    "refund",
			Reference: "refund:" + refund.ID,
		})
		if err != nil {
			s.recordOutcome(ctx, refund.Method, "failed")
			return RefundApproval{}, false, err
		}
		balance := movement.Balance
		approval.WalletBalance = &balance
	} else {
		result, err := s.refundOriginal(ctx, refund, order, amount)
		if err != nil {
			s.recordOutcome(ctx, refund.Method, "failed")
			return RefundApproval{}, false, err
		}
		approval.ProviderRefund = result.RefundID
	}

	decidedAt := s.now()
	updated, err := s.refunds.UpdateStatus(ctx, refund.ID, domain.RefundStatusPending, domain.RefundStatusApproved, amount, decidedAt)
	if err != nil {
		return RefundApproval{}, false, err
	}
	if !updated {
		current, err := s.load(ctx, refund.ID)
		if err != nil {
			return RefundApproval{}, false, err
		}
		if current.Status == domain.RefundStatusRejected {
			return RefundApproval{}, false, ErrRefundAlreadyRejected
		}
		return RefundApproval{Refund: current, Amount: current.Amount, AlreadyApproved: true}, false, nil
	}

	refund.Status = domain.RefundStatusApproved
	refund.Amount = amount
	refund.DecidedAt = &decidedAt
	approval.Refund = refund
	return approval, true, nil
}

// approvalAmount resolves the payout and caps it at what is left after earlier approvals.
// A request without an amount takes whatever remains.
func (s *refundService) approvalAmount(ctx context.Context, refund RefundRequest, order Order, orderFound bool) (decimal.Decimal, error) {
	amount := refundAmount(refund, order)
	if orderFound {
		if limit := refundCap(order); limit.IsPositive() {
			totals, err := s.refunds.TotalsByOrder(ctx, refund.OrderID)
			if err != nil {
				return decimal.Zero, err
			}
			remaining := limit.Sub(totals.Approved)
			if !remaining.IsPositive() {
				return decimal.Zero, fmt.Errorf("%w: order fully refunded", ErrRefundExceedsOrder)
			}
			if !refund.Amount.IsPositive() && amount.GreaterThan(remaining) {
				amount = remaining
			}
			if amount.GreaterThan(remaining) {
				return decimal.Zero, fmt.Errorf("%w: %s remaining", ErrRefundExceedsOrder, money.Format(remaining))
			}
		}
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrRefundInvalidAmount
	}
	return amount, nil
}

// Reject closes a pending request without side effects.
func (s *refundService) Reject(ctx context.Context, cmd DecideRefundCommand) (RefundRequest, error) {
	refund, err := s.load(ctx, cmd.RefundID)
	if err != nil {
		return RefundRequest{}, err
	}
	switch refund.Status {
	case domain.RefundStatusRejected:
		return refund, nil
	case domain.RefundStatusApproved:
		return RefundRequest{}, ErrRefundAlreadyApproved
	}
	decidedAt := s.now()
	updated, err := s.refunds.UpdateStatus(ctx, refund.ID, domain.RefundStatusPending, domain.RefundStatusRejected, refund.Amount, decidedAt)
	if err != nil {
		return RefundRequest{}, err
	}
	if !updated {
		current, err := s.load(ctx, refund.ID)
		if err != nil {
			return RefundRequest{}, err
		}
		if current.Status == domain.RefundStatusApproved {
			return RefundRequest{}, ErrRefundAlreadyApproved
		}
		return current, nil
	}
	refund.Status = domain.RefundStatusRejected
	refund.DecidedAt = &decidedAt
	s.recordOutcome(ctx, refund.Method, "rejected")
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           "refund.rejected",
		AggregateID:    refund.ID,
		UserID:         refund.UserID,
		IdempotencyKey: "refund:" + refund.ID + ":rejected",
		OccurredAt:     decidedAt,
		Payload:        map[string]any{"orderId": refund.OrderID, "actorId": cmd.ActorID},
	})
	return refund, nil
}

func (s *refundService) refundOriginal(ctx context.Context, refund RefundRequest, order Order, amount decimal.Decimal) (payments.RefundResult, error) {
	req := payments.RefundRequest{
		Amount:         amount,
		Currency:       s.currency,
		Reason:         refund.Reason,
		IdempotencyKey: "refund:" + refund.ID,
	}
	switch {
	case strings.TrimSpace(order.PayPalCaptureID) != "":
		req.Method = domain.PaymentMethodPayPal
		req.Reference = order.PayPalCaptureID
	case strings.TrimSpace(order.StripePaymentIntent) != "":
		req.Method = domain.PaymentMethodStripe
		req.Reference = order.StripePaymentIntent
	default:
		return payments.RefundResult{}, ErrRefundNoPaymentReference
	}
	if s.payments == nil {
		return payments.RefundResult{}, fmt.Errorf("%w: %s", payments.ErrUnsupportedProvider, req.Method)
	}
	result, err := s.payments.Refund(ctx, req)
	if err != nil {
		return payments.RefundResult{}, err
	}
	s.logger(ctx, "refund.provider.completed", map[string]any{
		"refundId":         refund.ID,
		"method":           string(req.Method),
		"providerRefundId": result.RefundID,
		"amount":           money.Format(amount),
	})
	return result, nil
}

func (s *refundService) load(ctx context.Context, refundID string) (RefundRequest, error) {
	refundID = strings.TrimSpace(refundID)
	if refundID == "" {
		return RefundRequest{}, ErrRefundInvalidInput
	}
	refund, err := s.refunds.FindByID(ctx, refundID)
	if err != nil {
		if isRepoNotFound(err) {
			return RefundRequest{}, ErrRefundNotFound
		}
		return RefundRequest{}, err
	}
	return refund, nil
}

func (s *refundService) recordOutcome(ctx context.Context, method domain.RefundMethod, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRefund(ctx, string(method), outcome)
	}
}

// refundAmount picks the requested amount, then the order total, then subtotal plus fee.
func refundAmount(refund RefundRequest, order Order) decimal.Decimal {
	if refund.Amount.IsPositive() {
		return money.Round2(refund.Amount)
	}
	return refundCap(order)
}

// refundCap is the most that may be refunded on order across all requests.
func refundCap(order Order) decimal.Decimal {
	if order.Total.IsPositive() {
		return money.Round2(order.Total)
	}
	return money.Round2(order.Subtotal.Add(order.DeliveryFee))
}
