package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/repositories"
)

const (
	defaultReminderWindow = 72 * time.Hour
	defaultReminderLimit  = 200
	paylaterWalletMethod  = "paylater"
)

var (
	// ErrPaylaterInvalidInput indicates a missing user or non-positive amount.
	ErrPaylaterInvalidInput = errors.New("paylater: invalid input")
	// ErrPaylaterNothingOutstanding indicates the customer has no open installment plan.
	ErrPaylaterNothingOutstanding = errors.New("paylater: nothing outstanding")
)

// PaylaterServiceDeps wires installment payments.
type PaylaterServiceDeps struct {
	Orders      repositories.OrderRepository
	Wallet      WalletService
	UnitOfWork  repositories.UnitOfWork
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paylaterService struct {
	orders     repositories.OrderRepository
	wallet     WalletService
	unitOfWork repositories.UnitOfWork
	events     EventPublisher
	now        func() time.Time
	newID      func() string
	logger     eventLogger
}

// NewPaylaterService constructs the PayLater service.
func NewPaylaterService(deps PaylaterServiceDeps) (PaylaterService, error) {
	if deps.Orders == nil {
		return nil, errors.New("paylater service: order repository is required")
	}
	if deps.Wallet == nil {
		return nil, errors.New("paylater service: wallet service is required")
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paylaterService{
		orders:     deps.Orders,
		wallet:     deps.Wallet,
		unitOfWork: uow,
		events:     deps.Events,
		now:        utcClock(deps.Clock),
		newID:      idGen,
		logger:     logger,
	}, nil
}

// Pay funds installments from the wallet. The payment is spread over open plans oldest
// first and the wallet is debited by exactly the amount applied.
func (s *paylaterService) Pay(ctx context.Context, cmd PaylaterPaymentCommand) (PaylaterPaymentResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	amount := money.Round2(cmd.Amount)
	if userID == "" || !amount.IsPositive() {
		return PaylaterPaymentResult{}, ErrPaylaterInvalidInput
	}
	balance, err := s.wallet.Balance(ctx, userID)
	if err != nil {
		return PaylaterPaymentResult{}, err
	}
	if amount.GreaterThan(balance) {
		return PaylaterPaymentResult{}, ErrWalletInsufficientFunds
	}

	reference := "paylater:" + s.newID()
	var applied, after decimal.Decimal
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		applied, err = s.orders.ApplyPaylaterPayment(txCtx, userID, amount)
		if err != nil {
			return err
		}
		if !applied.IsPositive() {
			return ErrPaylaterNothingOutstanding
		}
		after, _, err = s.wallet.Debit(txCtx, userID, applied, paylaterWalletMethod, reference)
		return err
	})
	if err != nil {
		return PaylaterPaymentResult{}, err
	}

	plans, err := s.Plans(ctx, userID)
	if err != nil {
		s.logger(ctx, "paylater.plans.reload_failed", map[string]any{"userId": userID, "error": err.Error()})
	}
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           "paylater.payment_applied",
		AggregateID:    reference,
		UserID:         userID,
		IdempotencyKey: reference,
		OccurredAt:     s.now(),
		Payload:        map[string]any{"requested": money.Format(amount), "applied": money.Format(applied)},
	})
	s.logger(ctx, "paylater.payment.applied", map[string]any{
		"userId":    userID,
		"requested": money.Format(amount),
		"applied":   money.Format(applied),
		"balance":   money.Format(after),
	})
	return PaylaterPaymentResult{Applied: applied, WalletBalance: after, Plans: plans}, nil
}

// Plans lists every installment order of the customer with its display-only schedule.
func (s *paylaterService) Plans(ctx context.Context, userID string) ([]PaylaterPlanView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrPaylaterInvalidInput
	}
	orders, err := s.orders.ListPaylater(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]PaylaterPlanView, 0, len(orders))
	for _, order := range orders {
		views = append(views, PaylaterPlanView{
			Order:    order,
			Schedule: domain.PaylaterSchedule(order),
			NextDue:  nextInstallment(order),
		})
	}
	return views, nil
}

// SendReminders publishes an event for each open plan whose next unpaid installment
// falls due within the window. Overdue installments are included.
func (s *paylaterService) SendReminders(ctx context.Context, cmd PaylaterReminderCommand) (PaylaterReminderResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = s.now()
	}
	within := cmd.Within
	if within <= 0 {
		within = defaultReminderWindow
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultReminderLimit
	}
	orders, err := s.orders.ListOutstandingPaylater(ctx, limit)
	if err != nil {
		return PaylaterReminderResult{}, err
	}

	horizon := now.Add(within)
	result := PaylaterReminderResult{Scanned: len(orders)}
	for _, order := range orders {
		next := nextInstallment(order)
		if next == nil || next.DueAt.After(horizon) || order.UserID == "" {
			continue
		}
		event := DomainEvent{
			Type:           "paylater.installment.due",
			AggregateID:    order.ID,
			UserID:         order.UserID,
			IdempotencyKey: fmt.Sprintf("paylater:%s:%d", order.ID, next.Number),
			OccurredAt:     now,
			Payload: map[string]any{
				"installment": next.Number,
				"dueAt":       next.DueAt.Format(time.RFC3339),
				"amount":      money.Format(next.Amount),
				"remaining":   money.Format(order.Paylater.Remaining),
				"overdue":     next.DueAt.Before(now),
			},
		}
		if s.events == nil {
			continue
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger(ctx, "paylater.reminder.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			continue
		}
		result.Published++
	}
	s.logger(ctx, "paylater.reminders.sent", map[string]any{
		"scanned":   result.Scanned,
		"published": result.Published,
		"window":    strconv.FormatFloat(within.Hours(), 'f', -1, 64) + "h",
	})
	return result, nil
}

// nextInstallment returns the first installment not yet covered by the amount paid.
func nextInstallment(order Order) *PaylaterInstallment {
	if order.Paylater == nil || order.Status != domain.OrderStatusPaylater || !order.Paylater.Remaining.IsPositive() {
		return nil
	}
	covered := decimal.Zero
	for _, installment := range domain.PaylaterSchedule(order) {
		covered = covered.Add(installment.Amount)
		if covered.GreaterThan(order.Paylater.Paid) {
			next := installment
			return &next
		}
	}
	return nil
}
