package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/textutil"
	"github.com/homebitez/api/internal/repositories"
)

const defaultHistoryLimit = 20

var (
	// ErrLoyaltyInvalidInput indicates a missing user or a zero adjustment.
	ErrLoyaltyInvalidInput = errors.New("loyalty: invalid input")
	// ErrLoyaltyUnavailable indicates the ledger could not be reached.
	ErrLoyaltyUnavailable = errors.New("loyalty: unavailable")
)

// LoyaltyServiceDeps wires the loyalty ledger.
type LoyaltyServiceDeps struct {
	Loyalty repositories.LoyaltyRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type loyaltyService struct {
	loyalty repositories.LoyaltyRepository
	logger  eventLogger
}

// NewLoyaltyService constructs the points service.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Loyalty == nil {
		return nil, errors.New("loyalty service: loyalty repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &loyaltyService{loyalty: deps.Loyalty, logger: logger}, nil
}

// AddPoints appends a history entry and returns the re-read balance. A repeated
// reference is reported with Applied=false rather than as an error.
func (s *loyaltyService) AddPoints(ctx context.Context, cmd AddPointsCommand) (LoyaltyResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" || cmd.Delta == 0 {
		return LoyaltyResult{}, ErrLoyaltyInvalidInput
	}
	result, err := s.loyalty.AddPoints(ctx, domain.LoyaltyEntry{
		UserID:      userID,
		PointsDelta: cmd.Delta,
		Description: textutil.SanitizeText(cmd.Description, 200),
		Reference:   strings.TrimSpace(cmd.Reference),
	})
	if err != nil {
		if isRepoUnavailable(err) {
			return LoyaltyResult{}, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
		}
		return LoyaltyResult{}, err
	}
	s.logger(ctx, "loyalty.points.adjusted", map[string]any{
		"userId":    userID,
		"delta":     cmd.Delta,
		"balance":   result.Balance,
		"reference": cmd.Reference,
		"applied":   result.Applied,
	})
	return LoyaltyResult{Balance: result.Balance, Entry: result.Entry, Applied: result.Applied}, nil
}

func (s *loyaltyService) Summary(ctx context.Context, userID string, limit int) (LoyaltySummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return LoyaltySummary{}, ErrLoyaltyInvalidInput
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	balance, err := s.loyalty.Balance(ctx, userID)
	if err != nil {
		return LoyaltySummary{}, err
	}
	history, err := s.loyalty.History(ctx, userID, limit)
	if err != nil {
		return LoyaltySummary{}, err
	}
	return LoyaltySummary{Balance: balance, History: history}, nil
}
