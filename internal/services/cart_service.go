package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/textutil"
	"github.com/homebitez/api/internal/repositories"
)

const (
	userSessionPrefix  = "user:"
	guestSessionPrefix = "guest:"
	maxCartLines       = 50
	maxLineQuantity    = 99
	maxFreeTextLength  = 300
)

var (
	// ErrCartInvalidInput indicates malformed cart mutations.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the named line is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartProductNotFound indicates the item is not on the menu.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartInsufficientPoints indicates a redemption above the points balance.
	ErrCartInsufficientPoints = errors.New("cart: insufficient points")
	// ErrCartUnavailable indicates the session store could not be reached.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// UserSessionKey is the session key of a signed-in customer.
func UserSessionKey(uid string) string {
	return userSessionPrefix + strings.TrimSpace(uid)
}

// GuestSessionKey is the session key of an anonymous browser session.
func GuestSessionKey(sessionID string) string {
	return guestSessionPrefix + strings.TrimSpace(sessionID)
}

// SessionUserID extracts the user id from a signed-in session key.
func SessionUserID(key string) string {
	if uid, ok := strings.CutPrefix(strings.TrimSpace(key), userSessionPrefix); ok {
		return uid
	}
	return ""
}

// CartServiceDeps wires the session cart.
type CartServiceDeps struct {
	Sessions repositories.SessionRepository
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Loyalty  repositories.LoyaltyRepository
	Pricing  CheckoutPricingEngine
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	sessions repositories.SessionRepository
	carts    repositories.CartRepository
	products repositories.ProductRepository
	loyalty  repositories.LoyaltyRepository
	pricing  CheckoutPricingEngine
	now      func() time.Time
	logger   eventLogger
}

// NewCartService constructs the session cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("cart service: session repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &cartService{
		sessions: deps.Sessions,
		carts:    deps.Carts,
		products: deps.Products,
		loyalty:  deps.Loyalty,
		pricing:  deps.Pricing,
		now:      utcClock(deps.Clock),
		logger:   logger,
	}, nil
}

func (s *cartService) Get(ctx context.Context, sessionKey string) (CartView, error) {
	session, err := s.load(ctx, sessionKey)
	if err != nil {
		return CartView{}, err
	}
	return s.view(session)
}

// AddItem adds quantity of a menu item, priced from the catalog.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	name := strings.TrimSpace(cmd.Name)
	quantity := cmd.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if name == "" || quantity < 0 || quantity > maxLineQuantity {
		return CartView{}, ErrCartInvalidInput
	}
	product, err := s.products.FindByNameKey(ctx, textutil.NormalizeName(name))
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, name)
		}
		return CartView{}, err
	}

	return s.mutate(ctx, cmd.SessionKey, func(session *CheckoutSession) error {
		idx := findLine(session.Items, product.Name)
		if idx < 0 {
			if len(session.Items) >= maxCartLines {
				return fmt.Errorf("%w: cart is full", ErrCartInvalidInput)
			}
			session.Items = append(session.Items, CartItem{Name: product.Name, UnitPrice: product.Price, Quantity: quantity})
			return nil
		}
		line := &session.Items[idx]
		line.Quantity = min(line.Quantity+quantity, maxLineQuantity)
		line.UnitPrice = product.Price
		return nil
	})
}

// UpdateQuantity sets a line's quantity; zero removes the line.
func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" || cmd.Quantity < 0 || cmd.Quantity > maxLineQuantity {
		return CartView{}, ErrCartInvalidInput
	}
	return s.mutate(ctx, cmd.SessionKey, func(session *CheckoutSession) error {
		idx := findLine(session.Items, name)
		if idx < 0 {
			return ErrCartItemNotFound
		}
		if cmd.Quantity == 0 {
			dropLine(session, idx)
			return nil
		}
		session.Items[idx].Quantity = cmd.Quantity
		return nil
	})
}

func (s *cartService) RemoveItem(ctx context.Context, sessionKey string, name string) (CartView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CartView{}, ErrCartInvalidInput
	}
	return s.mutate(ctx, sessionKey, func(session *CheckoutSession) error {
		idx := findLine(session.Items, name)
		if idx < 0 {
			return ErrCartItemNotFound
		}
		dropLine(session, idx)
		return nil
	})
}

// SetSelection chooses which cart lines go to checkout. An empty list selects everything.
func (s *cartService) SetSelection(ctx context.Context, sessionKey string, names []string) (CartView, error) {
	return s.mutate(ctx, sessionKey, func(session *CheckoutSession) error {
		selection := make([]string, 0, len(names))
		for _, raw := range names {
			idx := findLine(session.Items, raw)
			if idx < 0 {
				return fmt.Errorf("%w: %s", ErrCartItemNotFound, strings.TrimSpace(raw))
			}
			name := session.Items[idx].Name
			if !slices.Contains(selection, name) {
				selection = append(selection, name)
			}
		}
		session.Selection = selection
		return nil
	})
}

func (s *cartService) SetPreferences(ctx context.Context, sessionKey string, prefs FulfillmentPreferences) (CartView, error) {
	cleaned, err := normalisePreferences(prefs)
	if err != nil {
		return CartView{}, err
	}
	return s.mutate(ctx, sessionKey, func(session *CheckoutSession) error {
		session.Preferences = cleaned
		return nil
	})
}

// SetRedemption records how many points to redeem. Only signed-in customers hold points.
func (s *cartService) SetRedemption(ctx context.Context, cmd SetRedemptionCommand) (CartView, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		userID = SessionUserID(cmd.SessionKey)
	}
	if userID == "" || cmd.Points < 0 || s.loyalty == nil {
		return CartView{}, ErrCartInvalidInput
	}
	if cmd.Points > 0 {
		balance, err := s.loyalty.Balance(ctx, userID)
		if err != nil {
			return CartView{}, err
		}
		if cmd.Points > balance {
			return CartView{}, fmt.Errorf("%w: requested %d, balance %d", ErrCartInsufficientPoints, cmd.Points, balance)
		}
	}
	return s.mutate(ctx, cmd.SessionKey, func(session *CheckoutSession) error {
		session.Redemption = RedemptionState{
			Points: cmd.Points,
			Amount: domain.PointValue.Mul(decimal.NewFromInt(int64(cmd.Points))),
		}
		return nil
	})
}

func (s *cartService) ClearRedemption(ctx context.Context, sessionKey string) (CartView, error) {
	return s.mutate(ctx, sessionKey, func(session *CheckoutSession) error {
		session.Redemption = RedemptionState{}
		return nil
	})
}

// Quote prices the current selection without changing the session.
func (s *cartService) Quote(ctx context.Context, sessionKey string) (CartView, error) {
	return s.Get(ctx, sessionKey)
}

func (s *cartService) mutate(ctx context.Context, sessionKey string, fn func(*CheckoutSession) error) (CartView, error) {
	session, err := s.load(ctx, sessionKey)
	if err != nil {
		return CartView{}, err
	}
	if err := fn(&session); err != nil {
		return CartView{}, err
	}
	saved, err := s.sessions.Save(ctx, session)
	if err != nil {
		if isRepoUnavailable(err) {
			return CartView{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		return CartView{}, err
	}
	if s.carts != nil && saved.UserID != "" {
		if err := s.carts.Replace(ctx, saved.UserID, saved.Items); err != nil {
			s.logger(ctx, "cart.persist.failed", map[string]any{"userId": saved.UserID, "error": err.Error()})
		}
	}
	return s.view(saved)
}

// load returns the stored session or a fresh one. A signed-in customer's fresh
// session starts from their persistent cart.
func (s *cartService) load(ctx context.Context, sessionKey string) (CheckoutSession, error) {
	return loadSession(ctx, s.sessions, s.carts, s.logger, sessionKey)
}

func (s *cartService) view(session CheckoutSession) (CartView, error) {
	selected := SelectItems(session.Items, session.Selection)
	pricing, err := s.pricing.Price(selected, session.Preferences, session.Redemption)
	if err != nil {
		return CartView{}, err
	}
	return CartView{Session: session, Selected: selected, Pricing: pricing}, nil
}

func loadSession(ctx context.Context, sessions repositories.SessionRepository, carts repositories.CartRepository, logger eventLogger, sessionKey string) (CheckoutSession, error) {
	key := strings.TrimSpace(sessionKey)
	if key == "" {
		return CheckoutSession{}, ErrCartInvalidInput
	}
	session, err := sessions.Get(ctx, key)
	if err == nil {
		return session, nil
	}
	if !isRepoNotFound(err) {
		if isRepoUnavailable(err) {
			return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		return CheckoutSession{}, err
	}
	session = CheckoutSession{Key: key, UserID: SessionUserID(key)}
	if carts != nil && session.UserID != "" {
		items, err := carts.Get(ctx, session.UserID)
		switch {
		case err == nil:
			session.Items = items
		case !isRepoNotFound(err):
			logger(ctx, "cart.persist.load_failed", map[string]any{"userId": session.UserID, "error": err.Error()})
		}
	}
	return session, nil
}

func findLine(items []CartItem, name string) int {
	return slices.IndexFunc(items, func(item CartItem) bool {
		return textutil.SameName(item.Name, name)
	})
}

func dropLine(session *CheckoutSession, idx int) {
	name := session.Items[idx].Name
	session.Items = slices.Delete(session.Items, idx, idx+1)
	session.Selection = slices.DeleteFunc(session.Selection, func(selected string) bool {
		return textutil.SameName(selected, name)
	})
}

func normalisePreferences(prefs FulfillmentPreferences) (FulfillmentPreferences, error) {
	out := FulfillmentPreferences{
		Mode:       domain.FulfillmentMode(strings.ToLower(strings.TrimSpace(string(prefs.Mode)))),
		Urgency:    domain.DeliveryUrgency(strings.ToLower(strings.TrimSpace(string(prefs.Urgency)))),
		Name:       textutil.SanitizeText(prefs.Name, 120),
		Address:    textutil.SanitizeText(prefs.Address, maxFreeTextLength),
		Contact:    textutil.SanitizeText(prefs.Contact, 60),
		Notes:      textutil.SanitizeText(prefs.Notes, maxFreeTextLength),
		Cutlery:    prefs.Cutlery,
		PickupDate: strings.TrimSpace(prefs.PickupDate),
		PickupTime: strings.TrimSpace(prefs.PickupTime),
	}
	switch out.Mode {
	case "":
		out.Mode = domain.FulfillmentPickup
	case domain.FulfillmentPickup, domain.FulfillmentDelivery:
	default:
		return FulfillmentPreferences{}, fmt.Errorf("%w: unknown fulfillment mode %q", ErrCartInvalidInput, prefs.Mode)
	}
	switch out.Urgency {
	case "":
		out.Urgency = domain.DeliveryNormal
	case domain.DeliveryNormal, domain.DeliveryUrgent:
	default:
		return FulfillmentPreferences{}, fmt.Errorf("%w: unknown delivery urgency %q", ErrCartInvalidInput, prefs.Urgency)
	}
	if out.Mode == domain.FulfillmentDelivery && out.Address == "" {
		return FulfillmentPreferences{}, fmt.Errorf("%w: delivery address is required", ErrCartInvalidInput)
	}
	if out.Mode == domain.FulfillmentPickup {
		out.Urgency = domain.DeliveryNormal
	}
	return out, nil
}
