package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
	pfirestore "github.com/homebitez/api/internal/platform/firestore"
	"github.com/homebitez/api/internal/repositories"
)

// SessionCollection holds checkout sessions keyed by session key.
const SessionCollection = "checkout_sessions"

type preferencesDocument struct {
	Mode       string `firestore:"mode,omitempty"`
	Urgency    string `firestore:"urgency,omitempty"`
	Name       string `firestore:"name,omitempty"`
	Address    string `firestore:"address,omitempty"`
	Contact    string `firestore:"contact,omitempty"`
	Notes      string `firestore:"notes,omitempty"`
	Cutlery    bool   `firestore:"cutlery"`
	PickupDate string `firestore:"pickupDate,omitempty"`
	PickupTime string `firestore:"pickupTime,omitempty"`
}

type redemptionDocument struct {
	Points int    `firestore:"points"`
	Amount string `firestore:"amount"`
}

type sessionDocument struct {
	UserID           string              `firestore:"userId,omitempty"`
	Items            []cartItemDocument  `firestore:"items"`
	Selection        []string            `firestore:"selection,omitempty"`
	Preferences      preferencesDocument `firestore:"preferences"`
	Redemption       redemptionDocument  `firestore:"redemption"`
	PendingOrderID   string              `firestore:"pendingOrderId,omitempty"`
	PendingMethod    string              `firestore:"pendingMethod,omitempty"`
	PendingReference string              `firestore:"pendingReference,omitempty"`
	ConfirmedOrderID string              `firestore:"confirmedOrderId,omitempty"`
	LastReceiptID    string              `firestore:"lastReceiptId,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

// SessionRepository stores checkout sessions in Firestore.
type SessionRepository struct {
	docs  *pfirestore.Collection[sessionDocument]
	clock func() time.Time
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(provider *pfirestore.Provider, clock func() time.Time) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionRepository{
		docs:  pfirestore.NewCollection[sessionDocument](provider, SessionCollection),
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Get loads a session. Missing sessions surface as not-found repository errors.
func (r *SessionRepository) Get(ctx context.Context, key string) (domain.CheckoutSession, error) {
	key = strings.TrimSpace(key)
	doc, err := r.docs.Get(ctx, key)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeSession(key, doc), nil
}

// Save overwrites the session document and returns the stored copy.
func (r *SessionRepository) Save(ctx context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error) {
	key := strings.TrimSpace(session.Key)
	if key == "" {
		return domain.CheckoutSession{}, errors.New("session repository: session key is required")
	}
	now := r.clock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	doc := encodeSession(session)
	if err := r.docs.Set(ctx, key, doc); err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeSession(key, doc), nil
}

// Delete removes the session.
func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	return r.docs.Delete(ctx, strings.TrimSpace(key))
}

func encodeSession(session domain.CheckoutSession) sessionDocument {
	prefs := session.Preferences
	return sessionDocument{
		UserID:    session.UserID,
		Items:     encodeCartItems(session.Items),
		Selection: append([]string(nil), session.Selection...),
		Preferences: preferencesDocument{
			Mode:       string(prefs.Mode),
			Urgency:    string(prefs.Urgency),
			Name:       prefs.Name,
			Address:    prefs.Address,
			Contact:    prefs.Contact,
			Notes:      prefs.Notes,
			Cutlery:    prefs.Cutlery,
			PickupDate: prefs.PickupDate,
			PickupTime: prefs.PickupTime,
		},
		Redemption: redemptionDocument{
			Points: session.Redemption.Points,
			Amount: money.Format(session.Redemption.Amount),
		},
		PendingOrderID:   session.PendingOrderID,
		PendingMethod:    string(session.PendingMethod),
		PendingReference: session.PendingReference,
		ConfirmedOrderID: session.ConfirmedOrderID,
		LastReceiptID:    session.LastReceiptID,
		CreatedAt:        session.CreatedAt.UTC(),
		UpdatedAt:        session.UpdatedAt.UTC(),
	}
}

func decodeSession(key string, doc sessionDocument) domain.CheckoutSession {
	prefs := doc.Preferences
	return domain.CheckoutSession{
		Key:       key,
		UserID:    doc.UserID,
		Items:     decodeCartItems(doc.Items),
		Selection: append([]string(nil), doc.Selection...),
		Preferences: domain.FulfillmentPreferences{
			Mode:       domain.FulfillmentMode(prefs.Mode),
			Urgency:    domain.DeliveryUrgency(prefs.Urgency),
			Name:       prefs.Name,
			Address:    prefs.Address,
			Contact:    prefs.Contact,
			Notes:      prefs.Notes,
			Cutlery:    prefs.Cutlery,
			PickupDate: prefs.PickupDate,
			PickupTime: prefs.PickupTime,
		},
		Redemption: domain.RedemptionState{
			Points: doc.Redemption.Points,
			Amount: money.NormalizeOrZero(doc.Redemption.Amount),
		},
		PendingOrderID:   doc.PendingOrderID,
		PendingMethod:    domain.PaymentMethod(doc.PendingMethod),
		PendingReference: doc.PendingReference,
		ConfirmedOrderID: doc.ConfirmedOrderID,
		LastReceiptID:    doc.LastReceiptID,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}
}
