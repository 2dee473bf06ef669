package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/homebitez/api/internal/domain"
	pfirestore "github.com/homebitez/api/internal/platform/firestore"
	"github.com/homebitez/api/internal/platform/textutil"
	"github.com/homebitez/api/internal/repositories"
)

// CartCollection holds the persistent per-user carts.
const CartCollection = "carts"

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

// CartRepository persists the cart a signed-in customer keeps across sessions.
type CartRepository struct {
	docs  *pfirestore.Collection[cartDocument]
	clock func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider, clock func() time.Time) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{
		docs:  pfirestore.NewCollection[cartDocument](provider, CartCollection),
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Get returns the stored items; a user without a cart document has an empty cart.
func (r *CartRepository) Get(ctx context.Context, userID string) ([]domain.CartItem, error) {
	doc, err := r.docs.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return []domain.CartItem{}, nil
		}
		return nil, err
	}
	return decodeCartItems(doc.Items), nil
}

// Replace overwrites the user's cart.
func (r *CartRepository) Replace(ctx context.Context, userID string, items []domain.CartItem) error {
	return r.docs.Set(ctx, strings.TrimSpace(userID), cartDocument{
		Items:     encodeCartItems(items),
		UpdatedAt: r.clock(),
	})
}

// RemoveItems drops lines matching any of names, compared by normalized name.
func (r *CartRepository) RemoveItems(ctx context.Context, userID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[textutil.NormalizeName(name)] = struct{}{}
	}
	return r.docs.Mutate(ctx, strings.TrimSpace(userID), func(current cartDocument, found bool) (cartDocument, error) {
		kept := make([]cartItemDocument, 0, len(current.Items))
		for _, item := range current.Items {
			if _, ok := drop[textutil.NormalizeName(item.Name)]; ok {
				continue
			}
			kept = append(kept, item)
		}
		current.Items = kept
		current.UpdatedAt = r.clock()
		return current, nil
	})
}
