package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
)

// Collection gives typed access to documents of a single collection. Documents are
// encoded with Firestore struct tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection helper to provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Doc returns the reference for id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection not initialised")
	}
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.name+".doc", errors.New("firestore: document id is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get loads and decodes the document. A missing document yields a not-found error.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return out, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return out, WrapError(c.name+".get", err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, WrapError(c.name+".decode", err)
	}
	return out, nil
}

// Set overwrites the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.name+".set", err)
}

// Delete removes the document; deleting a missing document succeeds.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return WrapError(c.name+".delete", err)
}

// Mutate reads the document inside a transaction, applies fn and writes the result back.
// fn receives found=false and the zero value when the document does not exist.
func (c *Collection[T]) Mutate(ctx context.Context, id string, fn func(current T, found bool) (T, error)) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	return c.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current T
		found := true
		snap, err := tx.Get(ref)
		if err != nil {
			wrapped := WrapError(c.name+".get", err)
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) || !repoErr.IsNotFound() {
				return wrapped
			}
			found = false
		} else if err := snap.DataTo(&current); err != nil {
			return WrapError(c.name+".decode", err)
		}
		next, err := fn(current, found)
		if err != nil {
			return err
		}
		return tx.Set(ref, next)
	})
}
