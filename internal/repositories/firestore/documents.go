package firestore

import (
	"strings"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
)

type cartItemDocument struct {
	Name      string `firestore:"name"`
	UnitPrice string `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

func encodeCartItems(items []domain.CartItem) []cartItemDocument {
	docs := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 || strings.TrimSpace(item.Name) == "" {
			continue
		}
		docs = append(docs, cartItemDocument{
			Name:      item.Name,
			UnitPrice: money.Format(item.UnitPrice),
			Quantity:  item.Quantity,
		})
	}
	return docs
}

func decodeCartItems(docs []cartItemDocument) []domain.CartItem {
	items := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		if doc.Quantity <= 0 {
			continue
		}
		items = append(items, domain.CartItem{
			Name:      doc.Name,
			UnitPrice: money.NormalizeOrZero(doc.UnitPrice),
			Quantity:  doc.Quantity,
		})
	}
	return items
}
