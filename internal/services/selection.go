package services

import "strings"

// SelectItems returns the cart lines chosen for checkout, preserving cart order.
// An empty selection means the whole cart.
func SelectItems(cart []CartItem, selection []string) []CartItem {
	if len(selection) == 0 {
		out := make([]CartItem, len(cart))
		copy(out, cart)
		return out
	}
	chosen := make(map[string]struct{}, len(selection))
	for _, name := range selection {
		chosen[strings.TrimSpace(name)] = struct{}{}
	}
	out := make([]CartItem, 0, len(selection))
	for _, item := range cart {
		if _, ok := chosen[strings.TrimSpace(item.Name)]; ok {
			out = append(out, item)
		}
	}
	return out
}
