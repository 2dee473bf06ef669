package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/services"
)

// CartHandlers exposes the session cart to guests and signed-in customers.
type CartHandlers struct {
	authn   *auth.Authenticator
	carts   services.CartService
	session func(http.Handler) http.Handler
}

// NewCartHandlers constructs cart handlers. Identity is optional; the session middleware
// resolves which cart the request addresses.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn:   authn,
		carts:   carts,
		session: SessionMiddleware(nil),
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Use(h.session)

	r.Get("/", h.getCart)
	r.Post("/", h.addItem)
	r.Patch("/", h.updateItem)
	r.Delete("/", h.removeItem)
	r.Post("/items", h.addItem)
	r.Patch("/items/{name}", h.updateItem)
	r.Delete("/items/{name}", h.removeItem)
	r.Put("/selection", h.setSelection)
	r.Put("/preferences", h.setPreferences)
	r.Put("/redemption", h.setRedemption)
	r.Delete("/redemption", h.clearRedemption)
	r.Get("/quote", h.quote)
}

type addCartItemRequest struct {
	Name     string `json:"name"`
	Quantity any    `json:"quantity"`
}

type updateCartItemRequest struct {
	Name     string `json:"name"`
	Quantity any    `json:"quantity"`
}

type removeCartItemRequest struct {
	Name string `json:"name"`
}

type selectionRequest struct {
	Items []string `json:"items"`
}

type preferencesRequest struct {
	Mode       string `json:"mode"`
	Urgency    string `json:"urgency"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Contact    string `json:"contact"`
	Notes      string `json:"notes"`
	Cutlery    bool   `json:"cutlery"`
	PickupDate string `json:"pickup_date"`
	PickupTime string `json:"pickup_time"`
}

type redemptionRequest struct {
	Points int `json:"points"`
}

func (h *CartHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, _, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.Get(ctx, key)
	h.respond(w, r, view, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	var req addCartItemRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		parsed, err := money.ParseQuantity(req.Quantity)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		quantity = parsed
	}
	view, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		SessionKey: key,
		UserID:     identityUID(identity),
		Name:       req.Name,
		Quantity:   quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartHeaders(w)
	writeJSONResponse(w, http.StatusCreated, cartResponse{Cart: buildCartPayload(view)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		name = strings.TrimSpace(req.Name)
	}
	if name == "" || req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "name and quantity are required", http.StatusBadRequest))
		return
	}
	quantity, err := money.ParseQuantity(req.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	view, err := h.carts.UpdateQuantity(ctx, services.UpdateCartItemCommand{
		SessionKey: key,
		UserID:     identityUID(identity),
		Name:       name,
		Quantity:   quantity,
	})
	h.respond(w, r, view, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, _, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		name = strings.TrimSpace(r.URL.Query().Get("name"))
	}
	if name == "" {
		var req removeCartItemRequest
		if !decodeRequest(w, r, &req, true) {
			return
		}
		name = strings.TrimSpace(req.Name)
	}
	if name == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "name is required", http.StatusBadRequest))
		return
	}
	view, err := h.carts.RemoveItem(ctx, key, name)
	h.respond(w, r, view, err)
}

func (h *CartHandlers) setSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, _, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	var req selectionRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	view, err := h.carts.SetSelection(ctx, key, req.Items)
	h.respond(w, r, view, err)
}

func (h *CartHandlers) setPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, _, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	var req preferencesRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	view, err := h.carts.SetPreferences(ctx, key, domain.FulfillmentPreferences{
		Mode:       domain.FulfillmentMode(req.Mode),
		Urgency:    domain.DeliveryUrgency(req.Urgency),
		Name:       req.Name,
		Address:    req.Address,
		Contact:    req.Contact,
		Notes:      req.Notes,
		Cutlery:    req.Cutlery,
		PickupDate: req.PickupDate,
		PickupTime: req.PickupTime,
	})
	h.respond(w, r, view, err)
}

func (h *CartHandlers) setRedemption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	if identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign in to redeem points", http.StatusUnauthorized))
		return
	}
	var req redemptionRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	view, err := h.carts.SetRedemption(ctx, services.SetRedemptionCommand{
		SessionKey: key,
		UserID:     identity.UID,
		Points:     req.Points,
	})
	h.respond(w, r, view, err)
}

func (h *CartHandlers) clearRedemption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, _, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.ClearRedemption(ctx, key)
	h.respond(w, r, view, err)
}

func (h *CartHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, _, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.Quote(ctx, key)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartHeaders(w)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"selected": buildCartItems(view.Selected),
		"pricing":  buildPricingPayload(view.Pricing),
	})
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, view services.CartView, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setCartHeaders(w)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(view)})
}

func setCartHeaders(w http.ResponseWriter) {
	w.Header().Set("Pragma", "no-cache")
	w.Header().Add("Vary", SessionHeader)
}
