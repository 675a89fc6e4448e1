package httpx

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type blocker struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type cartView struct {
	Items     []cart.Item     `json:"items"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
	Blockers  []blocker       `json:"blockers,omitempty"`
	Loading   bool            `json:"loading"`
	InFlight  int             `json:"in_flight"`
	LastError string          `json:"last_error,omitempty"`
}

func viewOf(c *cart.Cart) cartView {
	status := c.Status()
	v := cartView{
		Items:     c.Snapshot(),
		ItemCount: c.ItemCount(),
		Total:     c.Total(),
		Loading:   status.Loading,
		InFlight:  status.InFlight,
	}
	if status.Err != nil {
		v.LastError = status.Err.Error()
	}
	for _, b := range c.Blockers() {
		v.Blockers = append(v.Blockers, blocker{ProductID: b.ProductID, Requested: b.Requested, Available: b.Available})
	}
	return v
}

func (s *Server) session(r *http.Request) (*cart.Session, error) {
	return s.sessions.Get(r.Context(), UserID(r.Context()))
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(sess.Cart))
}

func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	if req.ProductID == "" {
		respondErr(w, fmt.Errorf("product_id is required: %w", models.ErrInvalidInput))
		return
	}

	sess, err := s.session(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	line, err := sess.Cart.AddItem(r.Context(), req.ProductID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, line)
}

func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  *int   `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	// a quantity below one removes the line, so it must be explicit
	if req.Quantity == nil {
		respondErr(w, fmt.Errorf("quantity is required: %w", models.ErrInvalidInput))
		return
	}

	sess, err := s.session(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	if err := sess.Cart.SetQuantity(r.Context(), chi.URLParam(r, "id"), *req.Quantity, req.ProductID); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(sess.Cart))
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	if err := sess.Cart.RemoveItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	order, err := sess.Checkout.PlaceOrder(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}
