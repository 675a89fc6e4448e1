package httpx

import (
	"net/http"

	"github.com/safar/go-storefront/internal/seller"
)

func (s *Server) registerSeller(w http.ResponseWriter, r *http.Request) {
	if s.sellers == nil {
		respondErr(w, errNotConfigured)
		return
	}

	var req struct {
		BusinessName    string `json:"business_name"`
		BusinessAddress string `json:"business_address"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}

	profile, err := s.sellers.Register(r.Context(), UserID(r.Context()), req.BusinessName, req.BusinessAddress)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, profile)
}

func (s *Server) getSellerProfile(w http.ResponseWriter, r *http.Request) {
	if s.sellers == nil {
		respondErr(w, errNotConfigured)
		return
	}

	profile, err := s.sellers.Profile(r.Context(), UserID(r.Context()))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// addSellerProduct lists a product for an approved seller. The shared
// catalog picks it up from the change stream.
func (s *Server) addSellerProduct(w http.ResponseWriter, r *http.Request) {
	if s.sellers == nil {
		respondErr(w, errNotConfigured)
		return
	}

	var in seller.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		respondErr(w, err)
		return
	}

	product, err := s.sellers.AddProduct(r.Context(), UserID(r.Context()), in)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}
