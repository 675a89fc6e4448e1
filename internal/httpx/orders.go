package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/store"
)

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		respondErr(w, errNotConfigured)
		return
	}

	cursor := r.URL.Query().Get("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		respondErr(w, fmt.Errorf("%w: %w", models.ErrInvalidInput, err))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := s.orders.List(r.Context(), UserID(r.Context()), cursor, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		respondErr(w, errNotConfigured)
		return
	}

	order, err := s.orders.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) getTracking(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		respondErr(w, errNotConfigured)
		return
	}

	timeline, err := s.orders.Tracking(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, timeline)
}

// submitPaymentProof takes a multipart form with the screenshot in "file".
func (s *Server) submitPaymentProof(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		respondErr(w, errNotConfigured)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, payment.MaxProofSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondErr(w, payment.ErrFileTooLarge)
			return
		}
		respondErr(w, fmt.Errorf("parse form: %w: %w", models.ErrInvalidInput, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondErr(w, fmt.Errorf("file is required: %w", models.ErrInvalidInput))
		return
	}
	defer file.Close()

	proof, err := s.payments.Submit(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), payment.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, proof)
}

func (s *Server) listPaymentProofs(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		respondErr(w, errNotConfigured)
		return
	}

	proofs, err := s.payments.List(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proofs)
}
