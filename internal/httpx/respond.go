package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/seller"
)

var errNotConfigured = errors.New("not configured")

type errorBody struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondErr maps domain errors onto status codes. Backend failures (500 and
// 503) answer with a fixed text; driver errors stay in the logs.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)

	body := errorBody{Error: err.Error()}
	switch {
	case status == http.StatusInternalServerError:
		body.Error = http.StatusText(status)
	case errors.Is(err, cart.ErrOrderCreationFailed):
		body.Error = cart.ErrOrderCreationFailed.Error()
	case errors.Is(err, cart.ErrPersistenceUnavailable):
		body.Error = cart.ErrPersistenceUnavailable.Error()
	}

	var stockErr *cart.InsufficientStockError
	if errors.As(err, &stockErr) {
		body.ProductID = stockErr.ProductID
		body.Available = &stockErr.Available
	}

	respondJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cart.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, seller.ErrNotApproved):
		return http.StatusForbidden
	case errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrCartLineNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrPaymentProofNotFound),
		errors.Is(err, database.ErrSellerNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrAlreadyReviewed),
		errors.Is(err, database.ErrSellerExists):
		return http.StatusConflict
	case errors.Is(err, payment.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, payment.ErrUnsupportedFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cart.ErrPersistenceUnavailable),
		errors.Is(err, cart.ErrOrderCreationFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, errNotConfigured):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %w", models.ErrInvalidInput, err)
	}
	return nil
}
