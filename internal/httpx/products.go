package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type productList struct {
	Items []models.Product `json:"items"`
	Stale bool             `json:"stale"`
}

// listProducts answers from the shared catalog, narrowed by q, category,
// min_price and max_price and ordered by sort. With a page parameter it reads
// the backend directly and ignores the filters.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("page") && s.products != nil {
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}
		pageSize, _ := strconv.Atoi(q.Get("page_size"))

		result, err := s.products.ListProductsPage(r.Context(), page, pageSize)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	query, err := productQuery(q)
	if err != nil {
		respondErr(w, err)
		return
	}

	if s.catalog.Stale() {
		// stale entries are still served; the flag tells the client
		_ = s.catalog.Refresh(r.Context())
	}

	respondJSON(w, http.StatusOK, productList{Items: s.catalog.Search(query), Stale: s.catalog.Stale()})
}

func productQuery(v url.Values) (cart.ProductQuery, error) {
	q := cart.ProductQuery{
		Text:     v.Get("q"),
		Category: v.Get("category"),
		Sort:     v.Get("sort"),
	}
	if !cart.ValidSort(q.Sort) {
		return q, fmt.Errorf("sort %q: %w", q.Sort, models.ErrInvalidInput)
	}

	var err error
	if q.MinPrice, err = priceParam(v, "min_price"); err != nil {
		return q, err
	}
	if q.MaxPrice, err = priceParam(v, "max_price"); err != nil {
		return q, err
	}
	if q.MinPrice != nil && q.MaxPrice != nil && q.MinPrice.GreaterThan(*q.MaxPrice) {
		return q, fmt.Errorf("min_price above max_price: %w", models.ErrInvalidInput)
	}
	return q, nil
}

func priceParam(v url.Values, name string) (*decimal.Decimal, error) {
	raw := v.Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return nil, fmt.Errorf("%s %q: %w", name, raw, models.ErrInvalidInput)
	}
	return &d, nil
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.catalog.Fetch(r.Context(), id)
	if err != nil {
		if cached, ok := s.catalog.Get(id); ok && errors.Is(err, cart.ErrPersistenceUnavailable) {
			respondJSON(w, http.StatusOK, cached)
			return
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
