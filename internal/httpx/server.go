// Package httpx exposes the storefront over HTTP.
package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/seller"
	"github.com/safar/go-storefront/internal/store"
	"github.com/sirupsen/logrus"
)

type ProductPager interface {
	ListProductsPage(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.Product], error)
}

type OrderService interface {
	List(ctx context.Context, userID, cursor string, limit int) (*store.CursorPage[models.Order], error)
	Get(ctx context.Context, userID, orderID string) (*models.Order, error)
	Tracking(ctx context.Context, userID, orderID string) (*orders.Timeline, error)
}

type PaymentService interface {
	Submit(ctx context.Context, userID, orderID string, f payment.File) (*models.PaymentProof, error)
	List(ctx context.Context, userID, orderID string) ([]models.PaymentProof, error)
}

type SellerService interface {
	Register(ctx context.Context, userID, businessName, businessAddress string) (*models.SellerProfile, error)
	Profile(ctx context.Context, userID string) (*models.SellerProfile, error)
	AddProduct(ctx context.Context, userID string, in seller.ProductInput) (*models.Product, error)
}

// Deps are the collaborators behind the routes. Products, Orders, Payments
// and Sellers may be nil; their routes then answer 501.
type Deps struct {
	Catalog  *cart.Catalog
	Sessions *cart.Sessions
	Products ProductPager
	Orders   OrderService
	Payments PaymentService
	Sellers  SellerService
	Log      logrus.FieldLogger
	Timeout  time.Duration
}

type Server struct {
	catalog  *cart.Catalog
	sessions *cart.Sessions
	products ProductPager
	orders   OrderService
	payments PaymentService
	sellers  SellerService
	log      logrus.FieldLogger
	timeout  time.Duration
}

func NewServer(d Deps) *Server {
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}
	return &Server{
		catalog:  d.Catalog,
		sessions: d.Sessions,
		products: d.Products,
		orders:   d.Orders,
		payments: d.Payments,
		sellers:  d.Sellers,
		log:      d.Log,
		timeout:  d.Timeout,
	}
}

// NewRouter carries every middleware; chi rejects Use once a route exists, so
// callers only add routes and groups.
func NewRouter(log logrus.FieldLogger, timeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, traced, requestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(timeout), identify)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := NewRouter(s.log, s.timeout)

	r.Get("/products", s.listProducts)
	r.Get("/products/{id}", s.getProduct)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/cart", s.getCart)
		r.Post("/cart/items", s.addCartItem)
		r.Patch("/cart/items/{id}", s.updateCartItem)
		r.Delete("/cart/items/{id}", s.removeCartItem)

		r.Post("/orders", s.placeOrder)
		r.Get("/orders", s.listOrders)
		r.Get("/orders/{id}", s.getOrder)
		r.Get("/orders/{id}/tracking", s.getTracking)
		r.Post("/orders/{id}/payment-proof", s.submitPaymentProof)
		r.Get("/orders/{id}/payment-proofs", s.listPaymentProofs)

		r.Post("/seller/profile", s.registerSeller)
		r.Get("/seller/profile", s.getSellerProfile)
		r.Post("/seller/products", s.addSellerProduct)
	})

	return r
}
