package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/cart/carttest"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/seller"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const testUser = "0b6f7a52-4c1e-4a43-9d0e-4f1c2a7d9e01"

type fakeOrders struct {
	orders map[string]models.Order
}

func (f *fakeOrders) List(_ context.Context, userID, _ string, _ int) (*store.CursorPage[models.Order], error) {
	page := &store.CursorPage[models.Order]{}
	for _, o := range f.orders {
		if o.UserID == userID {
			page.Items = append(page.Items, o)
		}
	}
	return page, nil
}

func (f *fakeOrders) Get(_ context.Context, userID, orderID string) (*models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, database.ErrOrderNotFound
	}
	return &o, nil
}

func (f *fakeOrders) Tracking(ctx context.Context, userID, orderID string) (*orders.Timeline, error) {
	if _, err := f.Get(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return &orders.Timeline{
		OrderID: orderID,
		Current: models.TrackingStatusOrdered,
		Entries: []models.TrackingEntry{{OrderID: orderID, Status: models.TrackingStatusOrdered}},
	}, nil
}

type fakePayments struct {
	got payment.File
	err error
}

func (f *fakePayments) Submit(_ context.Context, userID, orderID string, file payment.File) (*models.PaymentProof, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = file
	return &models.PaymentProof{ID: "proof-1", OrderID: orderID, UserID: userID, Status: models.PaymentStatusPending}, nil
}

func (f *fakePayments) List(context.Context, string, string) ([]models.PaymentProof, error) {
	return nil, nil
}

type fakeSellers struct {
	approved bool
}

func (f *fakeSellers) Register(_ context.Context, userID, name, _ string) (*models.SellerProfile, error) {
	return &models.SellerProfile{UserID: userID, BusinessName: name}, nil
}

func (f *fakeSellers) Profile(context.Context, string) (*models.SellerProfile, error) {
	return nil, database.ErrSellerNotFound
}

func (f *fakeSellers) AddProduct(_ context.Context, userID string, in seller.ProductInput) (*models.Product, error) {
	if !f.approved {
		return nil, seller.ErrNotApproved
	}
	return &models.Product{ID: "p-new", Name: in.Name, Price: in.Price, Stock: in.Stock}, nil
}

type harness struct {
	backend  *carttest.Memory
	catalog  *cart.Catalog
	orders   *fakeOrders
	payments *fakePayments
	sellers  *fakeSellers
	handler  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backend := carttest.NewMemory()
	catalog := cart.NewCatalog(backend, logging.Discard())
	sessions := cart.NewSessions(backend, catalog, nil, logging.Discard())
	t.Cleanup(sessions.CloseAll)

	h := &harness{
		backend:  backend,
		catalog:  catalog,
		orders:   &fakeOrders{orders: map[string]models.Order{}},
		payments: &fakePayments{},
		sellers:  &fakeSellers{},
	}
	h.handler = NewServer(Deps{
		Catalog:  catalog,
		Sessions: sessions,
		Orders:   h.orders,
		Payments: h.payments,
		Sellers:  h.sellers,
		Log:      logging.Discard(),
	}).Routes()
	return h
}

func (h *harness) product(t *testing.T, name, price string, stock int) models.Product {
	t.Helper()
	p := h.backend.AddProduct(name, price, stock)
	require.NoError(t, h.catalog.Refresh(context.Background()))
	return p
}

func (h *harness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	assert.NotPanics(t, func() {
		NewServer(Deps{Catalog: cart.NewCatalog(carttest.NewMemory(), logging.Discard()), Log: logging.Discard()}).Routes()
	})

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestProducts(t *testing.T) {
	h := newHarness(t)
	mug := h.product(t, "mug", "12.50", 3)

	rec := h.do(t, http.MethodGet, "/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[productList](t, rec)
	assert.False(t, list.Stale)
	require.Len(t, list.Items, 1)
	assert.Equal(t, mug.ID, list.Items[0].ID)

	rec = h.do(t, http.MethodGet, "/products/"+mug.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[models.Product](t, rec).Stock)

	rec = h.do(t, http.MethodGet, "/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProducts_StaleCatalogServesCachedEntries(t *testing.T) {
	h := newHarness(t)
	mug := h.product(t, "mug", "12.50", 3)

	h.backend.FailOn(carttest.OpListProducts, nil)
	require.Error(t, h.catalog.Refresh(context.Background()))

	rec := h.do(t, http.MethodGet, "/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[productList](t, rec)
	assert.True(t, list.Stale)
	require.Len(t, list.Items, 1)
	assert.Equal(t, mug.ID, list.Items[0].ID)

	h.backend.FailOn(carttest.OpGetProduct, nil)
	rec = h.do(t, http.MethodGet, "/products/"+mug.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProducts_Query(t *testing.T) {
	h := newHarness(t)
	mug := h.product(t, "Coffee Mug", "12.50", 3)
	lamp := h.product(t, "Desk Lamp", "40.00", 1)
	tea := h.product(t, "tea mug", "9.99", 2)
	lamp.Category = "lighting"
	h.catalog.Upsert(lamp)

	ids := func(path string) []string {
		t.Helper()
		rec := h.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []string
		for _, p := range decode[productList](t, rec).Items {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []string{tea.ID, lamp.ID, mug.ID}, ids("/products"))
	assert.Equal(t, []string{tea.ID, mug.ID}, ids("/products?q=MUG"))
	assert.Equal(t, []string{lamp.ID}, ids("/products?category=lighting"))
	assert.Equal(t, []string{tea.ID, mug.ID}, ids("/products?min_price=9.99&max_price=12.50"))
	assert.Equal(t, []string{tea.ID, mug.ID, lamp.ID}, ids("/products?sort=price-low"))
	assert.Equal(t, []string{lamp.ID, mug.ID, tea.ID}, ids("/products?sort=price-high"))
	assert.Equal(t, []string{mug.ID, lamp.ID, tea.ID}, ids("/products?sort=name"))
	assert.Equal(t, []string{mug.ID}, ids("/products?q=mug&min_price=10&sort=name"))
	assert.Empty(t, ids("/products?q=chair"))

	for _, path := range []string{
		"/products?sort=cheapest",
		"/products?min_price=abc",
		"/products?max_price=-1",
		"/products?min_price=50&max_price=10",
	} {
		rec := h.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, path)
	}
}

func TestRouter_ContinuesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var got trace.SpanContext
	r := NewRouter(logging.Discard(), time.Second)
	r.Get("/traced", func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/traced", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
}

func TestCart_RequiresUser(t *testing.T) {
	h := newHarness(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/cart"},
		{http.MethodPost, "/cart/items"},
		{http.MethodPost, "/orders"},
		{http.MethodGet, "/orders"},
		{http.MethodGet, "/seller/profile"},
	} {
		rec := h.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
	assert.Zero(t, h.backend.TotalCalls())
}

func TestCart_AddUpdateRemove(t *testing.T) {
	h := newHarness(t)
	mug := h.product(t, "mug", "12.50", 3)

	rec := h.do(t, http.MethodPost, "/cart/items", testUser, map[string]string{"product_id": mug.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	line := decode[models.CartLine](t, rec)
	assert.Equal(t, 1, line.Quantity)

	rec = h.do(t, http.MethodPatch, "/cart/items/"+line.ID, testUser, map[string]any{"product_id": mug.ID, "quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[cartView](t, rec)
	assert.Equal(t, 3, view.ItemCount)
	assert.True(t, view.Total.Equal(decimal.RequireFromString("37.50")))

	rec = h.do(t, http.MethodPatch, "/cart/items/"+line.ID, testUser, map[string]any{"product_id": mug.ID, "quantity": 5})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, mug.ID, body.ProductID)
	require.NotNil(t, body.Available)
	assert.Equal(t, 3, *body.Available)

	rec = h.do(t, http.MethodDelete, "/cart/items/"+line.ID, testUser, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/cart", testUser, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cartView](t, rec).Items)
}

func TestCart_Errors(t *testing.T) {
	h := newHarness(t)
	empty := h.product(t, "empty", "1.00", 0)

	rec := h.do(t, http.MethodPost, "/cart/items", testUser, map[string]string{"product_id": empty.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/cart/items", testUser, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(t, http.MethodPost, "/cart/items", testUser, map[string]string{"product_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodDelete, "/cart/items/nope", testUser, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/orders", testUser, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCart_UpdateRequiresQuantity(t *testing.T) {
	h := newHarness(t)
	mug := h.product(t, "mug", "12.50", 3)

	rec := h.do(t, http.MethodPost, "/cart/items", testUser, map[string]string{"product_id": mug.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	line := decode[models.CartLine](t, rec)

	rec = h.do(t, http.MethodPatch, "/cart/items/"+line.ID, testUser, map[string]any{"product_id": mug.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = h.do(t, http.MethodPatch, "/cart/items/"+line.ID, testUser, map[string]any{"product_id": mug.ID, "quantity": nil})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(t, http.MethodGet, "/cart", testUser, nil)
	assert.Equal(t, 1, decode[cartView](t, rec).ItemCount)
	_, ok := h.backend.Line(testUser, mug.ID)
	assert.True(t, ok)

	rec = h.do(t, http.MethodPatch, "/cart/items/"+line.ID, testUser, map[string]any{"product_id": mug.ID, "quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[cartView](t, rec).Items)
}

func TestCart_BackendDown(t *testing.T) {
	h := newHarness(t)
	h.backend.FailOn(carttest.OpListCartLines, nil)

	rec := h.do(t, http.MethodGet, "/cart", testUser, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, cart.ErrPersistenceUnavailable.Error(), body.Error)
	assert.False(t, strings.Contains(body.Error, carttest.ErrBackendDown.Error()), body.Error)
}

func TestPlaceOrder(t *testing.T) {
	h := newHarness(t)
	mug := h.product(t, "mug", "12.50", 3)

	rec := h.do(t, http.MethodPost, "/cart/items", testUser, map[string]string{"product_id": mug.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/orders", testUser, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[models.Order](t, rec)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, 2, h.backend.Product(mug.ID).Stock)

	rec = h.do(t, http.MethodGet, "/cart", testUser, nil)
	assert.Empty(t, decode[cartView](t, rec).Items)
}

func TestPlaceOrder_CreateFailure(t *testing.T) {
	h := newHarness(t)
	mug := h.product(t, "mug", "12.50", 3)
	h.do(t, http.MethodPost, "/cart/items", testUser, map[string]string{"product_id": mug.ID})

	h.backend.FailNext(carttest.OpCreateOrder, nil)
	rec := h.do(t, http.MethodPost, "/orders", testUser, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, cart.ErrOrderCreationFailed.Error(), decode[errorBody](t, rec).Error)

	rec = h.do(t, http.MethodGet, "/cart", testUser, nil)
	assert.Equal(t, 1, decode[cartView](t, rec).ItemCount)
}

func TestOrders(t *testing.T) {
	h := newHarness(t)
	h.orders.orders["o-1"] = models.Order{ID: "o-1", UserID: testUser, Status: models.OrderStatusPending}
	h.orders.orders["o-2"] = models.Order{ID: "o-2", UserID: "someone-else"}

	rec := h.do(t, http.MethodGet, "/orders", testUser, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[store.CursorPage[models.Order]](t, rec).Items, 1)

	rec = h.do(t, http.MethodGet, "/orders/o-1", testUser, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/orders/o-2", testUser, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/orders/o-1/tracking", testUser, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TrackingStatusOrdered, decode[orders.Timeline](t, rec).Current)

	rec = h.do(t, http.MethodGet, "/orders?cursor=@@@", testUser, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func multipartBody(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="upi.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitPaymentProof(t *testing.T) {
	h := newHarness(t)

	body, ct := multipartBody(t, "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/orders/o-1/payment-proof", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(UserHeader, testUser)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "upi.png", h.payments.got.Name)
	assert.Equal(t, "image/png", h.payments.got.ContentType)
	assert.EqualValues(t, len("png-bytes"), h.payments.got.Size)

	h.payments.err = payment.ErrUnsupportedFile
	body, ct = multipartBody(t, "application/pdf", []byte("%PDF"))
	req = httptest.NewRequest(http.MethodPost, "/orders/o-1/payment-proof", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(UserHeader, testUser)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitPaymentProof_TooLarge(t *testing.T) {
	h := newHarness(t)

	body, ct := multipartBody(t, "image/png", make([]byte, payment.MaxProofSize+2<<20))
	req := httptest.NewRequest(http.MethodPost, "/orders/o-1/payment-proof", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(UserHeader, testUser)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSeller(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/seller/profile", testUser, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/seller/profile", testUser, map[string]string{"business_name": "Chai Co"})
	require.Equal(t, http.StatusCreated, rec.Code)

	product := map[string]any{"name": "Masala chai", "price": "4.50", "stock": 10}
	rec = h.do(t, http.MethodPost, "/seller/products", testUser, product)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h.sellers.approved = true
	rec = h.do(t, http.MethodPost, "/seller/products", testUser, product)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Masala chai", decode[models.Product](t, rec).Name)

	rec = h.do(t, http.MethodPost, "/seller/products", testUser, map[string]any{"nmae": "typo"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestNotConfigured(t *testing.T) {
	backend := carttest.NewMemory()
	catalog := cart.NewCatalog(backend, logging.Discard())
	handler := NewServer(Deps{
		Catalog:  catalog,
		Sessions: cart.NewSessions(backend, catalog, nil, logging.Discard()),
		Log:      logging.Discard(),
	}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(UserHeader, testUser)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		cart.ErrUnauthenticated:               http.StatusUnauthorized,
		seller.ErrNotApproved:                 http.StatusForbidden,
		database.ErrPaymentProofNotFound:      http.StatusNotFound,
		database.ErrAlreadyReviewed:           http.StatusConflict,
		database.ErrInvalidTransition:         http.StatusConflict,
		database.ErrSellerExists:              http.StatusConflict,
		&cart.OrderCreationError{Err: io.EOF}: http.StatusServiceUnavailable,
		&cart.InsufficientStockError{}:        http.StatusConflict,
		io.ErrUnexpectedEOF:                   http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
