package cart

import (
	"context"
	"errors"
	"slices"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/safar/go-storefront/internal/cart")

const defaultStockRetries = 3

// Checkout turns the cart into an order.
//
// The steps are: create the order, decrement stock per line, clear the cart.
// They are not one transaction. A failure part way leaves either an order
// with stale stock or an order plus a non-empty cart, never a cleared cart
// without an order. Stock decrements are best effort: a line whose product
// cannot be read or written is logged and skipped, so concurrent buyers can
// oversell.
//
// Only products already in the cart are locked. A line for a new product
// added while an order is being placed is not in the order and is still
// removed by the final clear, which empties the user's whole cart.
type Checkout struct {
	cart     *Cart
	catalog  *Catalog
	products ProductRepository
	orders   OrderRepository
	log      logrus.FieldLogger

	stockRetries int
}

func NewCheckout(cart *Cart, catalog *Catalog, products ProductRepository, orders OrderRepository, log logrus.FieldLogger) *Checkout {
	return &Checkout{
		cart:         cart,
		catalog:      catalog,
		products:     products,
		orders:       orders,
		log:          log.WithField("user_id", cart.UserID()),
		stockRetries: defaultStockRetries,
	}
}

// PlaceOrder counts as an in-flight cart operation, so Status reports it and
// its outcome.
func (o *Checkout) PlaceOrder(ctx context.Context) (order *models.Order, err error) {
	if o.cart.UserID() == "" {
		return nil, ErrUnauthenticated
	}

	ctx, span := tracer.Start(ctx, "cart.PlaceOrder")
	defer span.End()

	o.cart.begin()
	defer func() {
		o.cart.finish(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	items, unlock := o.lockCart()
	defer unlock()

	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	for _, item := range items {
		stock, err := o.catalog.Stock(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if item.Quantity > stock {
			return nil, &InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: stock}
		}
	}

	// The stock checks may have filled catalog gaps; freeze from a fresh view.
	lines, total := freeze(o.cart.Snapshot())

	order, err = o.orders.CreateOrder(ctx, o.cart.UserID(), lines, total)
	if err != nil {
		o.log.WithError(err).Error("Order creation failed, cart left untouched")
		return nil, &OrderCreationError{Err: err}
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("order.lines", len(lines)))
	log := o.log.WithField("order_id", order.ID)
	log.WithField("total", total.StringFixed(2)).Info("Order created")

	for _, item := range lines {
		o.decrementStock(ctx, log, item)
	}

	if err := o.cart.clear(ctx); err != nil {
		log.WithError(err).Warn("Cart not cleared after order")
	}

	return order, nil
}

// lockCart takes the lock of every product in the cart and returns the
// snapshot taken under those locks. It retries if lines for other products
// appeared while locking.
func (o *Checkout) lockCart() ([]Item, func()) {
	for {
		ids := o.cart.productIDs()
		unlock := o.cart.locks.LockAll(ids)

		items := o.cart.Snapshot()
		if sameProducts(ids, items) {
			return items, unlock
		}
		unlock()
	}
}

func (o *Checkout) decrementStock(ctx context.Context, log logrus.FieldLogger, item models.OrderItem) {
	log = log.WithFields(logrus.Fields{"product_id": item.ProductID, "quantity": item.Quantity})

	for attempt := 0; attempt <= o.stockRetries; attempt++ {
		p, err := o.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			log.WithError(err).Warn("Stock read failed, skipping decrement")
			return
		}

		next := p.Stock - item.Quantity
		if next < 0 {
			next = 0
		}

		updated, err := o.products.UpdateStock(ctx, p.ID, next, p.Version)
		if errors.Is(err, database.ErrOptimisticLockFailed) {
			log.WithField("attempt", attempt+1).Debug("Stock changed underneath, re-reading")
			continue
		}
		if err != nil {
			log.WithError(err).Warn("Stock write failed, skipping decrement")
			return
		}

		o.catalog.ApplyStock(updated.ID, updated.Stock)
		log.WithFields(logrus.Fields{"from": p.Stock, "to": updated.Stock}).Debug("Stock decremented")
		return
	}

	log.WithField("attempts", o.stockRetries+1).Warn("Stock decrement gave up after version conflicts")
}

func freeze(items []Item) ([]models.OrderItem, decimal.Decimal) {
	lines := make([]models.OrderItem, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		oi := models.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			ImageURL:  item.ImageURL,
		}
		lines = append(lines, oi)
		total = total.Add(oi.Subtotal())
	}
	return lines, total
}

func sameProducts(ids []string, items []Item) bool {
	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.ProductID)
	}
	want := slices.Clone(ids)

	slices.Sort(got)
	slices.Sort(want)
	return slices.Equal(got, want)
}
