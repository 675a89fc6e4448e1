package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const localIDPrefix = "local-"

// Item is a cart line joined with the product fields needed for display.
// StockKnown is false when the catalog has no entry for the product.
type Item struct {
	LineID     string          `json:"line_id"`
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	ImageURL   string          `json:"image_url"`
	Stock      int             `json:"stock"`
	StockKnown bool            `json:"stock_known"`
	Quantity   int             `json:"quantity"`
	State      string          `json:"state"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Status struct {
	Loading  bool
	InFlight int
	Err      error
}

// Cart is one user's view of their cart lines. Operations on the same
// product are serialized; operations on different products run in parallel.
// Every mutation is applied locally first and confirmed or reverted once the
// backend answers.
type Cart struct {
	userID  string
	repo    CartRepository
	catalog *Catalog
	log     logrus.FieldLogger
	locks   *keyedMutex

	mu       sync.RWMutex
	lines    map[string]*line
	order    []string
	seq      uint64
	loading  bool
	inFlight int
	lastErr  error
}

func NewCart(userID string, repo CartRepository, catalog *Catalog, log logrus.FieldLogger) *Cart {
	return &Cart{
		userID:  userID,
		repo:    repo,
		catalog: catalog,
		log:     log.WithField("user_id", userID),
		locks:   newKeyedMutex(),
		lines:   make(map[string]*line),
	}
}

func (c *Cart) UserID() string { return c.userID }

// Load replaces the local view with the backend's lines.
func (c *Cart) Load(ctx context.Context) error {
	if c.userID == "" {
		return ErrUnauthenticated
	}

	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	err := c.reload(ctx, "")

	c.mu.Lock()
	c.loading = false
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		return unavailable("load cart", err)
	}
	return nil
}

func (c *Cart) AddItem(ctx context.Context, productID string) (models.CartLine, error) {
	if c.userID == "" {
		return models.CartLine{}, ErrUnauthenticated
	}

	unlock := c.locks.Lock(productID)
	defer unlock()

	stock, err := c.catalog.Stock(ctx, productID)
	if err != nil {
		return models.CartLine{}, err
	}
	if stock <= 0 {
		return models.CartLine{}, fmt.Errorf("add product %s: %w", productID, ErrOutOfStock)
	}

	c.mu.Lock()
	l := c.lines[productID]
	current := 0
	if l != nil {
		current = l.Quantity
	}
	if current >= stock {
		c.mu.Unlock()
		return models.CartLine{}, &InsufficientStockError{ProductID: productID, Requested: current + 1, Available: stock}
	}

	created := l == nil
	var prev models.CartLine
	if created {
		l = &line{CartLine: models.CartLine{
			ID:        localIDPrefix + uuid.NewString(),
			UserID:    c.userID,
			ProductID: productID,
		}}
		if err := l.moveTo(LinePendingCreate); err != nil {
			c.mu.Unlock()
			return models.CartLine{}, err
		}
		c.lines[productID] = l
		c.order = append(c.order, productID)
	} else {
		prev = l.CartLine
		if err := l.moveTo(LinePendingUpdate); err != nil {
			c.mu.Unlock()
			return models.CartLine{}, err
		}
	}
	l.Quantity = current + 1
	want := l.Quantity
	version := c.bump(l)
	c.inFlight++
	c.mu.Unlock()

	saved, err := c.repo.UpsertCartLine(ctx, c.userID, productID, want)
	if err != nil {
		c.log.WithError(err).WithField("product_id", productID).Warn("Add to cart failed, reloading cart")
		if rerr := c.reload(ctx, productID); rerr != nil {
			c.log.WithError(rerr).Warn("Cart reload failed, reverting locally")
			c.revert(l, version, prev, created)
		}
		c.finish(err)
		return models.CartLine{}, unavailable("add item", err)
	}

	out := c.confirm(l, version, saved)
	c.finish(nil)
	return out, nil
}

// SetQuantity re-validates against an authoritative stock read; a quantity
// above stock is rejected, never clamped. Quantities below one remove the line.
func (c *Cart) SetQuantity(ctx context.Context, lineID string, quantity int, productID string) error {
	if c.userID == "" {
		return ErrUnauthenticated
	}
	if quantity < 1 {
		return c.RemoveItem(ctx, lineID)
	}

	unlock := c.locks.Lock(productID)
	defer unlock()

	c.mu.Lock()
	l := c.lines[productID]
	if l == nil || l.ID != lineID || l.state != LinePersisted {
		c.mu.Unlock()
		return fmt.Errorf("set quantity of %s: %w", lineID, ErrLineNotFound)
	}
	prev := l.CartLine
	if err := l.moveTo(LinePendingUpdate); err != nil {
		c.mu.Unlock()
		return err
	}
	l.Quantity = quantity
	version := c.bump(l)
	c.inFlight++
	c.mu.Unlock()

	product, err := c.catalog.Fetch(ctx, productID)
	if err != nil {
		c.revert(l, version, prev, false)
		c.finish(err)
		return err
	}
	if quantity > product.Stock {
		c.revert(l, version, prev, false)
		err := &InsufficientStockError{ProductID: productID, Requested: quantity, Available: product.Stock}
		c.finish(err)
		return err
	}

	saved, err := c.repo.UpdateCartLine(ctx, c.userID, lineID, quantity)
	if err != nil {
		c.revert(l, version, prev, false)
		c.finish(err)
		if errors.Is(err, database.ErrCartLineNotFound) {
			c.patch(ctx, productID)
			return fmt.Errorf("set quantity of %s: %w", lineID, ErrLineNotFound)
		}
		return unavailable("set quantity", err)
	}

	c.confirm(l, version, saved)
	c.finish(nil)
	return nil
}

func (c *Cart) RemoveItem(ctx context.Context, lineID string) error {
	if c.userID == "" {
		return ErrUnauthenticated
	}

	productID, ok := c.productOf(lineID)
	if !ok {
		return fmt.Errorf("remove %s: %w", lineID, ErrLineNotFound)
	}

	unlock := c.locks.Lock(productID)
	defer unlock()

	c.mu.Lock()
	l := c.lines[productID]
	if l == nil || l.ID != lineID || l.state != LinePersisted {
		c.mu.Unlock()
		return fmt.Errorf("remove %s: %w", lineID, ErrLineNotFound)
	}
	prev := l.CartLine
	if err := l.moveTo(LinePendingDelete); err != nil {
		c.mu.Unlock()
		return err
	}
	version := c.bump(l)
	c.inFlight++
	c.mu.Unlock()

	err := c.repo.DeleteCartLine(ctx, c.userID, lineID)
	if err != nil && !errors.Is(err, database.ErrCartLineNotFound) {
		c.revert(l, version, prev, false)
		c.finish(err)
		return unavailable("remove item", err)
	}

	c.mu.Lock()
	if c.lines[productID] == l && l.version == version {
		if err := l.moveTo(LineAbsent); err != nil {
			c.log.WithError(err).Error("Cart line state")
		}
		c.drop(productID)
	}
	c.mu.Unlock()

	c.finish(nil)
	return nil
}

// Snapshot is a read-only projection of the visible lines in insertion order.
// Lines being deleted are already hidden.
func (c *Cart) Snapshot() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]Item, 0, len(c.order))
	for _, pid := range c.order {
		l := c.lines[pid]
		if l.state == LinePendingDelete {
			continue
		}
		item := Item{
			LineID:    l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			State:     l.state.String(),
		}
		if p, ok := c.catalog.Get(l.ProductID); ok {
			item.Name = p.Name
			item.Price = p.Price
			item.ImageURL = p.ImageURL
			item.Stock = p.Stock
			item.StockKnown = true
		}
		items = append(items, item)
	}
	return items
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.Snapshot() {
		n += item.Quantity
	}
	return n
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Snapshot() {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Blockers lists lines whose quantity exceeds the known stock.
func (c *Cart) Blockers() []*InsufficientStockError {
	var out []*InsufficientStockError
	for _, item := range c.Snapshot() {
		if item.StockKnown && item.Quantity > item.Stock {
			out = append(out, &InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: item.Stock,
			})
		}
	}
	return out
}

func (c *Cart) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{Loading: c.loading, InFlight: c.inFlight, Err: c.lastErr}
}

// Reconcile re-reads the line for one product and patches the local view.
// It waits behind any user operation on the same product.
func (c *Cart) Reconcile(ctx context.Context, productID string) error {
	unlock := c.locks.Lock(productID)
	defer unlock()

	return c.patch(ctx, productID)
}

// patch must be called with the product lock held.
func (c *Cart) patch(ctx context.Context, productID string) error {
	remote, err := c.repo.FindCartLine(ctx, c.userID, productID)
	if err != nil && !errors.Is(err, database.ErrCartLineNotFound) {
		return unavailable("reconcile cart line", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.lines[productID]
	if l != nil && l.state.Pending() {
		return nil
	}

	switch {
	case remote == nil && l != nil:
		if err := l.moveTo(LineAbsent); err != nil {
			return err
		}
		c.drop(productID)
	case remote != nil && l == nil:
		c.hydrate(*remote)
	case remote != nil:
		if err := l.moveTo(LinePersisted); err != nil {
			return err
		}
		l.CartLine = *remote
		c.bump(l)
	}
	return nil
}

// clear empties the cart remotely and then locally. Callers hold the locks
// of every product in the cart.
func (c *Cart) clear(ctx context.Context) error {
	if err := c.repo.ClearCart(ctx, c.userID); err != nil {
		if rerr := c.reload(ctx, ""); rerr != nil {
			c.log.WithError(rerr).Warn("Cart reload after failed clear")
		}
		return unavailable("clear cart", err)
	}

	c.mu.Lock()
	for _, pid := range c.order {
		if c.lines[pid].state.Pending() {
			continue
		}
		delete(c.lines, pid)
	}
	kept := c.order[:0]
	for _, pid := range c.order {
		if _, ok := c.lines[pid]; ok {
			kept = append(kept, pid)
		}
	}
	c.order = kept
	c.mu.Unlock()

	return nil
}

func (c *Cart) productIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// reload replaces local lines with the backend's, except lines of other
// products that have an operation in flight.
func (c *Cart) reload(ctx context.Context, failedProductID string) error {
	remote, err := c.repo.ListCartLines(ctx, c.userID)
	if err != nil {
		return err
	}

	fresh := make(map[string]models.CartLine, len(remote))
	for _, rl := range remote {
		fresh[rl.ProductID] = rl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	oldLines, oldOrder := c.lines, c.order
	c.lines = make(map[string]*line, len(remote))
	c.order = make([]string, 0, len(remote))

	for _, pid := range oldOrder {
		l := oldLines[pid]
		if pid != failedProductID && l.state.Pending() {
			c.lines[pid] = l
			c.order = append(c.order, pid)
			continue
		}
		if rl, ok := fresh[pid]; ok {
			c.hydrate(rl)
		}
	}
	for _, rl := range remote {
		if _, ok := c.lines[rl.ProductID]; !ok {
			c.hydrate(rl)
		}
	}
	return nil
}

// hydrate records a line read from the backend. It is not a user transition,
// so it bypasses the pending-create step.
func (c *Cart) hydrate(cl models.CartLine) {
	l := &line{CartLine: cl, state: LinePersisted}
	c.bump(l)
	c.lines[cl.ProductID] = l
	c.order = append(c.order, cl.ProductID)
}

func (c *Cart) confirm(l *line, version uint64, saved *models.CartLine) models.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lines[l.ProductID] != l || l.version != version {
		return l.CartLine
	}
	if err := l.moveTo(LinePersisted); err != nil {
		c.log.WithError(err).Error("Cart line state")
	}
	if saved != nil {
		l.CartLine = *saved
	}
	c.bump(l)
	return l.CartLine
}

// revert restores the pre-call copy unless something newer replaced the line.
func (c *Cart) revert(l *line, version uint64, prev models.CartLine, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lines[l.ProductID] != l || l.version != version {
		return
	}
	if created {
		if err := l.moveTo(LineAbsent); err != nil {
			c.log.WithError(err).Error("Cart line state")
		}
		c.drop(l.ProductID)
		return
	}
	if err := l.moveTo(LinePersisted); err != nil {
		c.log.WithError(err).Error("Cart line state")
	}
	l.CartLine = prev
	c.bump(l)
}

func (c *Cart) begin() {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
}

func (c *Cart) finish(err error) {
	c.mu.Lock()
	c.inFlight--
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Cart) productOf(lineID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for pid, l := range c.lines {
		if l.ID == lineID {
			return pid, true
		}
	}
	return "", false
}

func (c *Cart) bump(l *line) uint64 {
	c.seq++
	l.version = c.seq
	return l.version
}

func (c *Cart) drop(productID string) {
	delete(c.lines, productID)
	for i, pid := range c.order {
		if pid == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
