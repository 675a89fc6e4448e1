package cart

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// errMissedEvents marks a catalog that lost change events and may be behind.
var errMissedEvents = errors.New("product change events were dropped")

const (
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
	SortName      = "name"
)

// ProductQuery narrows and orders the cached product list. Zero fields match
// everything; an empty Sort keeps catalog order.
type ProductQuery struct {
	Text     string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Sort     string
}

func ValidSort(s string) bool {
	switch s {
	case "", SortPriceLow, SortPriceHigh, SortName:
		return true
	}
	return false
}

// Catalog is the read-mostly product cache shared by all sessions. A failed
// refresh keeps the previous entries and marks the catalog stale; stock for
// a product the catalog does not know is never reported as zero.
type Catalog struct {
	repo ProductRepository
	log  logrus.FieldLogger

	mu       sync.RWMutex
	products map[string]models.Product
	order    []string
	loaded   bool
	err      error
}

func NewCatalog(repo ProductRepository, log logrus.FieldLogger) *Catalog {
	return &Catalog{
		repo:     repo,
		log:      log,
		products: make(map[string]models.Product),
	}
}

func (c *Catalog) Refresh(ctx context.Context) error {
	products, err := c.repo.ListProducts(ctx)
	if err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		c.log.WithError(err).Warn("Product refresh failed, catalog is stale")
		return unavailable("refresh catalog", err)
	}

	byID := make(map[string]models.Product, len(products))
	order := make([]string, 0, len(products))
	for _, p := range products {
		if _, dup := byID[p.ID]; !dup {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}

	c.mu.Lock()
	c.products = byID
	c.order = order
	c.loaded = true
	c.err = nil
	c.mu.Unlock()

	return nil
}

func (c *Catalog) List() []models.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

// Search matches Text against product names case-insensitively, Category
// exactly, and the price bounds inclusively.
func (c *Catalog) Search(q ProductQuery) []models.Product {
	text := strings.ToLower(strings.TrimSpace(q.Text))

	all := c.List()
	out := make([]models.Product, 0, len(all))
	for _, p := range all {
		if text != "" && !strings.Contains(strings.ToLower(p.Name), text) {
			continue
		}
		if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
			continue
		}
		if q.MinPrice != nil && p.Price.LessThan(*q.MinPrice) {
			continue
		}
		if q.MaxPrice != nil && p.Price.GreaterThan(*q.MaxPrice) {
			continue
		}
		out = append(out, p)
	}

	switch q.Sort {
	case SortPriceLow:
		slices.SortStableFunc(out, func(a, b models.Product) int { return a.Price.Cmp(b.Price) })
	case SortPriceHigh:
		slices.SortStableFunc(out, func(a, b models.Product) int { return b.Price.Cmp(a.Price) })
	case SortName:
		slices.SortStableFunc(out, func(a, b models.Product) int {
			return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		})
	}
	return out
}

func (c *Catalog) Get(id string) (models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	return p, ok
}

// Stale reports whether the cached view may be behind the backend, either
// because it was never loaded or because the last refresh failed.
func (c *Catalog) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.loaded || c.err != nil
}

// Invalidate marks the catalog stale until the next successful Refresh, so
// Stock goes to the backend instead of trusting the cache.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	if c.err == nil {
		c.err = errMissedEvents
	}
	c.mu.Unlock()
}

// KeepFresh refreshes a stale catalog every interval until ctx ends.
func (c *Catalog) KeepFresh(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !c.Stale() {
				continue
			}
			if err := c.Refresh(ctx); err == nil {
				c.log.Info("Stale catalog refreshed")
			}
		}
	}
}

func (c *Catalog) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// ApplyStock patches the cached stock of a known product. Last writer wins.
func (c *Catalog) ApplyStock(id string, stock int) bool {
	if stock < 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return false
	}
	p.Stock = stock
	c.products[id] = p
	return true
}

// Upsert replaces a cached product or puts a new one at the head of the list.
func (c *Catalog) Upsert(p models.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.products[p.ID]; !ok {
		c.order = append([]string{p.ID}, c.order...)
	}
	c.products[p.ID] = p
}

func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.products[id]; !ok {
		return
	}
	delete(c.products, id)
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Fetch reads one product from the backend and patches the cache with it.
func (c *Catalog) Fetch(ctx context.Context, id string) (models.Product, error) {
	p, err := c.repo.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			c.Remove(id)
			return models.Product{}, fmt.Errorf("fetch product %s: %w", id, err)
		}
		return models.Product{}, unavailable("fetch product "+id, err)
	}

	c.Upsert(*p)
	return *p, nil
}

// Stock answers from the cache when it is fresh and falls back to an
// authoritative read otherwise.
func (c *Catalog) Stock(ctx context.Context, id string) (int, error) {
	if !c.Stale() {
		if p, ok := c.Get(id); ok {
			return p.Stock, nil
		}
	}

	p, err := c.Fetch(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}
