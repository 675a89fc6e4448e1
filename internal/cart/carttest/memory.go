// Package carttest provides an in-memory cart backend with failure injection.
package carttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

// ErrBackendDown is the error injected by FailOn and FailNext when none is given.
var ErrBackendDown = errors.New("backend unavailable")

// Operation names accepted by FailOn, FailNext, OnCall and Calls.
const (
	OpListProducts   = "ListProducts"
	OpGetProduct     = "GetProduct"
	OpUpdateStock    = "UpdateStock"
	OpListCartLines  = "ListCartLines"
	OpFindCartLine   = "FindCartLine"
	OpUpsertCartLine = "UpsertCartLine"
	OpUpdateCartLine = "UpdateCartLine"
	OpDeleteCartLine = "DeleteCartLine"
	OpClearCart      = "ClearCart"
	OpCreateOrder    = "CreateOrder"
)

// Memory implements cart.Backend. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	products map[string]*models.Product
	order    []string
	lines    map[string]*models.CartLine
	orders   []models.Order

	failing  map[string]error
	failNext map[string][]error
	calls    map[string]int
	hooks    map[string]func(arg string)

	onChange func(models.ChangeEvent)
}

func NewMemory() *Memory {
	return &Memory{
		products: make(map[string]*models.Product),
		lines:    make(map[string]*models.CartLine),
		failing:  make(map[string]error),
		failNext: make(map[string][]error),
		calls:    make(map[string]int),
		hooks:    make(map[string]func(string)),
	}
}

// AddProduct stores a product with a fresh id and returns a copy.
func (m *Memory) AddProduct(name string, price string, stock int) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	p := &models.Product{
		ID:        uuid.NewString(),
		Name:      name,
		Price:     decimal.RequireFromString(price),
		ImageURL:  "https://img.example.com/" + name + ".png",
		Stock:     stock,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.products[p.ID] = p
	m.order = append(m.order, p.ID)
	return *p
}

// SetStock changes stock behind the caches' back, as another client would.
func (m *Memory) SetStock(id string, stock int) {
	m.mu.Lock()
	p := m.products[id]
	p.Stock = stock
	p.Version++
	ev := m.productEvent(models.EventUpdate, p)
	m.mu.Unlock()

	m.emit(ev)
}

// SetPrice changes a product price without touching stock.
func (m *Memory) SetPrice(id string, price string) {
	m.mu.Lock()
	p := m.products[id]
	p.Price = decimal.RequireFromString(price)
	p.Version++
	ev := m.productEvent(models.EventUpdate, p)
	m.mu.Unlock()

	m.emit(ev)
}

func (m *Memory) Product(id string) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.products[id]
}

// Line returns the stored line for (userID, productID).
func (m *Memory) Line(userID, productID string) (models.CartLine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.findLine(userID, productID); l != nil {
		return *l, true
	}
	return models.CartLine{}, false
}

func (m *Memory) Orders(userID string) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

// FailOn makes every call to op fail until Recover is called.
func (m *Memory) FailOn(op string, err error) {
	if err == nil {
		err = ErrBackendDown
	}
	m.mu.Lock()
	m.failing[op] = err
	m.mu.Unlock()
}

// FailNext makes only the next call to op fail.
func (m *Memory) FailNext(op string, err error) {
	if err == nil {
		err = ErrBackendDown
	}
	m.mu.Lock()
	m.failNext[op] = append(m.failNext[op], err)
	m.mu.Unlock()
}

func (m *Memory) Recover(op string) {
	m.mu.Lock()
	delete(m.failing, op)
	delete(m.failNext, op)
	m.mu.Unlock()
}

// OnCall runs fn at the start of every call to op, before any state is read.
// arg is the product id for product and upsert calls, the line id for line
// calls and the user id otherwise. fn may block.
func (m *Memory) OnCall(op string, fn func(arg string)) {
	m.mu.Lock()
	m.hooks[op] = fn
	m.mu.Unlock()
}

// OnChange registers a callback for every row change. It is called without
// the backend lock held.
func (m *Memory) OnChange(fn func(models.ChangeEvent)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *Memory) ResetCalls() {
	m.mu.Lock()
	m.calls = make(map[string]int)
	m.mu.Unlock()
}

func (m *Memory) ListProducts(ctx context.Context) ([]models.Product, error) {
	if err := m.enter(ctx, OpListProducts, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Product, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, *m.products[m.order[i]])
	}
	return out, nil
}

func (m *Memory) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if err := m.enter(ctx, OpGetProduct, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpdateStock(ctx context.Context, id string, stock, version int) (*models.Product, error) {
	if err := m.enter(ctx, OpUpdateStock, id); err != nil {
		return nil, err
	}
	if stock < 0 {
		return nil, fmt.Errorf("update stock %s: negative stock %d", id, stock)
	}

	m.mu.Lock()
	p, ok := m.products[id]
	if !ok {
		m.mu.Unlock()
		return nil, database.ErrProductNotFound
	}
	if p.Version != version {
		m.mu.Unlock()
		return nil, database.ErrOptimisticLockFailed
	}
	p.Stock = stock
	p.Version++
	p.UpdatedAt = time.Now()
	cp := *p
	ev := m.productEvent(models.EventUpdate, p)
	m.mu.Unlock()

	m.emit(ev)
	return &cp, nil
}

func (m *Memory) ListCartLines(ctx context.Context, userID string) ([]models.CartLine, error) {
	if err := m.enter(ctx, OpListCartLines, userID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.CartLine
	for _, l := range m.lines {
		if l.UserID == userID {
			out = append(out, *l)
		}
	}
	sortLines(out)
	return out, nil
}

func (m *Memory) FindCartLine(ctx context.Context, userID, productID string) (*models.CartLine, error) {
	if err := m.enter(ctx, OpFindCartLine, productID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findLine(userID, productID)
	if l == nil {
		return nil, database.ErrCartLineNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) UpsertCartLine(ctx context.Context, userID, productID string, quantity int) (*models.CartLine, error) {
	if err := m.enter(ctx, OpUpsertCartLine, productID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	now := time.Now()
	typ := models.EventUpdate
	l := m.findLine(userID, productID)
	if l == nil {
		typ = models.EventInsert
		l = &models.CartLine{
			ID:        uuid.NewString(),
			UserID:    userID,
			ProductID: productID,
			CreatedAt: now,
		}
		m.lines[l.ID] = l
	}
	l.Quantity = quantity
	l.UpdatedAt = now
	cp := *l
	ev := m.lineEvent(typ, l)
	m.mu.Unlock()

	m.emit(ev)
	return &cp, nil
}

func (m *Memory) UpdateCartLine(ctx context.Context, userID, lineID string, quantity int) (*models.CartLine, error) {
	if err := m.enter(ctx, OpUpdateCartLine, lineID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	l, ok := m.lines[lineID]
	if !ok || l.UserID != userID {
		m.mu.Unlock()
		return nil, database.ErrCartLineNotFound
	}
	l.Quantity = quantity
	l.UpdatedAt = time.Now()
	cp := *l
	ev := m.lineEvent(models.EventUpdate, l)
	m.mu.Unlock()

	m.emit(ev)
	return &cp, nil
}

func (m *Memory) DeleteCartLine(ctx context.Context, userID, lineID string) error {
	if err := m.enter(ctx, OpDeleteCartLine, lineID); err != nil {
		return err
	}

	m.mu.Lock()
	l, ok := m.lines[lineID]
	if !ok || l.UserID != userID {
		m.mu.Unlock()
		return database.ErrCartLineNotFound
	}
	delete(m.lines, lineID)
	ev := m.lineEvent(models.EventDelete, l)
	m.mu.Unlock()

	m.emit(ev)
	return nil
}

func (m *Memory) ClearCart(ctx context.Context, userID string) error {
	if err := m.enter(ctx, OpClearCart, userID); err != nil {
		return err
	}

	m.mu.Lock()
	var events []models.ChangeEvent
	for id, l := range m.lines {
		if l.UserID == userID {
			delete(m.lines, id)
			events = append(events, m.lineEvent(models.EventDelete, l))
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}
	return nil
}

func (m *Memory) CreateOrder(ctx context.Context, userID string, items []models.OrderItem, total decimal.Decimal) (*models.Order, error) {
	if err := m.enter(ctx, OpCreateOrder, userID); err != nil {
		return nil, err
	}

	now := time.Now()
	o := models.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     append([]models.OrderItem(nil), items...),
		Total:     total,
		Status:    models.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.orders = append(m.orders, o)
	m.mu.Unlock()

	o.Items = append([]models.OrderItem(nil), items...)
	return &o, nil
}

func (m *Memory) enter(ctx context.Context, op, arg string) error {
	m.mu.Lock()
	m.calls[op]++
	hook := m.hooks[op]
	err := m.failing[op]
	if err == nil {
		if queued := m.failNext[op]; len(queued) > 0 {
			err = queued[0]
			m.failNext[op] = queued[1:]
		}
	}
	m.mu.Unlock()

	if hook != nil {
		hook(arg)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Memory) findLine(userID, productID string) *models.CartLine {
	for _, l := range m.lines {
		if l.UserID == userID && l.ProductID == productID {
			return l
		}
	}
	return nil
}

func (m *Memory) productEvent(typ string, p *models.Product) models.ChangeEvent {
	row, _ := json.Marshal(p)
	return models.ChangeEvent{
		ID:         uuid.NewString(),
		Table:      models.TableProducts,
		Type:       typ,
		RowID:      p.ID,
		ProductID:  p.ID,
		Row:        row,
		OccurredAt: time.Now(),
	}
}

func (m *Memory) lineEvent(typ string, l *models.CartLine) models.ChangeEvent {
	row, _ := json.Marshal(l)
	return models.ChangeEvent{
		ID:         uuid.NewString(),
		Table:      models.TableCart,
		Type:       typ,
		UserID:     l.UserID,
		RowID:      l.ID,
		ProductID:  l.ProductID,
		Row:        row,
		OccurredAt: time.Now(),
	}
}

func (m *Memory) emit(ev models.ChangeEvent) {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func sortLines(lines []models.CartLine) {
	slices.SortStableFunc(lines, func(a, b models.CartLine) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
