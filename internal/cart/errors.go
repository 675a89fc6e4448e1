package cart

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfStock             = errors.New("out of stock")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrOrderCreationFailed    = errors.New("order creation failed")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrLineNotFound           = errors.New("cart line not found")
)

// InsufficientStockError reports the true available count for a product.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type OrderCreationError struct {
	Err error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("order creation failed: %v", e.Err)
}

func (e *OrderCreationError) Unwrap() error { return e.Err }

func (e *OrderCreationError) Is(target error) bool {
	return target == ErrOrderCreationFailed
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceUnavailable, err)
}
