package cart

import (
	"context"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

// ProductRepository returns database.ErrProductNotFound for unknown ids and
// database.ErrOptimisticLockFailed when UpdateStock loses a version race.
type ProductRepository interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	UpdateStock(ctx context.Context, id string, stock, version int) (*models.Product, error)
}

// CartRepository writes are keyed on (userID, productID); lookups that miss
// return database.ErrCartLineNotFound.
type CartRepository interface {
	ListCartLines(ctx context.Context, userID string) ([]models.CartLine, error)
	FindCartLine(ctx context.Context, userID, productID string) (*models.CartLine, error)
	UpsertCartLine(ctx context.Context, userID, productID string, quantity int) (*models.CartLine, error)
	UpdateCartLine(ctx context.Context, userID, lineID string, quantity int) (*models.CartLine, error)
	DeleteCartLine(ctx context.Context, userID, lineID string) error
	ClearCart(ctx context.Context, userID string) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, userID string, items []models.OrderItem, total decimal.Decimal) (*models.Order, error)
}

type Backend interface {
	ProductRepository
	CartRepository
	OrderRepository
}
