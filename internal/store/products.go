package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, description, category, price, image_url, stock, seller_id, version, created_at, updated_at`

type NewProduct struct {
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	ImageURL    string
	Stock       int
	SellerID    *string
}

func CreateProduct(ctx context.Context, db sqlx.QueryerContext, p NewProduct) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (name, description, category, price, image_url, stock, seller_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, NOW(), NOW())
		RETURNING ` + productColumns

	err := sqlx.GetContext(ctx, db, product, query,
		p.Name, p.Description, p.Category, p.Price, p.ImageURL, p.Stock, p.SellerID)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db sqlx.QueryerContext, id string) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := sqlx.GetContext(ctx, db, product, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ListProducts returns the whole catalog, newest first.
func ListProducts(ctx context.Context, db sqlx.QueryerContext) ([]models.Product, error) {
	var products []models.Product

	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC, id DESC`

	if err := sqlx.SelectContext(ctx, db, &products, query); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	return products, nil
}

func ListProductsPage(ctx context.Context, db sqlx.QueryerContext, page, pageSize int) (*OffsetPage[models.Product], error) {
	if page < 1 {
		page = 1
	}
	pageSize = ClampPageSize(pageSize)

	var total int64
	if err := sqlx.GetContext(ctx, db, &total, `SELECT COUNT(*) FROM products`); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	products := []models.Product{}
	if err := sqlx.SelectContext(ctx, db, &products, query, pageSize, offset); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	return &OffsetPage[models.Product]{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

// UpdateStockOptimistic writes stock only if the row still carries version.
func UpdateStockOptimistic(ctx context.Context, db sqlx.QueryerContext, productID string, newStock, version int) (*models.Product, error) {
	product := &models.Product{}

	query := `
		UPDATE products
		SET stock = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING ` + productColumns

	err := sqlx.GetContext(ctx, db, product, query, newStock, productID, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update stock: %w", err)
	}

	return product, nil
}
