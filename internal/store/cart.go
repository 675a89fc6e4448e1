package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const cartColumns = `id, user_id, product_id, quantity, created_at, updated_at`

func ListCartLines(ctx context.Context, db sqlx.QueryerContext, userID string) ([]models.CartLine, error) {
	lines := []models.CartLine{}

	query := `SELECT ` + cartColumns + ` FROM cart_lines WHERE user_id = $1 ORDER BY created_at, id`

	if err := sqlx.SelectContext(ctx, db, &lines, query, userID); err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}

	return lines, nil
}

func FindCartLine(ctx context.Context, db sqlx.QueryerContext, userID, productID string) (*models.CartLine, error) {
	line := &models.CartLine{}

	query := `SELECT ` + cartColumns + ` FROM cart_lines WHERE user_id = $1 AND product_id = $2`

	if err := sqlx.GetContext(ctx, db, line, query, userID, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, database.ErrCartLineNotFound
		}
		return nil, fmt.Errorf("find cart line: %w", err)
	}

	return line, nil
}

// UpsertCartLine sets the quantity of the (user, product) line, creating it
// if needed. inserted reports which of the two happened.
func UpsertCartLine(ctx context.Context, db sqlx.QueryerContext, userID, productID string, quantity int) (line *models.CartLine, inserted bool, err error) {
	var row struct {
		models.CartLine
		Inserted bool `db:"inserted"`
	}

	query := `
		INSERT INTO cart_lines (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
		RETURNING ` + cartColumns + `, (xmax = 0) AS inserted`

	if err := sqlx.GetContext(ctx, db, &row, query, userID, productID, quantity); err != nil {
		return nil, false, fmt.Errorf("upsert cart line: %w", err)
	}

	return &row.CartLine, row.Inserted, nil
}

func UpdateCartLine(ctx context.Context, db sqlx.QueryerContext, userID, lineID string, quantity int) (*models.CartLine, error) {
	line := &models.CartLine{}

	query := `
		UPDATE cart_lines
		SET quantity = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
		RETURNING ` + cartColumns

	if err := sqlx.GetContext(ctx, db, line, query, quantity, lineID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, database.ErrCartLineNotFound
		}
		return nil, fmt.Errorf("update cart line: %w", err)
	}

	return line, nil
}

func DeleteCartLine(ctx context.Context, db sqlx.QueryerContext, userID, lineID string) (*models.CartLine, error) {
	line := &models.CartLine{}

	query := `DELETE FROM cart_lines WHERE id = $1 AND user_id = $2 RETURNING ` + cartColumns

	if err := sqlx.GetContext(ctx, db, line, query, lineID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, database.ErrCartLineNotFound
		}
		return nil, fmt.Errorf("delete cart line: %w", err)
	}

	return line, nil
}

// ClearCart deletes every line of the user and returns what was removed.
func ClearCart(ctx context.Context, db sqlx.QueryerContext, userID string) ([]models.CartLine, error) {
	lines := []models.CartLine{}

	query := `DELETE FROM cart_lines WHERE user_id = $1 RETURNING ` + cartColumns

	if err := sqlx.SelectContext(ctx, db, &lines, query, userID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	return lines, nil
}
