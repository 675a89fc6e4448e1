package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, items, total, status, created_at, updated_at`

type orderRow struct {
	models.Order
	ItemsJSON []byte `db:"items"`
}

func (r orderRow) decode() (models.Order, error) {
	o := r.Order
	if err := json.Unmarshal(r.ItemsJSON, &o.Items); err != nil {
		return models.Order{}, fmt.Errorf("decode order %s items: %w", o.ID, err)
	}
	return o, nil
}

// CreateOrder stores the frozen item snapshot as a pending order together
// with its first tracking entry.
func CreateOrder(ctx context.Context, db *sqlx.DB, userID string, items []models.OrderItem, total decimal.Decimal) (*models.Order, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode order items: %w", err)
	}

	var order models.Order

	err = database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		var row orderRow
		err := sqlx.GetContext(ctx, tx, &row,
			`INSERT INTO orders (user_id, items, total, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())
			 RETURNING `+orderColumns,
			userID, payload, total, models.OrderStatusPending)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		description := "Order placed successfully"
		_, err = insertTracking(ctx, tx, row.ID, models.TrackingStatusOrdered, nil, &description)
		if err != nil {
			return err
		}

		order, err = row.decode()
		return err
	})
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrder only returns orders owned by userID.
func GetOrder(ctx context.Context, db sqlx.QueryerContext, userID, id string) (*models.Order, error) {
	var row orderRow

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	if err := sqlx.GetContext(ctx, db, &row, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func ListOrdersCursor(ctx context.Context, db sqlx.QueryerContext, userID, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = ClampPageSize(limit)

	var rows []orderRow
	if cursorData.ID == "" {
		err = sqlx.SelectContext(ctx, db, &rows, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`,
			userID, limit+1)
	} else {
		err = sqlx.SelectContext(ctx, db, &rows, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE user_id = $1
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`,
			userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	orders := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.decode()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// lockOrder reads an order FOR UPDATE inside tx regardless of owner.
func lockOrder(ctx context.Context, tx *sqlx.Tx, id string) (*models.Order, error) {
	var row orderRow

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	if err := sqlx.GetContext(ctx, tx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	order, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func updateOrderStatus(ctx context.Context, tx *sqlx.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}
