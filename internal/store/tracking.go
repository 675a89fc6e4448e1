package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const trackingColumns = `id, order_id, status, location, description, timestamp`

// ListTracking returns the timeline oldest first; the last entry is the
// current status.
func ListTracking(ctx context.Context, db sqlx.QueryerContext, orderID string) ([]models.TrackingEntry, error) {
	entries := []models.TrackingEntry{}

	query := `SELECT ` + trackingColumns + ` FROM order_tracking WHERE order_id = $1 ORDER BY timestamp, id`

	if err := sqlx.SelectContext(ctx, db, &entries, query, orderID); err != nil {
		if isInvalidUUID(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("list tracking: %w", err)
	}

	return entries, nil
}

// AppendTracking moves the order to status and records the step. The order
// row is locked so concurrent appends cannot skip a status.
func AppendTracking(ctx context.Context, db *sqlx.DB, orderID, status string, location, description *string) (*models.TrackingEntry, error) {
	var entry *models.TrackingEntry

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if !models.CanTransitionOrder(order.Status, status) {
			return fmt.Errorf("order %s %s -> %s: %w", orderID, order.Status, status, database.ErrInvalidTransition)
		}

		if err := updateOrderStatus(ctx, tx, orderID, status); err != nil {
			return err
		}

		entry, err = insertTracking(ctx, tx, orderID, status, location, description)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func insertTracking(ctx context.Context, db sqlx.QueryerContext, orderID, status string, location, description *string) (*models.TrackingEntry, error) {
	entry := &models.TrackingEntry{}

	query := `
		INSERT INTO order_tracking (order_id, status, location, description)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + trackingColumns

	if err := sqlx.GetContext(ctx, db, entry, query, orderID, status, location, description); err != nil {
		return nil, fmt.Errorf("insert tracking: %w", err)
	}

	return entry, nil
}
