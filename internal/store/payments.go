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

const proofColumns = `id, order_id, user_id, amount, file_url, status, created_at, updated_at`

func CreatePaymentProof(ctx context.Context, db sqlx.QueryerContext, orderID, userID string, amount decimal.Decimal, fileURL string) (*models.PaymentProof, error) {
	proof := &models.PaymentProof{}

	query := `
		INSERT INTO payment_proofs (order_id, user_id, amount, file_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + proofColumns

	err := sqlx.GetContext(ctx, db, proof, query, orderID, userID, amount, fileURL, models.PaymentStatusPending)
	if err != nil {
		return nil, fmt.Errorf("create payment proof: %w", err)
	}

	return proof, nil
}

func ListPaymentProofs(ctx context.Context, db sqlx.QueryerContext, orderID string) ([]models.PaymentProof, error) {
	proofs := []models.PaymentProof{}

	query := `SELECT ` + proofColumns + ` FROM payment_proofs WHERE order_id = $1 ORDER BY created_at DESC`

	if err := sqlx.SelectContext(ctx, db, &proofs, query, orderID); err != nil {
		return nil, fmt.Errorf("list payment proofs: %w", err)
	}

	return proofs, nil
}

func ListPendingPaymentProofs(ctx context.Context, db sqlx.QueryerContext) ([]models.PaymentProof, error) {
	proofs := []models.PaymentProof{}

	query := `SELECT ` + proofColumns + ` FROM payment_proofs WHERE status = $1 ORDER BY created_at`

	if err := sqlx.SelectContext(ctx, db, &proofs, query, models.PaymentStatusPending); err != nil {
		return nil, fmt.Errorf("list pending payment proofs: %w", err)
	}

	return proofs, nil
}

// ReviewPaymentProof settles a pending proof. Reviewed proofs are final.
func ReviewPaymentProof(ctx context.Context, db sqlx.QueryerContext, id, status string) (*models.PaymentProof, error) {
	proof := &models.PaymentProof{}

	query := `
		UPDATE payment_proofs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + proofColumns

	err := sqlx.GetContext(ctx, db, proof, query, status, id, models.PaymentStatusPending)
	if err == nil {
		return proof, nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !isInvalidUUID(err) {
		return nil, fmt.Errorf("review payment proof: %w", err)
	}

	var exists bool
	if err := sqlx.GetContext(ctx, db, &exists,
		`SELECT EXISTS(SELECT 1 FROM payment_proofs WHERE id::text = $1)`, id); err != nil {
		return nil, fmt.Errorf("check payment proof: %w", err)
	}
	if !exists {
		return nil, database.ErrPaymentProofNotFound
	}
	return nil, database.ErrAlreadyReviewed
}
