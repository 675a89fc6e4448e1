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

const sellerColumns = `id, user_id, business_name, business_address, is_approved, created_at, updated_at`

// CreateSellerProfile registers a seller awaiting approval.
func CreateSellerProfile(ctx context.Context, db sqlx.QueryerContext, userID, businessName, businessAddress string) (*models.SellerProfile, error) {
	profile := &models.SellerProfile{}

	query := `
		INSERT INTO seller_profiles (user_id, business_name, business_address, is_approved, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, NOW(), NOW())
		RETURNING ` + sellerColumns

	if err := sqlx.GetContext(ctx, db, profile, query, userID, businessName, businessAddress); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrSellerExists
		}
		return nil, fmt.Errorf("create seller profile: %w", err)
	}

	return profile, nil
}

func GetSellerProfile(ctx context.Context, db sqlx.QueryerContext, userID string) (*models.SellerProfile, error) {
	profile := &models.SellerProfile{}

	query := `SELECT ` + sellerColumns + ` FROM seller_profiles WHERE user_id = $1`

	if err := sqlx.GetContext(ctx, db, profile, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrSellerNotFound
		}
		return nil, fmt.Errorf("get seller profile: %w", err)
	}

	return profile, nil
}

func ApproveSeller(ctx context.Context, db sqlx.QueryerContext, userID string) (*models.SellerProfile, error) {
	profile := &models.SellerProfile{}

	query := `
		UPDATE seller_profiles
		SET is_approved = TRUE, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + sellerColumns

	if err := sqlx.GetContext(ctx, db, profile, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrSellerNotFound
		}
		return nil, fmt.Errorf("approve seller: %w", err)
	}

	return profile, nil
}

func ListSellerProfiles(ctx context.Context, db sqlx.QueryerContext, page, pageSize int) (*OffsetPage[models.SellerProfile], error) {
	if page < 1 {
		page = 1
	}
	pageSize = ClampPageSize(pageSize)

	var total int64
	if err := sqlx.GetContext(ctx, db, &total, `SELECT COUNT(*) FROM seller_profiles`); err != nil {
		return nil, fmt.Errorf("count sellers: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + sellerColumns + `
		FROM seller_profiles
		ORDER BY is_approved, created_at DESC
		LIMIT $1 OFFSET $2`

	profiles := []models.SellerProfile{}
	if err := sqlx.SelectContext(ctx, db, &profiles, query, pageSize, offset); err != nil {
		return nil, fmt.Errorf("list sellers: %w", err)
	}

	return &OffsetPage[models.SellerProfile]{
		Items:      profiles,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}
