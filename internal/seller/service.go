// Package seller onboards sellers and lets approved ones list products.
package seller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrNotApproved = errors.New("seller not approved")

type Repository interface {
	CreateSellerProfile(ctx context.Context, userID, businessName, businessAddress string) (*models.SellerProfile, error)
	GetSellerProfile(ctx context.Context, userID string) (*models.SellerProfile, error)
	ApproveSeller(ctx context.Context, userID string) (*models.SellerProfile, error)
	CreateProduct(ctx context.Context, p store.NewProduct) (*models.Product, error)
}

type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Stock       int             `json:"stock"`
}

func (in ProductInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("product name is required: %w", models.ErrInvalidInput)
	case in.Price.IsNegative():
		return fmt.Errorf("price must not be negative: %w", models.ErrInvalidInput)
	case in.Stock < 0:
		return fmt.Errorf("stock must not be negative: %w", models.ErrInvalidInput)
	}
	return nil
}

type Service struct {
	repo Repository
	log  logrus.FieldLogger
}

func NewService(repo Repository, log logrus.FieldLogger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) Register(ctx context.Context, userID, businessName, businessAddress string) (*models.SellerProfile, error) {
	businessName = strings.TrimSpace(businessName)
	if businessName == "" {
		return nil, fmt.Errorf("business name is required: %w", models.ErrInvalidInput)
	}

	profile, err := s.repo.CreateSellerProfile(ctx, userID, businessName, strings.TrimSpace(businessAddress))
	if err != nil {
		return nil, err
	}

	s.log.WithField("user_id", userID).Info("Seller profile created, waiting for approval")
	return profile, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (*models.SellerProfile, error) {
	return s.repo.GetSellerProfile(ctx, userID)
}

func (s *Service) Approve(ctx context.Context, userID string) (*models.SellerProfile, error) {
	profile, err := s.repo.ApproveSeller(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.log.WithField("user_id", userID).Info("Seller approved")
	return profile, nil
}

// AddProduct lists a product owned by an approved seller.
func (s *Service) AddProduct(ctx context.Context, userID string, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	profile, err := s.repo.GetSellerProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !profile.IsApproved {
		return nil, ErrNotApproved
	}

	sellerID := userID
	product, err := s.repo.CreateProduct(ctx, store.NewProduct{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		ImageURL:    in.ImageURL,
		Stock:       in.Stock,
		SellerID:    &sellerID,
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "product_id": product.ID}).Info("Product listed")
	return product, nil
}
