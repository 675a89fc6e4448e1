// Package orders serves order history and the tracking timeline.
package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/sirupsen/logrus"
)

type Repository interface {
	ListOrders(ctx context.Context, userID, cursor string, limit int) (*store.CursorPage[models.Order], error)
	GetOrder(ctx context.Context, userID, id string) (*models.Order, error)
	ListTracking(ctx context.Context, orderID string) ([]models.TrackingEntry, error)
	AppendTracking(ctx context.Context, orderID, status string, location, description *string) (*models.TrackingEntry, error)
}

// Timeline is the tracking history oldest first. Current is the status of
// the last entry.
type Timeline struct {
	OrderID string                 `json:"order_id"`
	Current string                 `json:"current"`
	Entries []models.TrackingEntry `json:"entries"`
}

type Service struct {
	repo Repository
	log  logrus.FieldLogger
}

func NewService(repo Repository, log logrus.FieldLogger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) List(ctx context.Context, userID, cursor string, limit int) (*store.CursorPage[models.Order], error) {
	return s.repo.ListOrders(ctx, userID, cursor, limit)
}

func (s *Service) Get(ctx context.Context, userID, orderID string) (*models.Order, error) {
	return s.repo.GetOrder(ctx, userID, orderID)
}

func (s *Service) Tracking(ctx context.Context, userID, orderID string) (*Timeline, error) {
	if _, err := s.repo.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	entries, err := s.repo.ListTracking(ctx, orderID)
	if err != nil {
		return nil, err
	}

	t := &Timeline{OrderID: orderID, Entries: entries}
	if len(entries) > 0 {
		t.Current = entries[len(entries)-1].Status
	}
	return t, nil
}

// Advance moves an order one step along pending, processing, shipped,
// delivered and records the step on its timeline.
func (s *Service) Advance(ctx context.Context, orderID, status, location, description string) (*models.TrackingEntry, error) {
	if !models.IsOrderStatus(status) {
		return nil, fmt.Errorf("status %q: %w", status, models.ErrInvalidInput)
	}

	entry, err := s.repo.AppendTracking(ctx, orderID, status, optional(location), optional(description))
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"status":   status,
	}).Info("Order advanced")
	return entry, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
