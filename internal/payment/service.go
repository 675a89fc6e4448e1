// Package payment records UPI payment screenshots for manual review.
package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const MaxProofSize = 5 << 20

var (
	ErrUnsupportedFile = errors.New("payment proof must be an image")
	ErrFileTooLarge    = errors.New("payment proof exceeds 5 MiB")
)

type Repository interface {
	GetOrder(ctx context.Context, userID, id string) (*models.Order, error)
	CreatePaymentProof(ctx context.Context, orderID, userID string, amount decimal.Decimal, fileURL string) (*models.PaymentProof, error)
	ListPaymentProofs(ctx context.Context, orderID string) ([]models.PaymentProof, error)
	ListPendingPaymentProofs(ctx context.Context) ([]models.PaymentProof, error)
	ReviewPaymentProof(ctx context.Context, id, status string) (*models.PaymentProof, error)
	AppendTracking(ctx context.Context, orderID, status string, location, description *string) (*models.TrackingEntry, error)
}

type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// File is an uploaded screenshot as received from the client.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Service struct {
	repo     Repository
	uploader Uploader
	log      logrus.FieldLogger
}

func NewService(repo Repository, uploader Uploader, log logrus.FieldLogger) *Service {
	return &Service{repo: repo, uploader: uploader, log: log}
}

// Submit uploads the screenshot and files a pending proof for the order total.
func (s *Service) Submit(ctx context.Context, userID, orderID string, f File) (*models.PaymentProof, error) {
	if !strings.HasPrefix(f.ContentType, "image/") {
		return nil, fmt.Errorf("%s: %w", f.ContentType, ErrUnsupportedFile)
	}
	if f.Size > MaxProofSize {
		return nil, ErrFileTooLarge
	}

	order, err := s.repo.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/%s%s", userID, order.ID, uuid.NewString(), strings.ToLower(path.Ext(f.Name)))
	url, err := s.uploader.Upload(ctx, key, f.ContentType, io.LimitReader(f.Body, MaxProofSize+1))
	if err != nil {
		return nil, fmt.Errorf("upload payment proof: %w", err)
	}

	proof, err := s.repo.CreatePaymentProof(ctx, order.ID, userID, order.Total, url)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  userID,
		"order_id": order.ID,
		"proof_id": proof.ID,
	}).Info("Payment proof submitted for review")
	return proof, nil
}

func (s *Service) List(ctx context.Context, userID, orderID string) ([]models.PaymentProof, error) {
	if _, err := s.repo.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListPaymentProofs(ctx, orderID)
}

func (s *Service) Pending(ctx context.Context) ([]models.PaymentProof, error) {
	return s.repo.ListPendingPaymentProofs(ctx)
}

// Review settles a pending proof. An approved proof moves a pending order to
// processing.
func (s *Service) Review(ctx context.Context, proofID string, approve bool) (*models.PaymentProof, error) {
	status := models.PaymentStatusRejected
	if approve {
		status = models.PaymentStatusApproved
	}

	proof, err := s.repo.ReviewPaymentProof(ctx, proofID, status)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"proof_id": proof.ID, "order_id": proof.OrderID, "status": status})
	log.Info("Payment proof reviewed")

	if approve {
		note := "Payment verified"
		_, err := s.repo.AppendTracking(ctx, proof.OrderID, models.OrderStatusProcessing, nil, &note)
		if err != nil && !errors.Is(err, database.ErrInvalidTransition) {
			log.WithError(err).Warn("Order not advanced after payment approval")
		}
	}

	return proof, nil
}
