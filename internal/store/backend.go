package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Publisher receives a change event after every committed row write.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// Backend is the Postgres persistence collaborator of the storefront. Row
// writes are followed by a change event; a failed publish is logged and never
// fails the write, since readers re-read rows authoritatively.
type Backend struct {
	db  *sqlx.DB
	pub Publisher
	log logrus.FieldLogger
}

func NewBackend(db *sqlx.DB, pub Publisher, log logrus.FieldLogger) *Backend {
	return &Backend{db: db, pub: pub, log: log}
}

func (b *Backend) DB() *sqlx.DB { return b.db }

func (b *Backend) ListProducts(ctx context.Context) ([]models.Product, error) {
	return ListProducts(ctx, b.db)
}

func (b *Backend) ListProductsPage(ctx context.Context, page, pageSize int) (*OffsetPage[models.Product], error) {
	return ListProductsPage(ctx, b.db, page, pageSize)
}

func (b *Backend) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return GetProduct(ctx, b.db, id)
}

func (b *Backend) CreateProduct(ctx context.Context, p NewProduct) (*models.Product, error) {
	product, err := CreateProduct(ctx, b.db, p)
	if err != nil {
		return nil, err
	}
	b.publish(ctx, models.TableProducts, models.EventInsert, "", product.ID, product.ID, product)
	return product, nil
}

func (b *Backend) UpdateStock(ctx context.Context, id string, stock, version int) (*models.Product, error) {
	product, err := UpdateStockOptimistic(ctx, b.db, id, stock, version)
	if err != nil {
		return nil, err
	}
	b.publish(ctx, models.TableProducts, models.EventUpdate, "", product.ID, product.ID, product)
	return product, nil
}

func (b *Backend) ListCartLines(ctx context.Context, userID string) ([]models.CartLine, error) {
	return ListCartLines(ctx, b.db, userID)
}

func (b *Backend) FindCartLine(ctx context.Context, userID, productID string) (*models.CartLine, error) {
	return FindCartLine(ctx, b.db, userID, productID)
}

func (b *Backend) UpsertCartLine(ctx context.Context, userID, productID string, quantity int) (*models.CartLine, error) {
	line, inserted, err := UpsertCartLine(ctx, b.db, userID, productID, quantity)
	if err != nil {
		return nil, err
	}
	typ := models.EventUpdate
	if inserted {
		typ = models.EventInsert
	}
	b.publish(ctx, models.TableCart, typ, userID, line.ID, line.ProductID, line)
	return line, nil
}

func (b *Backend) UpdateCartLine(ctx context.Context, userID, lineID string, quantity int) (*models.CartLine, error) {
	line, err := UpdateCartLine(ctx, b.db, userID, lineID, quantity)
	if err != nil {
		return nil, err
	}
	b.publish(ctx, models.TableCart, models.EventUpdate, userID, line.ID, line.ProductID, line)
	return line, nil
}

func (b *Backend) DeleteCartLine(ctx context.Context, userID, lineID string) error {
	line, err := DeleteCartLine(ctx, b.db, userID, lineID)
	if err != nil {
		return err
	}
	b.publish(ctx, models.TableCart, models.EventDelete, userID, line.ID, line.ProductID, line)
	return nil
}

func (b *Backend) ClearCart(ctx context.Context, userID string) error {
	lines, err := ClearCart(ctx, b.db, userID)
	if err != nil {
		return err
	}
	for i := range lines {
		b.publish(ctx, models.TableCart, models.EventDelete, userID, lines[i].ID, lines[i].ProductID, &lines[i])
	}
	return nil
}

func (b *Backend) CreateOrder(ctx context.Context, userID string, items []models.OrderItem, total decimal.Decimal) (*models.Order, error) {
	order, err := CreateOrder(ctx, b.db, userID, items, total)
	if err != nil {
		return nil, err
	}
	b.publish(ctx, models.TableOrders, models.EventInsert, userID, order.ID, "", order)
	return order, nil
}

func (b *Backend) GetOrder(ctx context.Context, userID, id string) (*models.Order, error) {
	return GetOrder(ctx, b.db, userID, id)
}

func (b *Backend) ListOrders(ctx context.Context, userID, cursor string, limit int) (*CursorPage[models.Order], error) {
	return ListOrdersCursor(ctx, b.db, userID, cursor, limit)
}

func (b *Backend) ListTracking(ctx context.Context, orderID string) ([]models.TrackingEntry, error) {
	return ListTracking(ctx, b.db, orderID)
}

func (b *Backend) AppendTracking(ctx context.Context, orderID, status string, location, description *string) (*models.TrackingEntry, error) {
	return AppendTracking(ctx, b.db, orderID, status, location, description)
}

func (b *Backend) CreatePaymentProof(ctx context.Context, orderID, userID string, amount decimal.Decimal, fileURL string) (*models.PaymentProof, error) {
	return CreatePaymentProof(ctx, b.db, orderID, userID, amount, fileURL)
}

func (b *Backend) ListPaymentProofs(ctx context.Context, orderID string) ([]models.PaymentProof, error) {
	return ListPaymentProofs(ctx, b.db, orderID)
}

func (b *Backend) ListPendingPaymentProofs(ctx context.Context) ([]models.PaymentProof, error) {
	return ListPendingPaymentProofs(ctx, b.db)
}

func (b *Backend) ReviewPaymentProof(ctx context.Context, id, status string) (*models.PaymentProof, error) {
	return ReviewPaymentProof(ctx, b.db, id, status)
}

func (b *Backend) CreateSellerProfile(ctx context.Context, userID, businessName, businessAddress string) (*models.SellerProfile, error) {
	return CreateSellerProfile(ctx, b.db, userID, businessName, businessAddress)
}

func (b *Backend) GetSellerProfile(ctx context.Context, userID string) (*models.SellerProfile, error) {
	return GetSellerProfile(ctx, b.db, userID)
}

func (b *Backend) ApproveSeller(ctx context.Context, userID string) (*models.SellerProfile, error) {
	return ApproveSeller(ctx, b.db, userID)
}

func (b *Backend) ListSellerProfiles(ctx context.Context, page, pageSize int) (*OffsetPage[models.SellerProfile], error) {
	return ListSellerProfiles(ctx, b.db, page, pageSize)
}

func (b *Backend) publish(ctx context.Context, table, typ, userID, rowID, productID string, row any) {
	if b.pub == nil {
		return
	}

	payload, err := json.Marshal(row)
	if err != nil {
		b.log.WithError(err).WithField("table", table).Warn("Change event encoding failed")
		return
	}

	ev := models.ChangeEvent{
		ID:         uuid.NewString(),
		Table:      table,
		Type:       typ,
		UserID:     userID,
		RowID:      rowID,
		ProductID:  productID,
		Row:        payload,
		OccurredAt: time.Now().UTC(),
	}
	if err := b.pub.Publish(ctx, ev); err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{
			"table":  table,
			"row_id": rowID,
		}).Warn("Change event publish failed")
	}
}

func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
