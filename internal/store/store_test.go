package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buyer = "auth0|buyer-1"

var _ cart.Backend = (*store.Backend)(nil)

func newProduct(t *testing.T, b *store.Backend, name string, stock int) *models.Product {
	t.Helper()
	p, err := b.CreateProduct(context.Background(), store.NewProduct{
		Name:  name,
		Price: decimal.RequireFromString("19.99"),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func TestBackend(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("unknown product is not found", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())

		_, err := b.GetProduct(ctx, "6a0b3c1e-0000-4000-8000-000000000000")
		require.ErrorIs(t, err, database.ErrProductNotFound)

		_, err = b.GetProduct(ctx, "local-not-a-uuid")
		require.ErrorIs(t, err, database.ErrProductNotFound)
	})

	t.Run("stock update is version checked", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())
		p := newProduct(t, b, "versioned", 10)

		updated, err := b.UpdateStock(ctx, p.ID, 7, p.Version)
		require.NoError(t, err)
		assert.Equal(t, 7, updated.Stock)
		assert.Equal(t, p.Version+1, updated.Version)

		_, err = b.UpdateStock(ctx, p.ID, 5, p.Version)
		require.ErrorIs(t, err, database.ErrOptimisticLockFailed)
	})

	t.Run("negative stock is rejected by the schema", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())
		p := newProduct(t, b, "guarded", 1)

		_, err := b.UpdateStock(ctx, p.ID, -1, p.Version)
		require.Error(t, err)
		assert.Equal(t, database.ErrorClassPermanent, database.ClassifyError(err))
	})

	t.Run("cart upsert keys on user and product", func(t *testing.T) {
		rec := &recorder{}
		b := store.NewBackend(db, rec, logging.Discard())
		p := newProduct(t, b, "mug", 10)

		first, err := b.UpsertCartLine(ctx, buyer, p.ID, 1)
		require.NoError(t, err)
		second, err := b.UpsertCartLine(ctx, buyer, p.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 4, second.Quantity)

		found, err := b.FindCartLine(ctx, buyer, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, found.Quantity)

		var cartEvents []models.ChangeEvent
		for _, ev := range rec.all() {
			if ev.Table == models.TableCart {
				cartEvents = append(cartEvents, ev)
			}
		}
		require.Len(t, cartEvents, 2)
		assert.Equal(t, models.EventInsert, cartEvents[0].Type)
		assert.Equal(t, models.EventUpdate, cartEvents[1].Type)
		assert.Equal(t, buyer, cartEvents[1].UserID)
		assert.Equal(t, p.ID, cartEvents[1].ProductID)

		require.NoError(t, b.DeleteCartLine(ctx, buyer, first.ID))
		err = b.DeleteCartLine(ctx, buyer, first.ID)
		require.ErrorIs(t, err, database.ErrCartLineNotFound)
	})

	t.Run("update of another user's line is not found", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())
		p := newProduct(t, b, "private", 10)

		line, err := b.UpsertCartLine(ctx, buyer, p.ID, 1)
		require.NoError(t, err)

		_, err = b.UpdateCartLine(ctx, "auth0|intruder", line.ID, 3)
		require.ErrorIs(t, err, database.ErrCartLineNotFound)
	})

	t.Run("order stores a frozen snapshot and first tracking entry", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())
		p := newProduct(t, b, "lamp", 10)

		items := []models.OrderItem{{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  2,
			ImageURL:  p.ImageURL,
		}}
		order, err := b.CreateOrder(ctx, buyer, items, decimal.RequireFromString("39.98"))
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, order.Status)

		got, err := b.GetOrder(ctx, buyer, order.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "lamp", got.Items[0].Name)
		assert.True(t, got.Total.Equal(decimal.RequireFromString("39.98")))

		_, err = b.GetOrder(ctx, "auth0|someone", order.ID)
		require.ErrorIs(t, err, database.ErrOrderNotFound)

		timeline, err := b.ListTracking(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, timeline, 1)
		assert.Equal(t, models.TrackingStatusOrdered, timeline[0].Status)
	})

	t.Run("tracking follows the status chain", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())
		order, err := b.CreateOrder(ctx, buyer, []models.OrderItem{}, decimal.Zero)
		require.NoError(t, err)

		_, err = b.AppendTracking(ctx, order.ID, models.OrderStatusShipped, nil, nil)
		require.ErrorIs(t, err, database.ErrInvalidTransition)

		location := "Warehouse - Mumbai"
		entry, err := b.AppendTracking(ctx, order.ID, models.OrderStatusProcessing, &location, nil)
		require.NoError(t, err)
		require.NotNil(t, entry.Location)
		assert.Equal(t, location, *entry.Location)

		got, err := b.GetOrder(ctx, buyer, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusProcessing, got.Status)

		timeline, err := b.ListTracking(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, timeline, 2)
		assert.Equal(t, models.OrderStatusProcessing, timeline[len(timeline)-1].Status)
	})

	t.Run("payment proofs are reviewed once", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())
		order, err := b.CreateOrder(ctx, buyer, []models.OrderItem{}, decimal.RequireFromString("10.00"))
		require.NoError(t, err)

		proof, err := b.CreatePaymentProof(ctx, order.ID, buyer, order.Total, "https://cdn.example.com/p.png")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, proof.Status)

		reviewed, err := b.ReviewPaymentProof(ctx, proof.ID, models.PaymentStatusApproved)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusApproved, reviewed.Status)

		_, err = b.ReviewPaymentProof(ctx, proof.ID, models.PaymentStatusRejected)
		require.ErrorIs(t, err, database.ErrAlreadyReviewed)

		_, err = b.ReviewPaymentProof(ctx, "nope", models.PaymentStatusRejected)
		require.ErrorIs(t, err, database.ErrPaymentProofNotFound)
	})

	t.Run("seller profile is unique per user", func(t *testing.T) {
		b := store.NewBackend(db, nil, logging.Discard())

		profile, err := b.CreateSellerProfile(ctx, "auth0|seller", "Chai Co", "Pune")
		require.NoError(t, err)
		assert.False(t, profile.IsApproved)

		_, err = b.CreateSellerProfile(ctx, "auth0|seller", "Chai Co", "Pune")
		require.ErrorIs(t, err, database.ErrSellerExists)

		approved, err := b.ApproveSeller(ctx, "auth0|seller")
		require.NoError(t, err)
		assert.True(t, approved.IsApproved)

		_, err = b.ApproveSeller(ctx, "auth0|ghost")
		require.ErrorIs(t, err, database.ErrSellerNotFound)
	})
}

func TestListOrdersCursor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := store.NewBackend(db, nil, logging.Discard())

	const user = "auth0|history"
	for i := 0; i < 5; i++ {
		_, err := b.CreateOrder(ctx, user, []models.OrderItem{}, decimal.NewFromInt(int64(i)))
		require.NoError(t, err)
	}

	var seen []string
	cursor := ""
	for {
		page, err := b.ListOrders(ctx, user, cursor, 2)
		require.NoError(t, err)
		for _, o := range page.Items {
			seen = append(seen, o.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	assert.Len(t, seen, 5)
	unique := map[string]bool{}
	for _, id := range seen {
		unique[id] = true
	}
	assert.Len(t, unique, 5)
}

// Concurrent checkouts decrement through the versioned write; with retries
// every buyer's decrement lands exactly once.
func TestConcurrentCheckoutsAgainstPostgres(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := store.NewBackend(db, nil, logging.Discard())

	p := newProduct(t, b, "scarce", 3)
	catalog := cart.NewCatalog(b, logging.Discard())
	require.NoError(t, catalog.Refresh(ctx))

	users := []string{"auth0|a", "auth0|b"}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			s := cart.NewSession(u, b, catalog, logging.Discard())
			_, err := s.Cart.AddItem(ctx, p.ID)
			if !assert.NoError(t, err) {
				return
			}
			_, err = s.Checkout.PlaceOrder(ctx)
			assert.NoError(t, err)
		}(u)
	}
	wg.Wait()

	final, err := b.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Stock)

	for _, u := range users {
		lines, err := b.ListCartLines(ctx, u)
		require.NoError(t, err)
		assert.Empty(t, lines)
	}
}
