package cart

import (
	"context"

	"github.com/safar/go-storefront/internal/models"
	"github.com/sirupsen/logrus"
)

// Listener applies change notifications to a catalog, a cart, or both.
// It only shortens the time until local state catches up; direct reads stay
// authoritative, so a lost event costs freshness, not correctness.
type Listener struct {
	catalog *Catalog
	cart    *Cart
	log     logrus.FieldLogger
}

func NewListener(catalog *Catalog, cart *Cart, log logrus.FieldLogger) *Listener {
	return &Listener{catalog: catalog, cart: cart, log: log}
}

func (l *Listener) Run(ctx context.Context, events <-chan models.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			l.Handle(ctx, ev)
		}
	}
}

func (l *Listener) Handle(ctx context.Context, ev models.ChangeEvent) {
	log := l.log.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"table":    ev.Table,
		"type":     ev.Type,
		"row_id":   ev.RowID,
	})

	switch ev.Table {
	case models.TableProducts:
		if l.catalog == nil {
			return
		}
		if ev.Type == models.EventDelete {
			l.catalog.Remove(ev.RowID)
			return
		}
		if _, err := l.catalog.Fetch(ctx, ev.RowID); err != nil {
			log.WithError(err).Warn("Product reconciliation failed")
		}

	case models.TableCart:
		if l.cart == nil || ev.UserID != l.cart.UserID() || ev.ProductID == "" {
			return
		}
		if err := l.cart.Reconcile(ctx, ev.ProductID); err != nil {
			log.WithError(err).Warn("Cart reconciliation failed")
		}
	}
}
