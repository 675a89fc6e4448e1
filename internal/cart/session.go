package cart

import (
	"context"
	"sync"

	"github.com/safar/go-storefront/internal/models"
	"github.com/sirupsen/logrus"
)

// Session owns one user's cart, checkout and cart listener. The catalog is
// shared and reconciled separately.
type Session struct {
	Cart     *Cart
	Checkout *Checkout

	listener *Listener
	once     sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSession(userID string, backend Backend, catalog *Catalog, log logrus.FieldLogger) *Session {
	c := NewCart(userID, backend, catalog, log)
	return &Session{
		Cart:     c,
		Checkout: NewCheckout(c, catalog, backend, backend, log),
		listener: NewListener(nil, c, log.WithField("user_id", userID)),
	}
}

func (s *Session) UserID() string { return s.Cart.UserID() }

// Start runs the cart listener on events until Close or ctx ends.
func (s *Session) Start(ctx context.Context, events <-chan models.ChangeEvent) {
	s.once.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.done = make(chan struct{})
		go func() {
			defer close(s.done)
			_ = s.listener.Run(ctx, events)
		}()
	})
}

// Close stops the listener. Operations already running finish on their own
// contexts; their rollbacks only touch this session's state.
func (s *Session) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
