package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/blob"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/httpx"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/seller"
	"github.com/safar/go-storefront/internal/store"
	"github.com/safar/go-storefront/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Usage: "apply pending migrations before serving"},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log, c.Bool("migrate"))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger, autoMigrate bool) error {
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("Connected to database")

	if autoMigrate {
		if err := migrate(db, database.Up, log); err != nil {
			return err
		}
	}

	tp := telemetry.Init("storefront")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Tracer shutdown")
		}
	}()

	broker := events.NewBroker(cfg.Events.Buffer, log)
	defer broker.Close()

	g, ctx := errgroup.WithContext(ctx)

	var pub store.Publisher = broker
	if cfg.Events.KafkaEnabled() {
		producer := events.NewProducer(cfg.Events.KafkaBrokers, cfg.Events.Topic, cfg.Events.Buffer, log)
		producer.Start()
		defer producer.Close()
		pub = producer

		rdb := events.NewRedisClient(cfg.Events.RedisAddr)
		defer rdb.Close()

		// every instance reads the whole stream
		group := cfg.Events.Group + "-" + uuid.NewString()
		consumer := events.NewConsumer(cfg.Events.KafkaBrokers, group, cfg.Events.Topic,
			events.NewDedup(rdb, group, cfg.Events.DedupTTL), log)
		g.Go(func() error { return consumer.Run(ctx, broker) })

		log.WithFields(logrus.Fields{"topic": cfg.Events.Topic, "group": group}).Info("Change stream on Kafka")
	}

	backend := store.NewBackend(db, pub, log)

	catalog := cart.NewCatalog(backend, log)
	if err := catalog.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Catalog starts stale")
	}
	productEvents, unsubscribe := broker.Subscribe(events.Filter{
		Tables: []string{models.TableProducts},
		OnDrop: catalog.Invalidate,
	})
	defer unsubscribe()
	g.Go(func() error { return cart.NewListener(catalog, nil, log).Run(ctx, productEvents) })
	g.Go(func() error { return catalog.KeepFresh(ctx, cfg.Server.CatalogRefresh) })

	sessions := cart.NewSessions(backend, catalog, func(userID string) (<-chan models.ChangeEvent, func()) {
		return broker.Subscribe(events.Filter{UserID: userID, Tables: []string{models.TableCart}})
	}, log)
	g.Go(func() error { return sessions.Run(ctx, cfg.Server.SessionSweep, cfg.Server.SessionIdle) })

	uploader, err := blob.NewS3Uploader(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	api := httpx.NewServer(httpx.Deps{
		Catalog:  catalog,
		Sessions: sessions,
		Products: backend,
		Orders:   orders.NewService(backend, log),
		Payments: payment.NewService(backend, uploader, log),
		Sellers:  seller.NewService(backend, log),
		Log:      log,
		Timeout:  cfg.Server.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.WithField("dropped_events", broker.Dropped()).Info("Server stopped")
	return err
}

func load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Log), nil
}
