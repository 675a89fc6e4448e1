package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/seller"
	"github.com/safar/go-storefront/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// withBackend opens the database and, when Kafka is configured, a producer so
// running servers see the writes.
func withBackend(c *cli.Context, fn func(ctx context.Context, b *store.Backend, log *logrus.Logger) error) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(c.Context, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	pub, closePub := publisher(cfg, log)
	defer closePub()

	return fn(c.Context, store.NewBackend(db, pub, log), log)
}

func publisher(cfg *config.Config, log logrus.FieldLogger) (store.Publisher, func()) {
	if !cfg.Events.KafkaEnabled() {
		return nil, func() {}
	}
	p := events.NewProducer(cfg.Events.KafkaBrokers, cfg.Events.Topic, cfg.Events.Buffer, log)
	p.Start()
	return p, p.Close
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCommand() *cli.Command {
	run := func(direction database.Direction) cli.ActionFunc {
		return func(c *cli.Context) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}

			db, err := database.NewConnection(c.Context, &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			return migrate(db, direction, log)
		}
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "apply or roll back schema migrations",
		Subcommands: []*cli.Command{
			{Name: "up", Usage: "apply all pending migrations", Action: run(database.Up)},
			{Name: "down", Usage: "roll back all migrations", Action: run(database.Down)},
		},
	}
}

func migrate(db *sqlx.DB, direction database.Direction, log logrus.FieldLogger) error {
	version, err := database.Migrate(db, direction)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	log.WithFields(logrus.Fields{"direction": direction, "version": version}).Info("Migrations complete")
	return nil
}

func approveSellerCommand() *cli.Command {
	return &cli.Command{
		Name:  "approve-seller",
		Usage: "approve a seller profile so it can list products",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "seller's user id", Required: true},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b *store.Backend, log *logrus.Logger) error {
				profile, err := seller.NewService(b, log).Approve(ctx, c.String("user"))
				if err != nil {
					return err
				}
				return printJSON(c, profile)
			})
		},
	}
}

func sellersCommand() *cli.Command {
	return &cli.Command{
		Name:  "sellers",
		Usage: "list seller profiles",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Value: 1},
			&cli.IntFlag{Name: "page-size", Value: store.DefaultPageSize},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b *store.Backend, _ *logrus.Logger) error {
				page, err := b.ListSellerProfiles(ctx, c.Int("page"), c.Int("page-size"))
				if err != nil {
					return err
				}
				return printJSON(c, page)
			})
		},
	}
}

func pendingPaymentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending-payments",
		Usage: "list payment proofs waiting for review",
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b *store.Backend, log *logrus.Logger) error {
				proofs, err := payment.NewService(b, nil, log).Pending(ctx)
				if err != nil {
					return err
				}
				return printJSON(c, proofs)
			})
		},
	}
}

func reviewPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:  "review-payment",
		Usage: "approve or reject a payment proof",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "proof", Usage: "payment proof id", Required: true},
			&cli.BoolFlag{Name: "approve"},
			&cli.BoolFlag{Name: "reject"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("approve") == c.Bool("reject") {
				return errors.New("pass exactly one of --approve or --reject")
			}

			return withBackend(c, func(ctx context.Context, b *store.Backend, log *logrus.Logger) error {
				proof, err := payment.NewService(b, nil, log).Review(ctx, c.String("proof"), c.Bool("approve"))
				if err != nil {
					return err
				}
				return printJSON(c, proof)
			})
		},
	}
}

func advanceOrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "advance-order",
		Usage: "move an order to its next status and record it on the timeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "order", Required: true},
			&cli.StringFlag{Name: "status", Required: true, Usage: "processing, shipped or delivered"},
			&cli.StringFlag{Name: "location"},
			&cli.StringFlag{Name: "description"},
		},
		Action: func(c *cli.Context) error {
			return withBackend(c, func(ctx context.Context, b *store.Backend, log *logrus.Logger) error {
				entry, err := orders.NewService(b, log).Advance(ctx, c.String("order"), c.String("status"),
					c.String("location"), c.String("description"))
				if err != nil {
					return err
				}
				return printJSON(c, entry)
			})
		},
	}
}
