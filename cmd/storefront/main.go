package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "stock-aware cart and order service",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			approveSellerCommand(),
			sellersCommand(),
			pendingPaymentsCommand(),
			reviewPaymentCommand(),
			advanceOrderCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("storefront")
	}
}
