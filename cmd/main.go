package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradeengine/cmd/accounts"
	"tradeengine/cmd/executor"
	"tradeengine/src/connectors"
	"tradeengine/src/database"
	"tradeengine/src/executors"
	"tradeengine/src/ledger"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/server"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Trade Engine CMD"
	app.Usage = "The trade execution and settlement command line interface"
	app.Version = Version
	app.Before = func(_ *cli.Context) error {
		setupLogger()
		return nil
	}

	app.Commands = []cli.Command{
		apiCMD,
		workerCMD,
		reconcilerCMD,
		enqueueCMD,
		accountCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	apiCMD = cli.Command{
		Name:        "api",
		Usage:       "run http api",
		Action:      apiAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Serve the orders, credits and positions API`,
	}
	workerCMD = cli.Command{
		Name:        "worker",
		Usage:       "run trade worker",
		Action:      workerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the trade task workers and the settlement loop`,
	}
	reconcilerCMD = cli.Command{
		Name:        "reconciler",
		Usage:       "run settlement reconciler",
		Action:      reconcilerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run only the settlement reconciler loop`,
	}
	enqueueCMD = cli.Command{
		Name:      "enqueue",
		Usage:     "queue a trade intent",
		Action:    enqueueAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.UintFlag{Name: "account", Usage: "account id"},
			cli.StringFlag{Name: "symbol", Value: "BTCUSDT"},
			cli.StringFlag{Name: "side", Usage: "BUY or SELL"},
			cli.StringFlag{Name: "type", Value: model.OrderTypeMarket, Usage: "MARKET or LIMIT"},
			cli.StringFlag{Name: "qty", Usage: "base asset quantity"},
			cli.StringFlag{Name: "price", Usage: "limit price"},
			cli.StringFlag{Name: "key", Usage: "idempotency key"},
		},
		Description: `Queue one trade intent for the worker pool`,
	}
	accountCMD = cli.Command{
		Name:      "account",
		Usage:     "create an account",
		Action:    accountAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "name"},
			cli.StringFlag{Name: "credits", Value: "0"},
		},
		Description: `Create a simulated account with opening credits`,
	}
)

func apiAction(_ *cli.Context) error {

	logrus.Info("Starting api CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	if err := database.InitReadOnlyDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	exchange, err := connectors.NewExchangeAdapter(connectors.GetConfig())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build exchange adapter")
	}

	router := server.NewRouter(
		database.MainDB,
		database.Reader(),
		ledger.GetConfig(),
		executors.GetConfig().MaxAttempts,
		exchange,
	)
	server.StartServer(server.GetConfig().Port, router)
	return nil
}

func workerAction(_ *cli.Context) error {

	logrus.Info("Starting worker CMD")

	e := &executor.Executor{}
	err := e.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func reconcilerAction(_ *cli.Context) error {

	logrus.Info("Starting reconciler CMD")

	e := &executor.Executor{SettlementOnly: true}
	err := e.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func enqueueAction(c *cli.Context) error {
	qty, err := decimal.NewFromString(c.String("qty"))
	if err != nil {
		return fmt.Errorf("invalid qty: %w", err)
	}

	intent := model.TradeIntent{
		AccountID:      c.Uint("account"),
		Symbol:         c.String("symbol"),
		Side:           c.String("side"),
		OrderType:      c.String("type"),
		Quantity:       qty,
		IdempotencyKey: c.String("key"),
	}
	if raw := c.String("price"); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
		intent.Price = &price
	}

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	task, created, err := executors.Enqueue(context.Background(),
		repository.NewTradeTaskRepository().WithDB(database.MainDB), intent, "", executors.GetConfig().MaxAttempts)
	if err != nil {
		return err
	}

	fmt.Printf("task %d key %s created=%t\n", task.ID, task.IdempotencyKey, created)
	return nil
}

func accountAction(c *cli.Context) error {
	credits, err := decimal.NewFromString(c.String("credits"))
	if err != nil {
		return fmt.Errorf("invalid credits: %w", err)
	}

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	a := &accounts.Accounts{
		Log: logrus.WithField("cmd", "account"),
		DB:  database.MainDB,
	}
	account, err := a.Create(context.Background(), c.String("name"), credits)
	if err != nil {
		logrus.WithError(err).Error("Creating account")
		return err
	}

	fmt.Printf("account %d %s credits %s\n", account.ID, account.Name, account.Credits)
	return nil
}

func setupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
