package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/database"
	"tradeengine/src/executors"
	"tradeengine/src/ledger"
	"tradeengine/src/server"
)

var (
	APP_NAME = os.Getenv("APP_NAME")
)

func SetupLogger() {
	config := database.GetConfig()

	level, err := logger.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	if strings.EqualFold(config.LogFormat, "json") {
		logger.SetFormatter(&logger.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	exchange, err := connectors.NewExchangeAdapter(connectors.GetConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to build exchange adapter")
	}

	router := server.NewRouter(
		database.MainDB,
		database.Reader(),
		ledger.GetConfig(),
		executors.GetConfig().MaxAttempts,
		exchange,
	)
	server.StartServer(server.GetConfig().Port, router)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
