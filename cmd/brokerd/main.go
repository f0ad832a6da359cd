// brokerd runs the in-memory development chat broker.
package main

import (
	"context"
	"os"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/broker"
	"github.com/hrlink/hrchat/internal/config"
	"github.com/hrlink/hrchat/internal/handlers"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	manager := broker.NewManager(logger)
	go manager.Start(context.Background())

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h := &handlers.Chat{Manager: manager, Token: cfg.Token, Log: logger}
	h.Register(app)

	logger.Info("broker listening", zap.String("addr", cfg.ListenAddr))
	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
}
