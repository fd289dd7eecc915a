package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/parseqri/parseqri/internal/demo/seed"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.Any("error", err))
	}
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	service, err := seed.NewService(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to initialize demo seeder", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"demo seeder started",
		slog.String("api_url", cfg.APIBaseURL),
		slog.String("tenant_id", cfg.TenantID),
		slog.String("table", cfg.TableName),
		slog.Int("files", cfg.FileCount),
		slog.Int("rows_per_file", cfg.RowsPerFile),
	)

	report, err := service.Run(ctx)
	if err != nil {
		logger.Error("demo seeder failed", slog.Any("error", err))
		os.Exit(1)
	}
	for _, question := range cfg.Questions {
		fmt.Printf("Q: %s\nA: %s\n\n", question, report.Answers[question])
	}
	logger.Info("demo seeder finished", slog.Int("files", len(report.Files)), slog.Int("rows", report.Rows))
}
