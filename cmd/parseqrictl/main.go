package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parseqri/parseqri/internal/cli/parseqrictl"
)

func main() {
	_ = godotenv.Load()

	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("PARSEQRI_CLI_TIMEOUT")), 60*time.Second)
	options := parseqrictl.Options{
		BaseURL:  envOr("PARSEQRI_API_URL", "http://localhost:8080"),
		APIKey:   strings.TrimSpace(os.Getenv("PARSEQRI_API_KEY")),
		Token:    strings.TrimSpace(os.Getenv("PARSEQRI_API_TOKEN")),
		TenantID: strings.TrimSpace(os.Getenv("PARSEQRI_TENANT_ID")),
		Timeout:  timeout,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := parseqrictl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid PARSEQRI_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
