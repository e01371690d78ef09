// lockaudit consumes seat lock events from RabbitMQ and appends one line
// per event to the audit log.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/iliyamo/bus-seat-hold/internal/config"
	"github.com/iliyamo/bus-seat-hold/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, dir, url string
	flagSet := pflag.NewFlagSet("lockaudit", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file to seed the environment from")
	flagSet.StringVar(&dir, "dir", "", "directory for "+queue.AuditLogFile+" (overrides LOCK_AUDIT_DIR)")
	flagSet.StringVar(&url, "amqp", "", "broker URL (overrides RABBITMQ_URL)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	if url == "" {
		url = os.Getenv("RABBITMQ_URL")
	}
	if url == "" {
		return errors.New("RABBITMQ_URL is required")
	}
	if dir == "" {
		dir = os.Getenv("LOCK_AUDIT_DIR")
	}
	if dir == "" {
		dir = "logs"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("lock-audit: consuming", "dir", dir)
	err := queue.StartLockAuditConsumer(ctx, url, dir, logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
