package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AuditLogFile is the file, under the audit directory, that receives one
// line per consumed LockEvent.
const AuditLogFile = "seatlock.log"

// StartLockAuditConsumer connects to RabbitMQ, declares the durable
// seatlock.events queue and appends every event to dir/seatlock.log.  It
// reconnects with exponential backoff and returns only when ctx is done.
// Messages that cannot be handled are rejected without requeue so a bad
// payload cannot spin the loop.
func StartLockAuditConsumer(ctx context.Context, url, dir string, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			wait := b.NextBackOff()
			logger.Warn("lock-audit: dial broker failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		err = consumeLoop(ctx, conn, dir, logger)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("lock-audit: consume loop ended, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, dir string, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.Warn("lock-audit: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(LockEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(LockEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleMessage(d.Body, dir); err != nil {
				logger.Error("lock-audit: handle message failed", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one LockEvent and appends it to dir/seatlock.log.
func HandleMessage(body []byte, dir string) error {
	var ev LockEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, AuditLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single human-friendly log line.
func FormatLine(ev LockEvent) string {
	line := fmt.Sprintf("[%s] %s | client_id=%s | trip=%s | seats=[%s]",
		ev.At.UTC().Format(time.RFC3339), ev.Type, ev.ClientID, ev.TripKey, strings.Join(ev.Seats, ","))
	if ev.CartID != "" {
		line += " | cart_id=" + ev.CartID
	}
	if ev.Failed > 0 {
		line += fmt.Sprintf(" | failed=%d", ev.Failed)
	}
	return line + "\n"
}
