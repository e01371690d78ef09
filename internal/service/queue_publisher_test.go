package queue_publisher

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	q "github.com/iliyamo/bus-seat-hold/internal/queue"
)

func TestPublishReportsUnreachableBroker(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	p := NewAMQPPublisher("amqp://guest:guest@"+addr+"/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Publish(ctx, q.LockEvent{Type: q.EventSeatHeld, At: time.Now()})
	assert.Error(t, err)
	assert.Nil(t, p.ch)
}
