package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageAppendsLine(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	for _, ev := range []LockEvent{
		{Type: EventSeatHeld, ClientID: "dev-1", TripKey: "bus-1|2026-10-20|21:30", Seats: []string{"12"}, CartID: "cart-1", At: at},
		{Type: EventLocksReleased, ClientID: "dev-1", TripKey: "bus-1|2026-10-20|21:30", Seats: []string{"12", "13"}, Failed: 1, At: at},
	} {
		body, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, HandleMessage(body, dir))
	}

	data, err := os.ReadFile(filepath.Join(dir, AuditLogFile))
	require.NoError(t, err)
	assert.Equal(t,
		"[2026-10-18T09:30:00Z] seat.held | client_id=dev-1 | trip=bus-1|2026-10-20|21:30 | seats=[12] | cart_id=cart-1\n"+
			"[2026-10-18T09:30:00Z] locks.released | client_id=dev-1 | trip=bus-1|2026-10-20|21:30 | seats=[12,13] | failed=1\n",
		string(data))
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, HandleMessage([]byte("{"), dir))
	assert.Error(t, HandleMessage([]byte(`{"seats":[]}`), dir))
}

func TestRecorderAndFanout(t *testing.T) {
	a, b := NewRecorder(2), NewRecorder(0)
	pub := Fanout{a, b, Noop{}}
	ctx := context.Background()
	for _, typ := range []string{EventSeatHeld, EventSeatReleased, EventCartCheckedOut} {
		require.NoError(t, pub.Publish(ctx, LockEvent{Type: typ}))
	}
	require.Len(t, a.Events(), 2)
	assert.Equal(t, EventSeatReleased, a.Events()[0].Type)
	assert.Len(t, b.Events(), 3)
}
