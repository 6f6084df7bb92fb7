package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/inbox/pkg/chat/wire"
)

func newTestOutbox(limit int, maxAge time.Duration, maxAttempts int) (*Outbox, *time.Time) {
	o := NewOutbox(limit, maxAge, maxAttempts)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }
	return o, &now
}

func TestOutbox_FIFO(t *testing.T) {
	o, _ := newTestOutbox(10, time.Minute, 3)
	o.Push(wire.EventAgentMessage, []byte("a"))
	o.Push(wire.EventAgentMessage, []byte("b"))

	e, expired, ok := o.Pop()
	require.True(t, ok)
	require.Zero(t, expired)
	require.Equal(t, "a", string(e.Frame))
	e, _, ok = o.Pop()
	require.True(t, ok)
	require.Equal(t, "b", string(e.Frame))
	_, _, ok = o.Pop()
	require.False(t, ok)
}

func TestOutbox_OverflowDropsOldest(t *testing.T) {
	o, _ := newTestOutbox(2, 0, 3)
	_, evicted := o.Push(wire.EventAgentMessage, []byte("a"))
	require.False(t, evicted)
	o.Push(wire.EventAgentMessage, []byte("b"))
	dropped, evicted := o.Push(wire.EventAgentMessage, []byte("c"))
	require.True(t, evicted)
	require.Equal(t, "a", string(dropped.Frame))
	require.Equal(t, 2, o.Len())

	e, _, _ := o.Pop()
	require.Equal(t, "b", string(e.Frame))
}

func TestOutbox_PushCopiesFrame(t *testing.T) {
	o, _ := newTestOutbox(2, 0, 3)
	frame := []byte("abc")
	o.Push(wire.EventAgentMessage, frame)
	frame[0] = 'x'
	e, _, _ := o.Pop()
	require.Equal(t, "abc", string(e.Frame))
}

func TestOutbox_StaleEntriesSkipped(t *testing.T) {
	o, now := newTestOutbox(10, time.Minute, 3)
	o.Push(wire.EventAgentMessage, []byte("old"))
	*now = now.Add(50 * time.Second)
	o.Push(wire.EventAgentMessage, []byte("new"))
	*now = now.Add(20 * time.Second)

	e, expired, ok := o.Pop()
	require.True(t, ok)
	require.Equal(t, 1, expired)
	require.Equal(t, "new", string(e.Frame))
}

func TestOutbox_RequeueKeepsOrderAndCapsAttempts(t *testing.T) {
	o, _ := newTestOutbox(10, 0, 2)
	o.Push(wire.EventAgentMessage, []byte("a"))
	o.Push(wire.EventAgentMessage, []byte("b"))

	e, _, _ := o.Pop()
	require.True(t, o.Requeue(e))
	require.Equal(t, 2, o.Len())

	e, _, _ = o.Pop()
	require.Equal(t, "a", string(e.Frame))
	require.Equal(t, 1, e.Attempts)
	require.False(t, o.Requeue(e))
	require.Equal(t, 1, o.Len())
}
