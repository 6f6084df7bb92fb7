package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBus_InMemoryRoundTrip(t *testing.T) {
	b, err := New(DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.Equal(t, DefaultTopic, b.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(KindSelection, map[string]string{"conversationId": "42"}))

	select {
	case u := <-updates:
		require.Equal(t, KindSelection, u.Kind)
		require.NotEmpty(t, u.ID)
		var payload map[string]string
		require.NoError(t, u.Decode(&payload))
		require.Equal(t, "42", payload["conversationId"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b, err := New(Settings{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	require.NoError(t, b.Publish(KindNotice, map[string]string{"text": "hello"}))
}

func TestBus_PublishRejectsUnmarshalablePayload(t *testing.T) {
	b, err := New(Settings{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	require.Error(t, b.Publish(KindNotice, make(chan int)))
}

func TestBus_SubscriptionEndsWithContext(t *testing.T) {
	b, err := New(Settings{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := b.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_Redis(t *testing.T) {
	addr := os.Getenv("INBOX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INBOX_TEST_REDIS_ADDR not set")
	}
	s := DefaultSettings()
	s.Enabled = true
	s.Addr = addr
	s.Topic = "inbox.test." + time.Now().Format("150405.000000")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, EnsureGroupAtTail(ctx, s))
	require.NoError(t, EnsureGroupAtTail(ctx, s))

	b, err := New(s)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	updates, err := b.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Publish(KindConnection, map[string]string{"state": "connected"}))

	select {
	case u := <-updates:
		require.Equal(t, KindConnection, u.Kind)
	case <-ctx.Done():
		t.Fatal("timeout waiting for redis update")
	}
}

func TestWatermillLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWatermillLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	l.With(watermill.LogFields{"topic": "t"}).Info("subscribed", watermill.LogFields{"n": 1})
	l.Error("boom", errors.New("bad"), nil)
	l.Trace("hidden", nil)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.Equal(t, "subscribed", first["message"])
	require.Equal(t, "t", first["topic"])
	require.Equal(t, "eventbus", first["component"])
	require.EqualValues(t, 1, first["n"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	require.Equal(t, "error", second["level"])
	require.Equal(t, "bad", second["error"])
}
