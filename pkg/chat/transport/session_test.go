package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/wire"
)

type testGateway struct {
	srv    *httptest.Server
	frames chan wire.Outbound

	mu          sync.Mutex
	conns       []*websocket.Conn
	headers     []http.Header
	rejectFirst int
	handshakes  int
}

func newTestGateway(t *testing.T, rejectFirst int) *testGateway {
	g := &testGateway{frames: make(chan wire.Outbound, 64), rejectFirst: rejectFirst}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.handshakes++
		reject := g.handshakes <= g.rejectFirst
		g.headers = append(g.headers, r.Header.Clone())
		g.mu.Unlock()
		if reject {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if ev, err := wire.DecodeOutbound(data); err == nil {
				g.frames <- ev
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *testGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *testGateway) latest() *websocket.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.conns) == 0 {
		return nil
	}
	return g.conns[len(g.conns)-1]
}

func (g *testGateway) send(t *testing.T, raw []byte) {
	conn := g.latest()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func (g *testGateway) dropLatest() {
	if conn := g.latest(); conn != nil {
		_ = conn.Close()
	}
}

func (g *testGateway) next(t *testing.T) wire.Outbound {
	select {
	case ev := <-g.frames:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for frame at gateway")
		return nil
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectInitial = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond
	cfg.PingInterval = time.Second
	cfg.FlushRate = 1000
	return cfg
}

func openSession(t *testing.T, cfg Config, id chat.Identity, hooks Hooks) *Session {
	s, err := NewSession(cfg, id, hooks, nil)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func announceOnline(infos chan<- ConnectInfo, room string) func(context.Context, ConnectInfo) []wire.Outbound {
	return func(_ context.Context, info ConnectInfo) []wire.Outbound {
		if infos != nil {
			infos <- info
		}
		out := []wire.Outbound{wire.AgentOnline{}}
		if room != "" {
			out = append(out, wire.AgentJoin{ConversationID: room})
		}
		return out
	}
}

func TestSession_HandshakeCarriesIdentity(t *testing.T) {
	g := newTestGateway(t, 0)
	openSession(t, testConfig(g.url()), chat.ExplicitIdentity("agent-1", "Sale Agent", "tok"), Hooks{
		OnConnect: announceOnline(nil, ""),
	})

	require.Equal(t, wire.AgentOnline{}, g.next(t))
	g.mu.Lock()
	h := g.headers[0]
	g.mu.Unlock()
	require.Equal(t, "agent-1", h.Get("X-Agent-Id"))
	require.Equal(t, "Sale Agent", h.Get("X-Agent-Name"))
	require.Equal(t, "Bearer tok", h.Get("Authorization"))
	require.NotEmpty(t, h.Get("X-Session-Id"))
}

func TestSession_ReannouncesPresenceAndRoomOnReconnect(t *testing.T) {
	g := newTestGateway(t, 0)
	infos := make(chan ConnectInfo, 4)
	s := openSession(t, testConfig(g.url()), chat.StoredTokenIdentity("tok"), Hooks{
		OnConnect: announceOnline(infos, "42"),
	})

	require.Equal(t, wire.AgentOnline{}, g.next(t))
	require.Equal(t, wire.AgentJoin{ConversationID: "42"}, g.next(t))
	first := <-infos
	require.Equal(t, 1, first.Attempt)
	require.False(t, first.Reconnect)
	require.Equal(t, s.ID(), first.SessionID)

	g.dropLatest()

	require.Equal(t, wire.AgentOnline{}, g.next(t))
	require.Equal(t, wire.AgentJoin{ConversationID: "42"}, g.next(t))
	second := <-infos
	require.Equal(t, 2, second.Attempt)
	require.True(t, second.Reconnect)
	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestSession_RetriesRejectedHandshake(t *testing.T) {
	g := newTestGateway(t, 2)
	s := openSession(t, testConfig(g.url()), chat.StoredTokenIdentity("tok"), Hooks{
		OnConnect: announceOnline(nil, ""),
	})

	require.Equal(t, wire.AgentOnline{}, g.next(t))
	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)
	g.mu.Lock()
	require.Equal(t, 3, g.handshakes)
	g.mu.Unlock()
}

func TestSession_BacksOffWhenGatewayDropsRightAfterUpgrade(t *testing.T) {
	var accepted atomic.Int32
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.ReconnectInitial = 100 * time.Millisecond
	cfg.ReconnectMax = 100 * time.Millisecond
	openSession(t, cfg, chat.StoredTokenIdentity("tok"), Hooks{
		OnConnect: announceOnline(nil, ""),
	})

	time.Sleep(time.Second)
	n := accepted.Load()
	require.GreaterOrEqual(t, n, int32(2))
	require.LessOrEqual(t, n, int32(25))
}

func TestSession_FramesEmittedDuringAnnounceFollowIt(t *testing.T) {
	g := newTestGateway(t, 0)
	entered := make(chan struct{})
	release := make(chan struct{})
	s := openSession(t, testConfig(g.url()), chat.StoredTokenIdentity("tok"), Hooks{
		OnConnect: func(ctx context.Context, info ConnectInfo) []wire.Outbound {
			out := []wire.Outbound{wire.AgentOnline{}, wire.AgentJoin{ConversationID: "A"}}
			if info.Attempt == 1 {
				close(entered)
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
			return out
		},
	})

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("connect hook never ran")
	}
	require.NoError(t, s.Emit(wire.AgentLeave{ConversationID: "A"}))
	require.NoError(t, s.Emit(wire.AgentJoin{ConversationID: "B"}))
	require.NoError(t, s.Emit(wire.AgentMessage{ConversationID: "B", Message: "hi"}))
	close(release)

	require.Equal(t, wire.AgentOnline{}, g.next(t))
	require.Equal(t, wire.AgentJoin{ConversationID: "A"}, g.next(t))
	require.Equal(t, wire.AgentLeave{ConversationID: "A"}, g.next(t))
	require.Equal(t, wire.AgentJoin{ConversationID: "B"}, g.next(t))
	require.Equal(t, wire.AgentMessage{ConversationID: "B", Message: "hi"}, g.next(t))
	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestSession_DeliversValidInboundOnly(t *testing.T) {
	g := newTestGateway(t, 0)
	events := make(chan wire.Inbound, 4)
	openSession(t, testConfig(g.url()), chat.StoredTokenIdentity("tok"), Hooks{
		OnConnect: announceOnline(nil, ""),
		OnEvent:   func(ev wire.Inbound) { events <- ev },
	})
	require.Equal(t, wire.AgentOnline{}, g.next(t))

	g.send(t, []byte(`not json`))
	g.send(t, []byte(`{"v":1,"event":"message:new","data":{"id":"m1","conversationId":"9","senderType":"AGENT","text":"bare","createdAt":"2024-05-01T10:00:00Z"}}`))
	frame, err := wire.EncodeInbound(wire.MessageNew{Message: &chat.Message{
		ID: "m1", ConversationID: "9", SenderType: chat.SenderCustomer, Text: "ok",
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	g.send(t, frame)

	select {
	case ev := <-events:
		mn, ok := ev.(wire.MessageNew)
		require.True(t, ok)
		require.Equal(t, "ok", mn.Message.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for inbound event")
	}
	require.Len(t, events, 0)
}

func TestSession_QueuesWhileDisconnectedAndFlushesAfterAnnounce(t *testing.T) {
	g := newTestGateway(t, 0)
	s, err := NewSession(testConfig(g.url()), chat.StoredTokenIdentity("tok"), Hooks{
		OnConnect: announceOnline(nil, "5"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Emit(wire.AgentMessage{ConversationID: "5", Message: "queued"}))
	require.NoError(t, s.Emit(wire.AgentJoin{ConversationID: "5"}))
	require.Equal(t, 1, s.QueueLen())

	require.NoError(t, s.Open(context.Background()))

	require.Equal(t, wire.AgentOnline{}, g.next(t))
	require.Equal(t, wire.AgentJoin{ConversationID: "5"}, g.next(t))
	require.Equal(t, wire.AgentMessage{ConversationID: "5", Message: "queued"}, g.next(t))
	require.Eventually(t, func() bool { return s.QueueLen() == 0 && s.Connected() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Emit(wire.AgentMessage{ConversationID: "5", Message: "live"}))
	require.Equal(t, wire.AgentMessage{ConversationID: "5", Message: "live"}, g.next(t))
}

func TestSession_CloseStopsEverything(t *testing.T) {
	g := newTestGateway(t, 0)
	states := make(chan State, 16)
	s := openSession(t, testConfig(g.url()), chat.StoredTokenIdentity("tok"), Hooks{
		OnConnect: announceOnline(nil, ""),
		OnState:   func(st State) { states <- st },
	})
	require.Equal(t, wire.AgentOnline{}, g.next(t))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, StateClosed, s.State())
	require.ErrorIs(t, s.Emit(wire.AgentOnline{}), ErrClosed)
	require.ErrorIs(t, s.Open(context.Background()), ErrClosed)

	var seen []State
	for len(states) > 0 {
		seen = append(seen, <-states)
	}
	require.Contains(t, seen, StateConnected)
	require.Equal(t, StateClosed, seen[len(seen)-1])
}

func TestSession_OpenTwice(t *testing.T) {
	g := newTestGateway(t, 0)
	s := openSession(t, testConfig(g.url()), chat.StoredTokenIdentity("tok"), Hooks{})
	require.ErrorIs(t, s.Open(context.Background()), ErrAlreadyOpened)
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(Config{}, chat.StoredTokenIdentity("tok"), Hooks{}, nil)
	require.Error(t, err)
	_, err = NewSession(Config{URL: "ws://x"}, chat.StoredTokenIdentity(""), Hooks{}, nil)
	require.ErrorIs(t, err, chat.ErrInvalidIdentity)
}
