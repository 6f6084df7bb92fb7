package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/metrics"
	"github.com/go-go-golems/inbox/pkg/chat/wire"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrAlreadyOpened = errors.New("session already opened")
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// ConnectInfo describes one successful (re)connection.
type ConnectInfo struct {
	SessionID string
	// Attempt counts successful connections of this session, starting at 1.
	Attempt   int
	Reconnect bool
}

// Hooks are invoked from the session goroutine. OnConnect returns the frames to
// announce on the fresh connection; they are written before anything queued
// while disconnected.
type Hooks struct {
	OnConnect func(ctx context.Context, info ConnectInfo) []wire.Outbound
	OnEvent   func(ev wire.Inbound)
	OnState   func(st State)
}

// heldFrame is a presence or membership frame emitted while a fresh connection
// is still announcing. It is written right after the announce.
type heldFrame struct {
	event wire.EventName
	frame []byte
}

// Session is one live connection to the gateway plus its reconnect loop. The
// identity presented on the handshake never changes for a session.
type Session struct {
	id       string
	cfg      Config
	identity chat.Identity
	hooks    Hooks
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	log      zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	ready    bool
	state    State
	connects int
	outbox   *Outbox
	held     []heldFrame
	opened   bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}

	// serializes data frames; gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func NewSession(cfg Config, identity chat.Identity, hooks Hooks, m *metrics.Metrics) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("transport: empty gateway url")
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		cfg:      cfg,
		identity: identity,
		hooks:    hooks,
		metrics:  m,
		limiter:  rate.NewLimiter(rate.Limit(cfg.FlushRate), cfg.FlushBurst),
		log: log.With().
			Str("component", "transport").
			Str("session_id", id).
			Str("agent", identity.Label()).
			Logger(),
		state:  StateDisconnected,
		outbox: NewOutbox(cfg.OutboxSize, cfg.OutboxMaxAge, cfg.OutboxMaxAttempts),
		done:   make(chan struct{}),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Identity() chat.Identity { return s.identity }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Done is closed once the connection loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Open starts the connect/reconnect loop. It does not wait for the connection.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.opened = true
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Close disconnects and stops reconnecting. It waits for the loop to exit, so it
// must not be called from a hook.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	}
	if cancel == nil {
		s.setState(StateClosed)
		close(s.done)
		return nil
	}
	cancel()
	<-s.done
	return nil
}

// Emit sends a frame without waiting for delivery. Queueable frames emitted while
// disconnected are held in the outbox and flushed after the next connect; other
// frames are dropped since they are rebuilt from state on connect. While a fresh
// connection is announcing, every frame waits until the announce is written.
func (s *Session) Emit(ev wire.Outbound) error {
	frame, err := wire.Encode(ev)
	if err != nil {
		return err
	}
	name := ev.OutboundEvent()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	conn := s.conn
	switch {
	case conn == nil:
		if ev.Queueable() {
			s.enqueueLocked(name, frame)
		} else {
			s.metrics.Dropped("disconnected")
			s.log.Debug().Str("event", string(name)).Msg("not connected, frame dropped")
		}
		s.mu.Unlock()
		return nil
	case !s.ready:
		// the connect hook may already have built its announce from older
		// state, so nothing may overtake it
		if ev.Queueable() {
			s.enqueueLocked(name, frame)
		} else {
			s.holdLocked(name, frame)
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.write(conn, frame); err != nil {
		s.log.Warn().Err(err).Str("event", string(name)).Msg("write failed")
		if ev.Queueable() {
			s.mu.Lock()
			s.enqueueLocked(name, frame)
			s.mu.Unlock()
		}
		_ = conn.Close()
		return nil
	}
	s.metrics.Outbound(string(name))
	return nil
}

func (s *Session) enqueueLocked(name wire.EventName, frame []byte) {
	if evicted, ok := s.outbox.Push(name, frame); ok {
		s.metrics.Dropped("overflow")
		s.log.Warn().Str("event", string(evicted.Event)).Msg("outbox full, oldest frame dropped")
	}
	s.log.Debug().Str("event", string(name)).Int("queued", s.outbox.Len()).Msg("frame queued until reconnect")
}

func (s *Session) holdLocked(name wire.EventName, frame []byte) {
	if len(s.held) >= s.cfg.OutboxSize {
		s.metrics.Dropped("overflow")
		s.held = s.held[1:]
	}
	s.held = append(s.held, heldFrame{event: name, frame: frame})
}

// QueueLen reports how many frames wait for a connection.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.Len()
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateClosed)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectInitial
	bo.MaxInterval = s.cfg.ReconnectMax
	bo.MaxElapsedTime = 0
	retry := backoff.WithContext(bo, ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err == nil {
			started := time.Now()
			err = s.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			// a connection dropped right after the upgrade keeps backing off
			if time.Since(started) >= s.cfg.StableAfter {
				retry.Reset()
			}
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("gateway connection failed, reconnecting")
		s.setState(StateDisconnected)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := s.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: s.cfg.HandshakeTimeout,
		}
	}
	header := s.identity.Header()
	header.Set("X-Session-Id", s.id)
	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "handshake rejected with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial gateway")
	}
	return conn, nil
}

// serve runs one connection: announce, flush, then read until it breaks.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.ready = false
			s.held = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.mu.Lock()
	s.conn = conn
	s.ready = false
	s.held = nil
	s.connects++
	info := ConnectInfo{SessionID: s.id, Attempt: s.connects, Reconnect: s.connects > 1}
	s.mu.Unlock()

	s.metrics.Connect(info.Reconnect)
	s.log.Info().Int("attempt", info.Attempt).Bool("reconnect", info.Reconnect).Msg("connected to gateway")

	go s.keepalive(connCtx, conn)

	var announce []wire.Outbound
	if s.hooks.OnConnect != nil {
		announce = s.hooks.OnConnect(connCtx, info)
	}
	for _, ev := range announce {
		frame, err := wire.Encode(ev)
		if err != nil {
			s.log.Warn().Err(err).Str("event", string(ev.OutboundEvent())).Msg("skipping invalid announce frame")
			continue
		}
		if err := s.write(conn, frame); err != nil {
			return errors.Wrap(err, "announce")
		}
		s.metrics.Outbound(string(ev.OutboundEvent()))
	}
	if err := s.flush(connCtx, conn); err != nil {
		return errors.Wrap(err, "flush outbox")
	}
	s.setState(StateConnected)

	return s.readLoop(conn)
}

// flush writes the frames held during the announce, then drains the outbox in
// order, and marks the connection ready once both are empty. Marking ready
// under the same lock that Emit checks keeps late frames from slipping in
// behind the flush.
func (s *Session) flush(ctx context.Context, conn *websocket.Conn) error {
	for {
		s.mu.Lock()
		if len(s.held) > 0 {
			h := s.held[0]
			s.held = s.held[1:]
			s.mu.Unlock()
			if err := s.write(conn, h.frame); err != nil {
				return err
			}
			s.metrics.Outbound(string(h.event))
			continue
		}
		e, expired, ok := s.outbox.Pop()
		for i := 0; i < expired; i++ {
			s.metrics.Dropped("stale")
		}
		if expired > 0 {
			s.log.Warn().Int("count", expired).Msg("dropped stale queued frames")
		}
		if !ok {
			s.ready = true
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if err := s.limiter.Wait(ctx); err != nil {
			s.mu.Lock()
			s.outbox.Requeue(e)
			s.mu.Unlock()
			return err
		}
		if err := s.write(conn, e.Frame); err != nil {
			s.mu.Lock()
			if !s.outbox.Requeue(e) {
				s.metrics.Dropped("attempts")
			}
			s.mu.Unlock()
			return err
		}
		s.metrics.Outbound(string(e.Event))
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := wire.Decode(data)
		if err != nil {
			s.metrics.Rejected(rejectReason(err))
			s.log.Warn().Err(err).Int("size", len(data)).Msg("rejected inbound frame")
			continue
		}
		s.metrics.Inbound(string(ev.InboundEvent()))
		if s.hooks.OnEvent != nil {
			s.hooks.OnEvent(ev)
		}
	}
}

func (s *Session) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Session) write(conn *websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	s.metrics.SetConnected(st == StateConnected)
	s.log.Debug().Str("state", string(st)).Msg("session state")
	if s.hooks.OnState != nil {
		s.hooks.OnState(st)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrUnsupportedVersion):
		return "version"
	case errors.Is(err, wire.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, wire.ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "malformed"
	}
}
