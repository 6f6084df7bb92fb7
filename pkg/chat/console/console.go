package console

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/api"
	"github.com/go-go-golems/inbox/pkg/chat/directory"
	"github.com/go-go-golems/inbox/pkg/chat/dispatcher"
	"github.com/go-go-golems/inbox/pkg/chat/membership"
	"github.com/go-go-golems/inbox/pkg/chat/metrics"
	"github.com/go-go-golems/inbox/pkg/chat/reconciler"
	"github.com/go-go-golems/inbox/pkg/chat/transport"
	"github.com/go-go-golems/inbox/pkg/chat/wire"
	"github.com/go-go-golems/inbox/pkg/eventbus"
)

var (
	ErrStopped        = errors.New("console is not running")
	ErrAlreadyRunning = errors.New("console is already running")
)

// Backend is the REST surface the console reads from and closes through.
type Backend interface {
	ListConversations(ctx context.Context, q api.ConversationQuery) (*api.ConversationPage, error)
	ListMessages(ctx context.Context, conversationID string, q api.MessageQuery) (*api.MessagePage, error)
	CloseConversation(ctx context.Context, conversationID string) error
}

// Publisher receives every state change. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(kind eventbus.Kind, payload any) error
}

type Option func(*Console)

func WithPublisher(p Publisher) Option {
	return func(c *Console) { c.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Console) { c.metrics = m }
}

func WithHistoryOrder(o reconciler.HistoryOrder) Option {
	return func(c *Console) { c.order = o }
}

// WithHistoryLimit sets the page size used when loading a conversation's history.
func WithHistoryLimit(n int) Option {
	return func(c *Console) { c.historyLimit = n }
}

// WithInitialQuery sets the directory query issued when Run starts.
func WithInitialQuery(q api.ConversationQuery) Option {
	return func(c *Console) { c.query = q }
}

func WithNoticeLimit(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.noticeLimit = n
		}
	}
}

// Console is the agent's synchronized view of the inbox. Directory, reconciler
// and membership state is only touched from the Run goroutine; every public
// method posts its mutation into that loop and performs REST calls on the
// caller's goroutine.
type Console struct {
	backend   Backend
	manager   *transport.Manager
	identity  chat.Identity
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	order        reconciler.HistoryOrder
	historyLimit int
	noticeLimit  int

	running atomic.Bool
	ops     chan func()
	stopped chan struct{}
	runCtx  context.Context
	wg      sync.WaitGroup

	// owned by the loop
	dir      *directory.Directory
	rec      *reconciler.Reconciler
	mem      *membership.Controller
	disp     *dispatcher.Dispatcher
	session  *transport.Session
	conn     transport.State
	query    api.ConversationQuery
	dirGen   uint64
	notices  []Notice
	noticeID uint64
}

func New(backend Backend, manager *transport.Manager, identity chat.Identity, opts ...Option) (*Console, error) {
	if backend == nil {
		return nil, errors.New("console: nil backend")
	}
	if manager == nil {
		return nil, errors.New("console: nil transport manager")
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	c := &Console{
		backend:     backend,
		manager:     manager,
		identity:    identity,
		order:       reconciler.NewestFirst,
		noticeLimit: 50,
		ops:         make(chan func()),
		stopped:     make(chan struct{}),
		conn:        transport.StateDisconnected,
		log: log.With().
			Str("component", "console").
			Str("agent", identity.Label()).
			Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.query = normalizeQuery(c.query)
	c.dir = directory.New()
	c.rec = reconciler.New(c.order)
	c.mem = membership.New()
	c.disp = dispatcher.New(emitterFunc(c.emit), backend)
	return c, nil
}

// Run opens the live session and processes state changes until ctx is done. The
// session is released when Run returns. A console runs once.
func (c *Console) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = runCtx

	session, err := c.manager.Acquire(runCtx, c.identity, transport.Hooks{
		OnConnect: c.onConnect,
		OnEvent:   c.onEvent,
		OnState:   c.onState,
	})
	if err != nil {
		close(c.stopped)
		return errors.Wrap(err, "open live session")
	}
	c.session = session
	c.log.Info().Str("session_id", session.ID()).Msg("console started")

	c.dirGen++
	q, gen := c.query, c.dirGen
	c.spawn(func(ctx context.Context) { _ = c.fetchDirectory(ctx, q, gen) })

	for {
		select {
		case <-runCtx.Done():
			close(c.stopped)
			cancel()
			c.wg.Wait()
			if err := c.manager.Release(); err != nil {
				c.log.Warn().Err(err).Msg("releasing live session")
			}
			c.log.Info().Msg("console stopped")
			return nil
		case op := <-c.ops:
			op()
		}
	}
}

// LoadDirectory replaces the conversation list with a fresh REST page. A failure
// leaves the list untouched and is reported as a notice.
func (c *Console) LoadDirectory(ctx context.Context, q api.ConversationQuery) error {
	q = normalizeQuery(q)
	var gen uint64
	if err := c.call(ctx, func() {
		c.dirGen++
		gen = c.dirGen
		c.query = q
	}); err != nil {
		return err
	}
	return c.fetchDirectory(ctx, q, gen)
}

// Select makes conversationID the active conversation: the previous room is
// left, the new one joined and its history loaded. An empty id clears the
// selection.
func (c *Console) Select(ctx context.Context, conversationID string) error {
	var (
		ticket reconciler.Ticket
		load   bool
	)
	if err := c.call(ctx, func() {
		if conversationID == "" {
			c.clearSelection()
			return
		}
		c.emitAll(c.mem.Select(conversationID))
		ticket = c.rec.Begin(conversationID)
		load = true
		c.publish(eventbus.KindSelection, SelectionUpdate{ConversationID: conversationID})
		c.publishMessages()
	}); err != nil {
		return err
	}
	if !load {
		return nil
	}
	return c.fetchHistory(ctx, ticket)
}

// Send composes a message to the active conversation. It is not appended
// locally; the backend echoes it back as message:new.
func (c *Console) Send(ctx context.Context, text string) error {
	var sendErr error
	if err := c.call(ctx, func() {
		_, sendErr = c.disp.Compose(c.rec.Active(), text)
	}); err != nil {
		return err
	}
	return sendErr
}

// CloseConversation closes a conversation through REST. On success it is removed
// from the list and, if it was active, the room is left and the log cleared.
// Confirmation is the caller's job.
func (c *Console) CloseConversation(ctx context.Context, conversationID string) error {
	err := c.disp.Close(ctx, conversationID)
	if errors.Is(err, dispatcher.ErrNoSelection) {
		return err
	}
	if err != nil {
		c.metrics.RESTFailure("close_conversation")
		c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("close conversation failed")
		_ = c.call(ctx, func() { c.notify(NoticeError, "Could not close the conversation") })
		return err
	}
	return c.call(ctx, func() {
		if c.dir.Remove(conversationID) {
			c.publishDirectory()
		}
		if c.rec.Active() == conversationID {
			c.clearSelection()
		}
		c.notify(NoticeSuccess, "Conversation closed")
	})
}

// Snapshot returns a copy of the current state.
func (c *Console) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.call(ctx, func() { s = c.snapshot() })
	return s, err
}

func (c *Console) fetchDirectory(ctx context.Context, q api.ConversationQuery, gen uint64) error {
	page, err := c.backend.ListConversations(ctx, q)
	if err != nil {
		c.metrics.RESTFailure("list_conversations")
		c.log.Warn().Err(err).Uint64("generation", gen).Msg("loading conversations failed")
		_ = c.call(ctx, func() {
			if gen == c.dirGen {
				c.notify(NoticeError, "Could not load conversations")
			}
		})
		return errors.Wrap(err, "load conversations")
	}
	return c.call(ctx, func() {
		if gen != c.dirGen {
			c.log.Debug().Uint64("generation", gen).Msg("discarding superseded conversation page")
			return
		}
		c.dir.Load(q.Status, page.Items, page.NextCursor)
		c.publishDirectory()
	})
}

func (c *Console) fetchHistory(ctx context.Context, t reconciler.Ticket) error {
	page, err := c.backend.ListMessages(ctx, t.ConversationID, api.MessageQuery{Limit: c.historyLimit})
	if err != nil {
		c.metrics.RESTFailure("list_messages")
		c.log.Warn().Err(err).Str("conversation_id", t.ConversationID).Msg("loading history failed")
		_ = c.call(ctx, func() {
			if c.rec.Fail(t) {
				c.publishMessages()
			}
			c.notify(NoticeError, "Could not load message history")
		})
		return errors.Wrapf(err, "load history of %s", t.ConversationID)
	}
	return c.call(ctx, func() {
		if !c.rec.ApplyHistory(t, page.Items) {
			c.metrics.Stale()
			c.log.Debug().
				Str("conversation_id", t.ConversationID).
				Uint64("generation", t.Generation).
				Msg("discarding stale history")
			return
		}
		c.publishMessages()
	})
}

func (c *Console) onConnect(ctx context.Context, info transport.ConnectInfo) []wire.Outbound {
	var frames []wire.Outbound
	err := c.call(ctx, func() {
		frames = append([]wire.Outbound{wire.AgentOnline{}}, c.mem.Rejoin()...)
		if !info.Reconnect {
			return
		}
		c.log.Info().Int("attempt", info.Attempt).Msg("reconnected, resyncing")
		c.dirGen++
		q, gen := c.query, c.dirGen
		c.spawn(func(ctx context.Context) { _ = c.fetchDirectory(ctx, q, gen) })
		if t, ok := c.rec.Reload(); ok {
			c.publishMessages()
			c.spawn(func(ctx context.Context) { _ = c.fetchHistory(ctx, t) })
		}
	})
	if err != nil {
		return nil
	}
	return frames
}

func (c *Console) onEvent(ev wire.Inbound) {
	_ = c.post(context.Background(), func() { c.handleEvent(ev) })
}

func (c *Console) onState(st transport.State) {
	_ = c.post(context.Background(), func() {
		prev := c.conn
		c.conn = st
		c.publish(eventbus.KindConnection, ConnectionUpdate{State: st})
		if prev == transport.StateConnected && st == transport.StateDisconnected {
			c.notify(NoticeWarning, "Connection lost, reconnecting")
		}
	})
}

func (c *Console) handleEvent(ev wire.Inbound) {
	switch e := ev.(type) {
	case wire.ConversationNew:
		conv := *e.Conversation
		created := c.dir.ApplyCreate(conv)
		touched := e.LastMessage != nil && c.dir.ApplyMessageTouch(conv.ID, e.LastMessage.CreatedAt)
		if created || touched {
			c.publishDirectory()
		}
		if created {
			c.notify(NoticeInfo, "New customer: "+customerLabel(conv))
		}
	case wire.MessageNew:
		m := *e.Message
		res := c.rec.ApplyInsert(m)
		c.metrics.Insert(res.String())
		if res == reconciler.Appended {
			c.publishMessages()
		}
		if c.dir.ApplyMessageTouch(m.ConversationID, m.CreatedAt) {
			c.publishDirectory()
		}
	default:
		c.log.Warn().Str("event", string(ev.InboundEvent())).Msg("unhandled inbound event")
	}
}

func (c *Console) clearSelection() {
	c.emitAll(c.mem.Leave())
	c.rec.Clear()
	c.publish(eventbus.KindSelection, SelectionUpdate{})
	c.publishMessages()
}

func (c *Console) emit(ev wire.Outbound) error {
	if c.session == nil {
		return ErrStopped
	}
	return c.session.Emit(ev)
}

func (c *Console) emitAll(frames []wire.Outbound) {
	for _, ev := range frames {
		if err := c.emit(ev); err != nil {
			c.log.Warn().Err(err).Str("event", string(ev.OutboundEvent())).Msg("emit failed")
		}
	}
}

// spawn runs fn in the background for the lifetime of Run.
func (c *Console) spawn(fn func(ctx context.Context)) {
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
}

// post hands op to the loop without waiting for it to run.
func (c *Console) post(ctx context.Context, op func()) error {
	select {
	case c.ops <- op:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop and waits for it. Once the loop has taken an op it
// always runs it, so waiting on done alone is enough.
func (c *Console) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := c.post(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	<-done
	return nil
}

func normalizeQuery(q api.ConversationQuery) api.ConversationQuery {
	if q.Status == "" {
		q.Status = chat.StatusOpen
	}
	return q
}

func customerLabel(c chat.Conversation) string {
	if c.CustomerName != "" {
		return c.CustomerName
	}
	if c.CustomerPhone != "" {
		return c.CustomerPhone
	}
	return c.ID
}

type emitterFunc func(ev wire.Outbound) error

func (f emitterFunc) Emit(ev wire.Outbound) error { return f(ev) }
