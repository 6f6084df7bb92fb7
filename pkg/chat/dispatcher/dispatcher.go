package dispatcher

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/inbox/pkg/chat/wire"
)

var (
	ErrNoSelection  = errors.New("no conversation selected")
	ErrEmptyMessage = errors.New("message is empty")
)

// Emitter is the live channel. Emit is fire-and-forget.
type Emitter interface {
	Emit(ev wire.Outbound) error
}

// Closer is the REST endpoint closing a conversation.
type Closer interface {
	CloseConversation(ctx context.Context, conversationID string) error
}

// Dispatcher sends agent actions to the backend. Composed messages only travel
// over the live channel; closing a conversation only travels over REST. The two
// paths are not interchangeable.
type Dispatcher struct {
	emitter Emitter
	closer  Closer
	newID   func() string
}

func New(emitter Emitter, closer Closer) *Dispatcher {
	return &Dispatcher{emitter: emitter, closer: closer, newID: uuid.NewString}
}

// Compose sends text to the selected conversation. Nothing is appended locally:
// the backend echoes the stored message through message:new, including to the
// sender, and that copy is the one shown.
func (d *Dispatcher) Compose(selection, text string) (wire.AgentMessage, error) {
	text = strings.TrimSpace(text)
	if selection == "" {
		return wire.AgentMessage{}, ErrNoSelection
	}
	if text == "" {
		return wire.AgentMessage{}, ErrEmptyMessage
	}
	if d.emitter == nil {
		return wire.AgentMessage{}, errors.New("dispatcher: no live channel")
	}
	ev := wire.AgentMessage{
		ConversationID:  selection,
		Message:         text,
		ClientMessageID: d.newID(),
	}
	if err := d.emitter.Emit(ev); err != nil {
		return ev, errors.Wrap(err, "emit agent message")
	}
	log.Debug().
		Str("component", "dispatcher").
		Str("conversation_id", selection).
		Str("client_message_id", ev.ClientMessageID).
		Msg("agent message sent")
	return ev, nil
}

// Close asks the backend to close a conversation. The caller owns confirmation
// and the local state changes that follow a success.
func (d *Dispatcher) Close(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrNoSelection
	}
	if d.closer == nil {
		return errors.New("dispatcher: no rest client")
	}
	if err := d.closer.CloseConversation(ctx, conversationID); err != nil {
		return errors.Wrapf(err, "close conversation %s", conversationID)
	}
	return nil
}
