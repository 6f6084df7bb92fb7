package wire

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/go-go-golems/inbox/pkg/chat"
)

// Version is the only envelope version this client speaks.
const Version = 1

type EventName string

const (
	EventAgentOnline  EventName = "agent:online"
	EventAgentJoin    EventName = "agent:join"
	EventAgentLeave   EventName = "agent:leave"
	EventAgentMessage EventName = "agent:message"

	EventConversationNew EventName = "conversation:new"
	EventMessageNew      EventName = "message:new"
)

var (
	ErrMalformed          = errors.New("malformed frame")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrUnknownEvent       = errors.New("unknown event")
	ErrInvalidPayload     = errors.New("invalid event payload")
)

// Envelope is the single framing used on the live channel in both directions:
//
//	{"v":1,"event":"message:new","data":{"message":{...}}}
type Envelope struct {
	V     int             `json:"v"`
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound is a server-to-agent event.
type Inbound interface {
	InboundEvent() EventName
}

// Outbound is an agent-to-server event.
type Outbound interface {
	OutboundEvent() EventName
	// Queueable reports whether the frame may be held while disconnected and
	// replayed after reconnect. Presence and membership frames are rebuilt from
	// state on every connect instead.
	Queueable() bool
}

type ConversationNew struct {
	Conversation *chat.Conversation `json:"conversation" validate:"required"`
	LastMessage  *chat.Message      `json:"lastMessage,omitempty" validate:"omitempty"`
}

func (ConversationNew) InboundEvent() EventName { return EventConversationNew }

type MessageNew struct {
	Message *chat.Message `json:"message" validate:"required"`
}

func (MessageNew) InboundEvent() EventName { return EventMessageNew }

type AgentOnline struct{}

func (AgentOnline) OutboundEvent() EventName { return EventAgentOnline }
func (AgentOnline) Queueable() bool          { return false }

type AgentJoin struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

func (AgentJoin) OutboundEvent() EventName { return EventAgentJoin }
func (AgentJoin) Queueable() bool          { return false }

type AgentLeave struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

func (AgentLeave) OutboundEvent() EventName { return EventAgentLeave }
func (AgentLeave) Queueable() bool          { return false }

type AgentMessage struct {
	ConversationID  string `json:"conversationId" validate:"required"`
	Message         string `json:"message" validate:"required"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

func (AgentMessage) OutboundEvent() EventName { return EventAgentMessage }
func (AgentMessage) Queueable() bool          { return true }

var validate = validator.New()

// Decode parses and validates a server-to-agent frame. It is the single validation
// point between the socket and client state: anything it rejects never reaches
// the directory or the reconciler.
func Decode(frame []byte) (Inbound, error) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return nil, err
	}
	var ev Inbound
	switch env.Event {
	case EventConversationNew:
		var p ConversationNew
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		ev = p
	case EventMessageNew:
		var p MessageNew
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		ev = p
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", env.Event)
	}
	return ev, nil
}

// DecodeOutbound parses and validates an agent-to-server frame.
func DecodeOutbound(frame []byte) (Outbound, error) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return nil, err
	}
	switch env.Event {
	case EventAgentOnline:
		return AgentOnline{}, nil
	case EventAgentJoin:
		var p AgentJoin
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventAgentLeave:
		var p AgentLeave
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventAgentMessage:
		var p AgentMessage
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", env.Event)
	}
}

func Encode(ev Outbound) ([]byte, error) {
	if ev == nil {
		return nil, errors.Wrap(ErrInvalidPayload, "nil outbound event")
	}
	return encode(ev.OutboundEvent(), ev)
}

func EncodeInbound(ev Inbound) ([]byte, error) {
	if ev == nil {
		return nil, errors.Wrap(ErrInvalidPayload, "nil inbound event")
	}
	return encode(ev.InboundEvent(), ev)
}

func encode(name EventName, payload any) ([]byte, error) {
	if err := validate.Struct(payload); err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "%s: %v", name, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", name)
	}
	return json.Marshal(Envelope{V: Version, Event: name, Data: data})
}

func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(frame)) == 0 {
		return env, errors.Wrap(ErrMalformed, "empty frame")
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, errors.Wrapf(ErrMalformed, "%v", err)
	}
	if env.V != Version {
		return env, errors.Wrapf(ErrUnsupportedVersion, "got %d, want %d", env.V, Version)
	}
	if env.Event == "" {
		return env, errors.Wrap(ErrMalformed, "missing event name")
	}
	return env, nil
}

func unmarshalPayload(env Envelope, dst any) error {
	data := env.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrapf(ErrInvalidPayload, "%s: %v", env.Event, err)
	}
	if err := validate.Struct(dst); err != nil {
		return errors.Wrapf(ErrInvalidPayload, "%s: %v", env.Event, err)
	}
	return nil
}
