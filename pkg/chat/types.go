package chat

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type ConversationStatus string

const (
	StatusOpen   ConversationStatus = "OPEN"
	StatusClosed ConversationStatus = "CLOSED"
)

func (s ConversationStatus) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

type SenderType string

const (
	SenderCustomer SenderType = "CUSTOMER"
	SenderAgent    SenderType = "AGENT"
)

// Conversation is a customer/agent support thread as served by the backend.
type Conversation struct {
	ID            string             `json:"id" validate:"required"`
	CustomerName  string             `json:"customerName"`
	CustomerPhone string             `json:"customerPhone"`
	Status        ConversationStatus `json:"status" validate:"required,oneof=OPEN CLOSED"`
	LastMessageAt *time.Time         `json:"lastMessageAt,omitempty"`
	CreatedAt     *time.Time         `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time         `json:"updatedAt,omitempty"`
}

// Clone returns a copy that does not share timestamp pointers with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.LastMessageAt = cloneTime(c.LastMessageAt)
	out.CreatedAt = cloneTime(c.CreatedAt)
	out.UpdatedAt = cloneTime(c.UpdatedAt)
	return out
}

// Message is a single entry in a conversation's log.
type Message struct {
	ID             MessageID  `json:"id,omitempty"`
	ConversationID string     `json:"conversationId" validate:"required"`
	SenderType     SenderType `json:"senderType" validate:"required,oneof=CUSTOMER AGENT"`
	SenderAgentID  MessageID  `json:"senderAgentId,omitempty"`
	SenderName     *string    `json:"senderName,omitempty"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"createdAt" validate:"required"`
}

// SameAs reports whether m and other are the same persisted message.
// Messages without an id are never considered the same as anything.
func (m Message) SameAs(other Message) bool {
	return m.ID.Defined() && other.ID.Defined() && m.ID == other.ID
}

// MessageID is a server-issued identifier. The backend sends either a string or a
// number; both are normalized to their string form. The zero value means "no id".
type MessageID string

func (id MessageID) Defined() bool {
	return id != ""
}

func (id MessageID) String() string {
	return string(id)
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "decode message id")
		}
		*id = MessageID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return errors.Wrap(err, "decode message id")
	}
	*id = MessageID(n.String())
	return nil
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
