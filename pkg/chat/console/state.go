package console

import (
	"time"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/transport"
	"github.com/go-go-golems/inbox/pkg/eventbus"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-facing message about something that happened.
type Notice struct {
	ID    uint64      `json:"id"`
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
	At    time.Time   `json:"at"`
}

// Snapshot is a point-in-time copy of the console state.
type Snapshot struct {
	Connection    transport.State         `json:"connection"`
	Filter        chat.ConversationStatus `json:"filter"`
	Conversations []chat.Conversation     `json:"conversations"`
	NextCursor    string                  `json:"nextCursor,omitempty"`
	Selected      string                  `json:"selected,omitempty"`
	Loading       bool                    `json:"loading"`
	Messages      []chat.Message          `json:"messages"`
	Notices       []Notice                `json:"notices"`
}

type DirectoryUpdate struct {
	Filter        chat.ConversationStatus `json:"filter"`
	Conversations []chat.Conversation     `json:"conversations"`
	NextCursor    string                  `json:"nextCursor,omitempty"`
}

type MessagesUpdate struct {
	ConversationID string         `json:"conversationId,omitempty"`
	Loading        bool           `json:"loading"`
	Messages       []chat.Message `json:"messages"`
}

type SelectionUpdate struct {
	ConversationID string `json:"conversationId,omitempty"`
}

type ConnectionUpdate struct {
	State transport.State `json:"state"`
}

func (c *Console) snapshot() Snapshot {
	return Snapshot{
		Connection:    c.conn,
		Filter:        c.dir.Filter(),
		Conversations: c.dir.List(),
		NextCursor:    c.dir.NextCursor(),
		Selected:      c.rec.Active(),
		Loading:       c.rec.Loading(),
		Messages:      c.rec.Messages(),
		Notices:       append([]Notice(nil), c.notices...),
	}
}

func (c *Console) notify(level NoticeLevel, text string) {
	c.noticeID++
	n := Notice{ID: c.noticeID, Level: level, Text: text, At: time.Now()}
	c.notices = append(c.notices, n)
	if over := len(c.notices) - c.noticeLimit; over > 0 {
		c.notices = append([]Notice(nil), c.notices[over:]...)
	}
	c.log.Info().Str("level", string(level)).Str("text", text).Msg("notice")
	c.publish(eventbus.KindNotice, n)
}

func (c *Console) publishDirectory() {
	c.publish(eventbus.KindDirectory, DirectoryUpdate{
		Filter:        c.dir.Filter(),
		Conversations: c.dir.List(),
		NextCursor:    c.dir.NextCursor(),
	})
}

func (c *Console) publishMessages() {
	c.publish(eventbus.KindMessages, MessagesUpdate{
		ConversationID: c.rec.Active(),
		Loading:        c.rec.Loading(),
		Messages:       c.rec.Messages(),
	})
}

func (c *Console) publish(kind eventbus.Kind, payload any) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(kind, payload); err != nil {
		c.log.Warn().Err(err).Str("kind", string(kind)).Msg("publishing update failed")
	}
}
