package membership

import (
	"strings"

	"github.com/go-go-golems/inbox/pkg/chat/wire"
)

// Controller tracks which conversation room the agent is subscribed to.
//
// States are unjoined and joined(id). Select always produces a join, even for the
// room already joined: the server treats joins as idempotent and a repeated join
// is how a stale membership is repaired. Leaving is explicit; switching rooms
// first leaves the previous one so the server does not accumulate ghost
// memberships.
//
// The controller only records the target room. Re-joining after a reconnect is
// driven by the transport's connect hook reading Current.
type Controller struct {
	current string
}

func New() *Controller {
	return &Controller{}
}

// Select moves to joined(id) and returns the frames to send, in order.
func (c *Controller) Select(conversationID string) []wire.Outbound {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return c.Leave()
	}
	var frames []wire.Outbound
	if c.current != "" && c.current != conversationID {
		frames = append(frames, wire.AgentLeave{ConversationID: c.current})
	}
	c.current = conversationID
	return append(frames, wire.AgentJoin{ConversationID: conversationID})
}

// Leave moves to unjoined. It returns nil when nothing was joined.
func (c *Controller) Leave() []wire.Outbound {
	if c.current == "" {
		return nil
	}
	prev := c.current
	c.current = ""
	return []wire.Outbound{wire.AgentLeave{ConversationID: prev}}
}

// Current returns the joined room id, or "" when unjoined.
func (c *Controller) Current() string {
	return c.current
}

func (c *Controller) Joined() bool {
	return c.current != ""
}

// Rejoin returns the join frame to replay on a fresh connection, if any.
func (c *Controller) Rejoin() []wire.Outbound {
	if c.current == "" {
		return nil
	}
	return []wire.Outbound{wire.AgentJoin{ConversationID: c.current}}
}
