package directory

import (
	"time"

	"github.com/samber/lo"

	"github.com/go-go-golems/inbox/pkg/chat"
)

// Directory is the agent's list of conversations matching one status filter.
//
// Display order is insertion order: a REST load keeps the backend's order and live
// arrivals are put at the head. Touches never re-sort.
//
// Directory is not safe for concurrent use; the console mutates it from a single loop.
type Directory struct {
	filter     chat.ConversationStatus
	items      []chat.Conversation
	nextCursor string
}

func New() *Directory {
	return &Directory{filter: chat.StatusOpen}
}

// Load replaces the whole set with a fresh page. It is a full resync, not a merge.
// Duplicate ids within the page collapse to their first occurrence.
func (d *Directory) Load(filter chat.ConversationStatus, items []chat.Conversation, nextCursor string) {
	if filter == "" {
		filter = chat.StatusOpen
	}
	d.filter = filter
	d.nextCursor = nextCursor
	uniq := lo.UniqBy(items, func(c chat.Conversation) string { return c.ID })
	d.items = make([]chat.Conversation, 0, len(uniq))
	for _, c := range uniq {
		if c.ID == "" {
			continue
		}
		d.items = append(d.items, c.Clone())
	}
}

// ApplyCreate puts a newly arrived conversation at the head of the list.
// It returns false when the id is already present (reconnect races can replay
// the same event) or when the conversation does not match the filter.
func (d *Directory) ApplyCreate(c chat.Conversation) bool {
	if c.ID == "" {
		return false
	}
	if c.Status != "" && c.Status != d.filter {
		return false
	}
	if d.index(c.ID) >= 0 {
		return false
	}
	d.items = append([]chat.Conversation{c.Clone()}, d.items...)
	return true
}

// ApplyMessageTouch moves lastMessageAt of the matching entry forward and leaves
// every other field alone. Unknown ids are ignored: the conversation may belong
// to another agent or may have been closed already.
func (d *Directory) ApplyMessageTouch(conversationID string, at time.Time) bool {
	i := d.index(conversationID)
	if i < 0 || at.IsZero() {
		return false
	}
	cur := d.items[i].LastMessageAt
	if cur != nil && !at.After(*cur) {
		return false
	}
	ts := at
	d.items[i].LastMessageAt = &ts
	return true
}

func (d *Directory) Remove(conversationID string) bool {
	i := d.index(conversationID)
	if i < 0 {
		return false
	}
	d.items = append(d.items[:i], d.items[i+1:]...)
	return true
}

func (d *Directory) Get(conversationID string) (chat.Conversation, bool) {
	i := d.index(conversationID)
	if i < 0 {
		return chat.Conversation{}, false
	}
	return d.items[i].Clone(), true
}

// List returns a copy of the entries in display order.
func (d *Directory) List() []chat.Conversation {
	return lo.Map(d.items, func(c chat.Conversation, _ int) chat.Conversation { return c.Clone() })
}

func (d *Directory) Len() int {
	return len(d.items)
}

func (d *Directory) Filter() chat.ConversationStatus {
	return d.filter
}

func (d *Directory) NextCursor() string {
	return d.nextCursor
}

func (d *Directory) index(id string) int {
	_, i, ok := lo.FindIndexOf(d.items, func(c chat.Conversation) bool { return c.ID == id })
	if !ok {
		return -1
	}
	return i
}
