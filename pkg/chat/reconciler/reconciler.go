package reconciler

import (
	"github.com/samber/lo"

	"github.com/go-go-golems/inbox/pkg/chat"
)

// HistoryOrder describes how the backend orders a history page.
type HistoryOrder string

const (
	NewestFirst HistoryOrder = "newest-first"
	OldestFirst HistoryOrder = "oldest-first"
)

// Ticket tags one history request. A response is applied only while its ticket
// is still the current one.
type Ticket struct {
	ConversationID string
	Generation     uint64
}

type InsertResult int

const (
	Appended InsertResult = iota
	Duplicate
	OtherConversation
	NoSelection
)

func (r InsertResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Duplicate:
		return "duplicate"
	case OtherConversation:
		return "other-conversation"
	case NoSelection:
		return "no-selection"
	default:
		return "unknown"
	}
}

// Reconciler owns the ordered message log of the active conversation and merges
// REST history with live inserts.
//
// Not safe for concurrent use.
type Reconciler struct {
	order HistoryOrder

	active     string
	generation uint64
	loading    bool

	log []chat.Message
	ids map[chat.MessageID]struct{}

	// live inserts received while the current history request is in flight
	pending []chat.Message
}

func New(order HistoryOrder) *Reconciler {
	if order == "" {
		order = NewestFirst
	}
	return &Reconciler{order: order, ids: map[chat.MessageID]struct{}{}}
}

// Begin makes conversationID the active conversation, drops the previous log and
// returns the ticket the matching history response must present.
func (r *Reconciler) Begin(conversationID string) Ticket {
	r.generation++
	r.active = conversationID
	r.loading = conversationID != ""
	r.reset()
	return Ticket{ConversationID: conversationID, Generation: r.generation}
}

// Reload issues a new ticket for the active conversation without clearing the
// log; used to resync after a reconnect.
func (r *Reconciler) Reload() (Ticket, bool) {
	if r.active == "" {
		return Ticket{}, false
	}
	r.generation++
	r.loading = true
	r.pending = nil
	return Ticket{ConversationID: r.active, Generation: r.generation}, true
}

// Current reports whether t is still the ticket of the latest request.
func (r *Reconciler) Current(t Ticket) bool {
	return t.Generation == r.generation && t.ConversationID == r.active && r.active != ""
}

// ApplyHistory replaces the log with a history page. It returns false and leaves
// the log untouched when the ticket is stale, i.e. the agent moved to another
// conversation (or reloaded) after the request was issued.
//
// Newest-first pages are reversed here, once. Live inserts that arrived while the
// request was in flight and are not part of the page are kept after it.
func (r *Reconciler) ApplyHistory(t Ticket, items []chat.Message) bool {
	if !r.Current(t) {
		return false
	}
	page := lo.Filter(items, func(m chat.Message, _ int) bool {
		return m.ConversationID == "" || m.ConversationID == r.active
	})
	if r.order == NewestFirst {
		page = lo.Reverse(page)
	}

	pending := r.pending
	r.reset()
	r.loading = false
	for _, m := range page {
		r.append(m)
	}
	for _, m := range pending {
		if m.ID.Defined() && r.has(m.ID) {
			continue
		}
		r.append(m)
	}
	return true
}

// ApplyInsert appends a live message if it belongs to the active conversation and
// is not a duplicate by id. Messages for other conversations are dropped, never
// queued.
func (r *Reconciler) ApplyInsert(m chat.Message) InsertResult {
	if r.active == "" {
		return NoSelection
	}
	if m.ConversationID != r.active {
		return OtherConversation
	}
	if m.ID.Defined() && r.has(m.ID) {
		return Duplicate
	}
	if r.loading {
		// remembered so the history replace does not lose it
		r.pending = append(r.pending, m)
	}
	r.append(m)
	return Appended
}

// Fail marks the in-flight request for t as finished without data.
func (r *Reconciler) Fail(t Ticket) bool {
	if !r.Current(t) {
		return false
	}
	r.loading = false
	r.pending = nil
	return true
}

// Clear drops the selection and the log.
func (r *Reconciler) Clear() {
	r.generation++
	r.active = ""
	r.loading = false
	r.reset()
}

func (r *Reconciler) Active() string {
	return r.active
}

func (r *Reconciler) Loading() bool {
	return r.loading
}

func (r *Reconciler) Len() int {
	return len(r.log)
}

// Messages returns a copy of the log, oldest first.
func (r *Reconciler) Messages() []chat.Message {
	return append([]chat.Message(nil), r.log...)
}

func (r *Reconciler) append(m chat.Message) {
	r.log = append(r.log, m)
	if m.ID.Defined() {
		r.ids[m.ID] = struct{}{}
	}
}

func (r *Reconciler) has(id chat.MessageID) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *Reconciler) reset() {
	r.log = nil
	r.pending = nil
	r.ids = map[chat.MessageID]struct{}{}
}
