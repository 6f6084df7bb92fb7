package transport

import (
	"time"

	"github.com/go-go-golems/inbox/pkg/chat/wire"
)

type outboxEntry struct {
	Event      wire.EventName
	Frame      []byte
	EnqueuedAt time.Time
	Attempts   int
}

// Outbox is the bounded FIFO of frames waiting for a connection. Oldest entries
// are dropped on overflow; entries older than maxAge or written unsuccessfully
// more than maxAttempts times are dropped on the way out.
//
// Outbox does no locking of its own; the session guards it with its mutex.
type Outbox struct {
	max         int
	maxAge      time.Duration
	maxAttempts int
	entries     []outboxEntry
	now         func() time.Time
}

func NewOutbox(limit int, maxAge time.Duration, maxAttempts int) *Outbox {
	if limit <= 0 {
		limit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Outbox{
		max:         limit,
		maxAge:      maxAge,
		maxAttempts: maxAttempts,
		entries:     make([]outboxEntry, 0, limit),
		now:         time.Now,
	}
}

// Push appends a frame. It returns the entry evicted to make room, if any.
func (o *Outbox) Push(event wire.EventName, frame []byte) (outboxEntry, bool) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	o.entries = append(o.entries, outboxEntry{Event: event, Frame: cp, EnqueuedAt: o.now()})
	if len(o.entries) <= o.max {
		return outboxEntry{}, false
	}
	evicted := o.entries[0]
	o.entries = append([]outboxEntry(nil), o.entries[1:]...)
	return evicted, true
}

// Requeue puts back an entry whose write failed so it stays first in line.
// It returns false when the entry has used up its attempts and was dropped.
func (o *Outbox) Requeue(e outboxEntry) bool {
	e.Attempts++
	if e.Attempts >= o.maxAttempts {
		return false
	}
	o.entries = append([]outboxEntry{e}, o.entries...)
	if len(o.entries) > o.max {
		o.entries = o.entries[:o.max]
	}
	return true
}

// Pop returns the oldest entry that is still fresh, along with how many stale
// entries were discarded to reach it.
func (o *Outbox) Pop() (outboxEntry, int, bool) {
	expired := 0
	for len(o.entries) > 0 {
		e := o.entries[0]
		o.entries = o.entries[1:]
		if o.maxAge > 0 && o.now().Sub(e.EnqueuedAt) > o.maxAge {
			expired++
			continue
		}
		return e, expired, true
	}
	return outboxEntry{}, expired, false
}

func (o *Outbox) Len() int {
	return len(o.entries)
}
