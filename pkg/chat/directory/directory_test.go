package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/inbox/pkg/chat"
)

func conv(id string) chat.Conversation {
	return chat.Conversation{ID: id, Status: chat.StatusOpen, CustomerName: "customer " + id}
}

func TestDirectory_ApplyCreateIsIdempotent(t *testing.T) {
	d := New()
	d.Load(chat.StatusOpen, []chat.Conversation{conv("1")}, "")

	require.False(t, d.ApplyCreate(conv("1")))
	require.Equal(t, 1, d.Len())

	require.True(t, d.ApplyCreate(conv("2")))
	require.False(t, d.ApplyCreate(conv("2")))
	require.Equal(t, 2, d.Len())
}

func TestDirectory_ApplyCreateInsertsAtHead(t *testing.T) {
	d := New()
	d.Load(chat.StatusOpen, []chat.Conversation{conv("1"), conv("2")}, "")
	d.ApplyCreate(conv("3"))

	ids := []string{}
	for _, c := range d.List() {
		ids = append(ids, c.ID)
	}
	require.Equal(t, []string{"3", "1", "2"}, ids)
}

func TestDirectory_ApplyCreateIgnoresOtherStatus(t *testing.T) {
	d := New()
	c := conv("1")
	c.Status = chat.StatusClosed
	require.False(t, d.ApplyCreate(c))
	require.Equal(t, 0, d.Len())
}

func TestDirectory_LoadReplacesWholesale(t *testing.T) {
	d := New()
	d.Load(chat.StatusOpen, []chat.Conversation{conv("1"), conv("2")}, "")
	d.ApplyCreate(conv("9"))

	d.Load(chat.StatusOpen, []chat.Conversation{conv("4"), conv("4"), conv("5")}, "next")
	require.Equal(t, 2, d.Len())
	_, ok := d.Get("9")
	require.False(t, ok)
	require.Equal(t, "next", d.NextCursor())
}

func TestDirectory_ApplyMessageTouch(t *testing.T) {
	d := New()
	d.Load(chat.StatusOpen, []chat.Conversation{conv("9")}, "")
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.True(t, d.ApplyMessageTouch("9", t1))
	got, ok := d.Get("9")
	require.True(t, ok)
	require.Equal(t, t1, *got.LastMessageAt)
	require.Equal(t, "customer 9", got.CustomerName)

	// never moves backwards
	require.False(t, d.ApplyMessageTouch("9", t1.Add(-time.Minute)))
	got, _ = d.Get("9")
	require.Equal(t, t1, *got.LastMessageAt)

	require.False(t, d.ApplyMessageTouch("unknown", t1))
	require.Equal(t, 1, d.Len())
}

func TestDirectory_TouchDoesNotReorder(t *testing.T) {
	d := New()
	d.Load(chat.StatusOpen, []chat.Conversation{conv("1"), conv("2")}, "")
	d.ApplyMessageTouch("2", time.Now())
	require.Equal(t, "1", d.List()[0].ID)
}

func TestDirectory_Remove(t *testing.T) {
	d := New()
	d.Load(chat.StatusOpen, []chat.Conversation{conv("1"), conv("3")}, "")
	require.True(t, d.Remove("3"))
	require.False(t, d.Remove("3"))
	_, ok := d.Get("3")
	require.False(t, ok)
	require.Equal(t, 1, d.Len())
}

func TestDirectory_ListIsACopy(t *testing.T) {
	d := New()
	d.Load(chat.StatusOpen, []chat.Conversation{conv("1")}, "")
	l := d.List()
	l[0].CustomerName = "changed"
	got, _ := d.Get("1")
	require.Equal(t, "customer 1", got.CustomerName)
}
