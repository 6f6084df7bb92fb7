package cmds

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/go-go-golems/inbox/pkg/chat"
)

func renderConversations(w io.Writer, items []chat.Conversation) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Customer", "Phone", "Status", "Last message", "Created"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, c := range items {
		table.Append([]string{
			c.ID,
			c.CustomerName,
			c.CustomerPhone,
			string(c.Status),
			formatTime(c.LastMessageAt),
			formatTime(c.CreatedAt),
		})
	}
	table.Render()
}

func renderMessage(w io.Writer, m chat.Message) {
	sender := "customer"
	if m.SenderType == chat.SenderAgent {
		sender = "agent"
		if m.SenderName != nil && *m.SenderName != "" {
			sender = *m.SenderName
		}
	}
	_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), sender, m.Text)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
