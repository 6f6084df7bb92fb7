package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/api"
	"github.com/go-go-golems/inbox/pkg/chat/console"
)

// Console is the part of *console.Console the terminal driver uses.
type Console interface {
	LoadDirectory(ctx context.Context, q api.ConversationQuery) error
	Select(ctx context.Context, conversationID string) error
	Send(ctx context.Context, text string) error
	CloseConversation(ctx context.Context, conversationID string) error
	Snapshot(ctx context.Context) (console.Snapshot, error)
}

const driverHelp = `commands:
  /list                 show conversations
  /select <id>          open a conversation (alias /open)
  /leave                clear the selection
  /show                 print the open conversation
  /close [id]           close a conversation (default: the open one)
  /status <OPEN|CLOSED> reload the list with another status
  /reload               reload the list
  /help                 this text
  /quit                 exit
anything else is sent to the open conversation`

// Driver turns lines typed by the agent into console operations.
type Driver struct {
	console Console
	out     io.Writer
	query   api.ConversationQuery
	confirm bool

	lines chan string
}

func NewDriver(c Console, out io.Writer, query api.ConversationQuery, confirmClose bool) *Driver {
	return &Driver{console: c, out: out, query: query, confirm: confirmClose}
}

// Run reads commands from in until /quit, end of input or ctx is done.
func (d *Driver) Run(ctx context.Context, in io.Reader) error {
	d.lines = make(chan string)
	go func() {
		defer close(d.lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case d.lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-d.lines:
			if !ok {
				return nil
			}
			quit, err := d.Execute(ctx, line)
			if err != nil {
				_, _ = fmt.Fprintf(d.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs one command line. It reports whether the agent asked to quit.
func (d *Driver) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, d.console.Send(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		_, _ = fmt.Fprintln(d.out, driverHelp)
		return false, nil
	case "/list":
		s, err := d.console.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		renderConversations(d.out, s.Conversations)
		return false, nil
	case "/select", "/open":
		if len(args) != 1 {
			return false, errors.New("usage: /select <id>")
		}
		return false, d.console.Select(ctx, args[0])
	case "/leave":
		return false, d.console.Select(ctx, "")
	case "/show":
		s, err := d.console.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		if s.Selected == "" {
			_, _ = fmt.Fprintln(d.out, "no conversation open")
			return false, nil
		}
		for _, m := range s.Messages {
			renderMessage(d.out, m)
		}
		return false, nil
	case "/close":
		return false, d.close(ctx, args)
	case "/status":
		if len(args) != 1 {
			return false, errors.New("usage: /status <OPEN|CLOSED>")
		}
		st := chat.ConversationStatus(strings.ToUpper(args[0]))
		if !st.Valid() {
			return false, errors.Errorf("unknown status %q", args[0])
		}
		d.query.Status = st
		d.query.Cursor = ""
		return false, d.console.LoadDirectory(ctx, d.query)
	case "/reload":
		return false, d.console.LoadDirectory(ctx, d.query)
	default:
		return false, errors.Errorf("unknown command %s, try /help", cmd)
	}
}

func (d *Driver) close(ctx context.Context, args []string) error {
	id := ""
	if len(args) > 0 {
		id = args[0]
	} else {
		s, err := d.console.Snapshot(ctx)
		if err != nil {
			return err
		}
		id = s.Selected
	}
	if id == "" {
		return errors.New("no conversation open, use /close <id>")
	}
	if d.confirm {
		ok, err := d.askClose(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(d.out, "close cancelled")
			return nil
		}
	}
	return d.console.CloseConversation(ctx, id)
}

// askClose reuses the command line stream so the prompt and the driver never
// read stdin concurrently.
func (d *Driver) askClose(ctx context.Context, id string) (bool, error) {
	ui := &input.UI{
		Writer: d.out,
		Reader: &lineReader{ctx: ctx, lines: d.lines},
	}
	answer, err := ui.Ask(fmt.Sprintf("Close conversation %s? [y/N]", id), &input.Options{
		Default:     "n",
		Loop:        true,
		HideDefault: true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "yes", "n", "no", "":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get confirmation")
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// lineReader serves one queued command line per Read.
type lineReader struct {
	ctx   context.Context
	lines <-chan string
}

func (r *lineReader) Read(p []byte) (int, error) {
	if r.lines == nil {
		return 0, io.EOF
	}
	select {
	case line, ok := <-r.lines:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, line+"\n"), nil
	case <-r.ctx.Done():
		return 0, io.EOF
	}
}
