package cmds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/inbox/pkg/chat/api"
	"github.com/go-go-golems/inbox/pkg/chat/console"
	"github.com/go-go-golems/inbox/pkg/chat/metrics"
	"github.com/go-go-golems/inbox/pkg/chat/reconciler"
	"github.com/go-go-golems/inbox/pkg/chat/transport"
	"github.com/go-go-golems/inbox/pkg/eventbus"
)

func NewRunCommand(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the live gateway and work the inbox from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConsole(ctx, app, cmd.InOrStdin(), cmd.OutOrStdout(), yes)
		},
	}
	cmd.Flags().String("status", "OPEN", "conversation status to list (OPEN or CLOSED)")
	cmd.Flags().String("phone", "", "only list conversations for this customer phone")
	cmd.Flags().Bool("metrics", false, "serve Prometheus metrics")
	cmd.Flags().String("metrics-addr", ":9464", "metrics listen address")
	cmd.Flags().Bool("redis", false, "publish console updates to Redis Streams")
	cmd.Flags().String("redis-addr", "localhost:6379", "Redis address")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "close conversations without asking")
	return cmd
}

func runConsole(ctx context.Context, app *App, in io.Reader, out io.Writer, yes bool) error {
	s := app.Settings()

	id, err := app.Identity(ctx)
	if err != nil {
		return err
	}
	client, err := app.Client(id)
	if err != nil {
		return err
	}
	tcfg, err := s.Transport()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if s.Redis.Enabled {
		if err := eventbus.EnsureGroupAtTail(ctx, s.Redis); err != nil {
			return errors.Wrap(err, "prepare redis stream")
		}
	}
	bus, err := eventbus.New(s.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	query := api.ConversationQuery{
		Status: s.Status(),
		Limit:  s.API.PageSize,
		Phone:  s.Console.Phone,
	}
	con, err := console.New(client, transport.NewManager(tcfg, m), id,
		console.WithPublisher(bus),
		console.WithMetrics(m),
		console.WithHistoryOrder(reconciler.HistoryOrder(s.API.HistoryOrder)),
		console.WithHistoryLimit(s.API.HistoryLimit),
		console.WithInitialQuery(query),
		console.WithNoticeLimit(s.Console.NoticeLimit),
	)
	if err != nil {
		return err
	}

	log.Info().
		Str("api", s.API.BaseURL).
		Str("socket", tcfg.URL).
		Str("agent", id.Label()).
		Msg("starting inbox console")
	_, _ = fmt.Fprintln(out, "type /help for commands")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return con.Run(gctx)
	})
	g.Go(func() error {
		printUpdates(gctx, updates, out)
		return nil
	})
	if s.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, s.Metrics.Addr, reg)
		})
	}
	g.Go(func() error {
		defer cancel()
		driver := NewDriver(con, out, query, s.Console.ConfirmClose && !yes)
		return driver.Run(gctx, in)
	})
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// printUpdates writes what the agent needs to see as the console changes: new
// messages in the open conversation, notices and connection changes.
func printUpdates(ctx context.Context, updates <-chan eventbus.Update, out io.Writer) {
	p := &updatePrinter{out: out}
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := p.handle(u); err != nil {
				log.Debug().Err(err).Str("kind", string(u.Kind)).Msg("skipping update")
			}
		}
	}
}

type updatePrinter struct {
	out          io.Writer
	conversation string
	printed      int
	connection   transport.State
}

func (p *updatePrinter) handle(u eventbus.Update) error {
	switch u.Kind {
	case eventbus.KindMessages:
		var mu console.MessagesUpdate
		if err := u.Decode(&mu); err != nil {
			return err
		}
		if mu.ConversationID != p.conversation || len(mu.Messages) < p.printed {
			p.conversation = mu.ConversationID
			p.printed = 0
		}
		if mu.Loading && len(mu.Messages) == 0 {
			return nil
		}
		for _, m := range mu.Messages[p.printed:] {
			renderMessage(p.out, m)
		}
		p.printed = len(mu.Messages)
	case eventbus.KindSelection:
		var su console.SelectionUpdate
		if err := u.Decode(&su); err != nil {
			return err
		}
		if su.ConversationID == "" {
			_, _ = fmt.Fprintln(p.out, "-- no conversation open")
		} else {
			_, _ = fmt.Fprintf(p.out, "-- conversation %s\n", su.ConversationID)
		}
	case eventbus.KindNotice:
		var n console.Notice
		if err := u.Decode(&n); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(p.out, "(%s) %s\n", strings.ToUpper(string(n.Level)), n.Text)
	case eventbus.KindConnection:
		var cu console.ConnectionUpdate
		if err := u.Decode(&cu); err != nil {
			return err
		}
		if cu.State != p.connection && cu.State != transport.StateConnecting {
			_, _ = fmt.Fprintf(p.out, "-- %s\n", cu.State)
		}
		p.connection = cu.State
	case eventbus.KindDirectory:
		var du console.DirectoryUpdate
		if err := u.Decode(&du); err != nil {
			return err
		}
		log.Debug().Int("conversations", len(du.Conversations)).Str("filter", string(du.Filter)).Msg("conversation list updated")
	}
	return nil
}
