package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zeusync/replication/internal/config"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/world"
	"github.com/zeusync/replication/internal/game"
	"github.com/zeusync/replication/internal/injector"
	"github.com/zeusync/replication/sdk/go/client"
)

type flags struct {
	config    string
	listen    string
	transport string
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "replication-server",
		Short:         "Runs an authoritative world and replicates it to clients.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "YAML or JSON config file")
	root.PersistentFlags().StringVarP(&f.listen, "listen", "l", "", "address to listen on or dial (overrides config)")
	root.PersistentFlags().StringVarP(&f.transport, "transport", "t", "", "quic or websocket (overrides config)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error or silent (overrides config)")

	var every time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Connects as a replica and periodically reports what it sees.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			return watchServer(cmd.Context(), cfg, every)
		},
	}
	watch.Flags().DurationVar(&every, "every", 2*time.Second, "report interval")
	root.AddCommand(watch)

	return root
}

// load reads the config file and applies flag overrides.
func (f *flags) load() (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return config.Config{}, err
	}
	if f.listen != "" {
		cfg.Protocol.Addr = f.listen
	}
	if f.transport != "" {
		t, err := protocol.ParseTransport(f.transport)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Protocol.Transport = t
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	srv, err := injector.InitializeServer(cfg)
	if err != nil {
		return errors.Wrap(err, "initialize server")
	}
	defer func() { _ = log.Provide().Sync() }()
	if err := srv.Listen(); err != nil {
		return err
	}
	return srv.Run(ctx)
}

func watchServer(ctx context.Context, cfg config.Config, every time.Duration) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	c := injector.InitializeClient(cfg)
	logger := log.Provide().Named("watch")
	defer func() { _ = logger.Sync() }()
	c.OnEvent(func(e client.Event) {
		logger.Info("Client event", log.String("event", string(e.Type)), log.Uint32("tick", e.Tick))
	})

	if err := c.Connect(ctx); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			var units, alive int
			_ = c.Do(ctx, func(w *world.World) {
				ids := game.Units(w)
				units = len(ids)
				for _, id := range ids {
					if h, ok := world.Get[game.Health](w, id); ok && h.HP > 0 {
						alive++
					}
				}
			})
			logger.Info("Replica state",
				log.Uint32("tick", c.LastApplied()),
				log.Int("units", units),
				log.Int("alive", alive),
				log.Duration("clock_offset", c.Clock().AvgOffset()),
				log.Duration("round_trip", c.Clock().RoundTripMean()))
		}
	}()

	return c.Run(ctx)
}
