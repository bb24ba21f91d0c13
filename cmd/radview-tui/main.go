// Radview TUI: the interactive terminal viewer.
//
// Usage:
//
//	radview-tui [flags] [PATH...]
//
// Paths given on the command line are loaded at startup.
//
// Flags:
//
//	--config   Config file (default: ~/.radview/config.yaml)
//	--engine   local or remote
//	--watch    Drop folder; files landing there are loaded
//	--serve    HTTP address for the websocket session feed
//	--db       History database (overrides history.db_path)
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/radview/internal/app"
	"github.com/Mr-Dark-debug/radview/internal/broadcast"
	"github.com/Mr-Dark-debug/radview/internal/config"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/tui"
	"github.com/Mr-Dark-debug/radview/internal/watch"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	engineMode string
	watchDir   string
	serveAddr  string
	dbPath     string
	noHistory  bool
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "radview-tui [PATH...]",
		Short:        "Interactive DICOM viewer session",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&o.configPath, "config", "c", "", "config file (default is ~/.radview/config.yaml)")
	flags.StringVar(&o.engineMode, "engine", "", "engine mode: local or remote (default engine.mode)")
	flags.StringVar(&o.watchDir, "watch", "", "drop folder to watch (default watch.dir)")
	flags.StringVar(&o.serveAddr, "serve", "", "websocket feed address (default broadcast.addr)")
	flags.StringVar(&o.dbPath, "db", "", "history database (overrides history.db_path)")
	flags.BoolVar(&o.noHistory, "no-history", false, "do not record loads")
	return cmd
}

// resolve loads the config file and applies flag overrides.
func (o options) resolve() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.engineMode != "" {
		cfg.Engine.Mode = o.engineMode
	}
	if o.watchDir != "" {
		cfg.Watch.Dir = o.watchDir
	}
	if o.serveAddr != "" {
		cfg.Broadcast.Addr = o.serveAddr
	}
	if o.dbPath != "" {
		cfg.History.DBPath = o.dbPath
	}
	if o.noHistory {
		cfg.History.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, paths []string) error {
	// The terminal belongs to the TUI, so logs only go to a file.
	log := logging.NopLogger()
	if cfg.Logging.Dir != "" {
		l, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer l.Close()
		log = l
	}

	v, err := app.Open(ctx, cfg, log)
	if err != nil {
		if cfg.Engine.Mode == config.ModeRemote {
			return fmt.Errorf("%w\nIs the engine running? Start it with: radview-engine", err)
		}
		return err
	}
	defer v.Close()

	opts := tui.Options{Controller: v.Controller, Bus: v.Bus, Logger: log}

	if cfg.Watch.Dir != "" {
		folder, err := watch.New(cfg.Watch.Dir, watch.Options{Debounce: cfg.Watch.Debounce, Logger: log})
		if err != nil {
			return err
		}
		folder.Start()
		defer folder.Stop()
		opts.Drops = folder.Batches()
		opts.DropDir = folder.Dir()
	}

	if cfg.Broadcast.Addr != "" {
		stopFeed, err := serveFeed(cfg.Broadcast.Addr, v, log)
		if err != nil {
			return err
		}
		defer stopFeed()
	}

	if len(paths) > 0 {
		files, err := watch.Collect(paths)
		if err != nil {
			return err
		}
		if err := v.Controller.LoadFiles(files); err != nil {
			return err
		}
	}

	p := tea.NewProgram(tui.NewModel(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

// serveFeed publishes session changes on addr and returns the func that
// shuts the feed down.
func serveFeed(addr string, v *app.Viewer, log *logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("serving session feed on %s: %w", addr, err)
	}

	hub := broadcast.NewHub(log)
	detach := hub.Attach(v.Controller)
	srv := &http.Server{
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("session feed stopped", "error", err)
		}
	}()
	log.Info("session feed listening", "addr", ln.Addr().String())

	return func() {
		detach()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Close()
		srv.Shutdown(ctx)
	}, nil
}
