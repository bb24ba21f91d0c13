// Radview Engine: serves the in-process DICOM engine to remote viewers.
//
// Usage:
//
//	radview-engine [flags]
//
// Flags:
//
//	--config    Config file (default: ~/.radview/config.yaml)
//	--network   unix or tcp
//	--listen    Socket path or host:port to listen on
//	--metrics   HTTP address for metrics (empty disables)
//	--workers   Concurrent header parsers
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/radview/internal/config"
	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/remote"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		srvCfg     = remote.DefaultConfig()
		workers    int
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:          "radview-engine",
		Short:        "Serve the DICOM engine over a local socket",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("listen") && cfg.Daemon.ListenAddr != "" {
				srvCfg.ListenAddr = cfg.Daemon.ListenAddr
			}
			if !flags.Changed("metrics") {
				srvCfg.MetricsAddr = cfg.Daemon.MetricsAddr
			}
			if !flags.Changed("network") && cfg.Engine.Network != "" {
				srvCfg.Network = cfg.Engine.Network
			}
			if !flags.Changed("workers") {
				workers = cfg.Engine.Workers
			}
			if !flags.Changed("log-level") {
				logLevel = cfg.Logging.Level
			}

			log, err := logging.NewLogger(cfg.Logging.Dir, logLevel)
			if err != nil {
				return err
			}
			defer log.Close()

			eng := engine.NewLocal(engine.LocalOptions{
				Workers:  workers,
				Throttle: cfg.Engine.Throttle,
				Logger:   log,
			})
			return serve(cmd, srvCfg, eng, log)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default is ~/.radview/config.yaml)")
	flags.StringVar(&srvCfg.Network, "network", srvCfg.Network, "unix or tcp")
	flags.StringVar(&srvCfg.ListenAddr, "listen", srvCfg.ListenAddr, "socket path or host:port")
	flags.StringVar(&srvCfg.MetricsAddr, "metrics", srvCfg.MetricsAddr, "metrics HTTP address (empty disables)")
	flags.IntVar(&workers, "workers", 4, "concurrent header parsers")
	flags.StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	return cmd
}

func serve(cmd *cobra.Command, srvCfg remote.Config, eng *engine.Local, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := remote.NewServer(srvCfg, eng, log)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting engine server: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  RADVIEW ENGINE")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Listen:  %s://%s\n", srvCfg.Network, srv.Addr())
	if srvCfg.MetricsAddr != "" {
		fmt.Fprintf(out, "  Metrics: http://%s/metrics\n", srvCfg.MetricsAddr)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Press Ctrl+C to stop.")
	fmt.Fprintln(out)

	<-ctx.Done()

	fmt.Fprintln(out, "\n  Shutting down gracefully...")
	err := srv.Stop()
	eng.Wait()
	if err != nil {
		log.Error("shutdown failed", "error", err)
		return err
	}
	fmt.Fprintln(out, "  Done.")
	return nil
}
