package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/quorumline/internal/config"
	"github.com/danmuck/quorumline/internal/events"
	"github.com/danmuck/quorumline/internal/logging"
	"github.com/danmuck/quorumline/internal/monitor"
	"github.com/danmuck/quorumline/internal/observability"
	"github.com/danmuck/quorumline/internal/relay"
	"github.com/danmuck/quorumline/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "quorumd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("quorumd", flag.ContinueOnError)
	fs.SetOutput(stdout)
	path := fs.String("config", "quorumd.toml", "config path (.toml, .yaml, .yml, or legacy .json)")
	tui := fs.Bool("tui", false, "show the terminal monitor")
	logFile := fs.String("log-file", "", "append logs to this file instead of stderr")
	initKind := fs.String("init", "", "write a starter config of kind toml|yaml to -config and exit")
	force := fs.Bool("force", false, "overwrite an existing config with -init")
	validate := fs.Bool("validate", false, "load and validate -config, then exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *initKind != "" {
		if err := config.WriteTemplate(*path, *initKind, *force); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s config to %s\n", *initKind, *path)
		return nil
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if *validate {
		fmt.Fprintf(stdout, "validated config %s: producers=%d listen=%s\n", *path, len(cfg.Service.Producers), cfg.Service.ListenAddr)
		return nil
	}

	var logOut io.Writer
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	} else if *tui {
		logOut = io.Discard
	}
	logging.ConfigureTo(logging.ProfileRuntime, logOut)
	log.Logger = observability.WithApp(log.Logger, "quorumd")

	var feed *events.Channel
	if *tui {
		feed = events.NewChannel(1024)
		cfg.Service.Sink = feed
	}
	svc, err := relay.NewServiceWithConfig(cfg.Service)
	if err != nil {
		return err
	}
	if cfg.Admin.Addr != "" {
		svc.Attach("admin", server.New(cfg.Admin, svc).Run)
	}
	if feed != nil {
		svc.Attach("monitor", func(ctx context.Context) error {
			return monitor.Run(ctx, svc.Status, feed.C())
		})
	}

	log.Info().
		Str("config", *path).
		Str("listen_addr", cfg.Service.ListenAddr).
		Str("admin_addr", cfg.Admin.Addr).
		Int("producers", len(cfg.Service.Producers)).
		Str("producer_key", string(cfg.Service.KeyMode)).
		Msg("quorumd starting")
	return svc.Run()
}
