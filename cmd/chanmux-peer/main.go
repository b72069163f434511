// Package main is the entry point for chanmux-peer, a single
// connection's worth of the protocol: it dials a chanmuxd server (or
// speaks the protocol over a child process's stdio) and offers one
// channel back, reconnecting automatically on disconnect.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/nugget/chanmux/internal/buildinfo"
	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/config"
	"github.com/nugget/chanmux/internal/connwatch"
	"github.com/nugget/chanmux/internal/muxpeer"
	"github.com/nugget/chanmux/internal/stdiotransport"
	"github.com/nugget/chanmux/internal/wstransport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	peerID := cfg.PeerID
	if peerID == "" {
		peerID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	echo := channel.ChannelFunc{
		CallFn: func(ctx context.Context, command string, arg any) (any, error) {
			return arg, nil
		},
	}

	if cfg.Stdio.Enabled {
		runStdio(ctx, logger, cfg, peerID, echo)
		return
	}

	if len(cfg.Peers) == 0 {
		logger.Error("no peers configured and stdio disabled; nothing to connect to")
		os.Exit(1)
	}

	mgr := connwatch.NewManager(logger)
	for _, p := range cfg.Peers {
		p := p
		mgr.Watch(ctx, connwatch.WatcherConfig{
			Name: p.Name,
			Dial: func(dialCtx context.Context) error {
				return dialAndServe(dialCtx, logger, p.URL, peerID, echo)
			},
			OnReady: func() { logger.Info("peer session established", "peer", p.Name) },
			OnDown:  func(err error) { logger.Warn("peer session ended", "peer", p.Name, "error", err) },
		})
	}

	<-ctx.Done()
	mgr.Stop()
	logger.Info("chanmux-peer stopped")
}

func dialAndServe(ctx context.Context, logger *slog.Logger, target, peerID string, echo channel.ChannelFunc) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse peer url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	transport := wstransport.New(conn, logger)
	p := muxpeer.New(peerID, transport, logger)
	p.Server.Register("echo", echo)
	defer p.Dispose()

	return p.Run(ctx)
}

func runStdio(ctx context.Context, logger *slog.Logger, cfg *config.Config, peerID string, echo channel.ChannelFunc) {
	transport := stdiotransport.New(stdiotransport.Config{
		Command: cfg.Stdio.Command,
		Args:    cfg.Stdio.Args,
		Logger:  logger,
	})
	if err := transport.Start(ctx); err != nil {
		logger.Error("failed to start stdio subprocess", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	p := muxpeer.New(peerID, transport, logger)
	p.Server.Register("echo", echo)
	defer p.Dispose()

	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("peer session ended", "error", err)
		os.Exit(1)
	}
	logger.Info("chanmux-peer stopped")
}
