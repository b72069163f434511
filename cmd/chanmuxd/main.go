// Package main is the entry point for chanmuxd, a multi-client
// channel-multiplexer server: it accepts WebSocket connections from
// any number of peers and offers them a shared set of channels (an
// "echo" channel). It does not itself route calls to connected peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/nugget/chanmux/internal/buildinfo"
	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/cluster"
	"github.com/nugget/chanmux/internal/config"
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

	logger.Info("starting chanmuxd", "version", buildinfo.Version, "commit", buildinfo.GitCommit)
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port)

	server := cluster.NewServer(logger)
	server.Register("echo", channel.ChannelFunc{
		CallFn: func(ctx context.Context, command string, arg any) (any, error) {
			return arg, nil
		},
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/chanmux", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		transport := wstransport.New(conn, logger)
		if err := server.HandleConnection(ctx, transport); err != nil {
			logger.Info("connection ended", "remote", r.RemoteAddr, "error", err)
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		_ = httpServer.Shutdown(context.Background())
	}()

	logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("chanmuxd stopped")
}
