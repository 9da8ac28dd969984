package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jeux-go/jeux/internal/config"
	"github.com/jeux-go/jeux/internal/gameserver"
	"github.com/jeux-go/jeux/internal/model"
)

const defaultConfigPath = "config/jeux.yaml"

func main() {
	flags := pflag.NewFlagSet("jeux", pflag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	port := flags.IntP("port", "p", 0, "TCP port to listen on (required)")
	cfgPath := flags.StringP("config", "c", defaultConfigPath, "path to YAML config")

	usage := func() {
		fmt.Printf("usage: %s -p <port> [-c <config>]\n", os.Args[0])
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		usage()
		return
	}
	if *port == 0 {
		usage()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Peer-closed sockets surface as write errors, not signals.
	signal.Ignore(syscall.SIGPIPE)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, *port, *cfgPath); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, port int, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("jeux server starting",
		"port", port,
		"bind", cfg.BindAddress,
		"max_clients", cfg.MaxClients,
		"ws_port", cfg.WSPort,
		"log_level", cfg.LogLevel)

	players := model.NewPlayerRegistry()
	clients := gameserver.NewClientRegistry(cfg.MaxClients, cfg.WriteTimeout.Std(), slog.Default())
	srv := gameserver.NewServer(clients, players, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(port))
		return srv.Run(gctx, addr)
	})
	if cfg.WSPort > 0 {
		g.Go(func() error {
			addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.WSPort))
			return srv.RunWS(gctx, addr)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	players.Finalize(slog.Default())
	slog.Info("jeux server stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
