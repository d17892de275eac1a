package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattjoyce/bellhop/internal/chat"
	"github.com/mattjoyce/bellhop/internal/config"
	"github.com/mattjoyce/bellhop/internal/dispatch"
	"github.com/mattjoyce/bellhop/internal/log"
	"github.com/mattjoyce/bellhop/internal/oauth"
	"github.com/mattjoyce/bellhop/internal/server"
	"github.com/mattjoyce/bellhop/internal/store"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("bellhop", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	showVersion := fs.Bool("version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("bellhop version %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")

	fingerprint, err := config.Fingerprint(*configPath)
	if err != nil {
		logger.Warn("could not fingerprint config", "error", err)
	}
	logger.Info("bellhop starting",
		"version", version,
		"config", *configPath,
		"config_fingerprint", fingerprint,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer cleanup()

	messenger := chat.NewClient()
	registry := buildRegistry()

	var resolver dispatch.TokenResolver
	var flow *oauth.Flow
	if cfg.OAuth != nil {
		resolver = dispatch.ResolverFromStore(stores.installs)
		flow = oauth.New(oauth.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURI:  cfg.OAuth.RedirectURI,
			Scopes:       cfg.OAuth.Scopes,
			UserScopes:   cfg.OAuth.UserScopes,
			AuthorizeURL: cfg.OAuth.AuthorizeURL,
			TokenURL:     cfg.OAuth.TokenURL,
			StateTTL:     cfg.OAuth.StateTTL,
		}, stores.states, stores.installs, nil)
	} else {
		resolver = dispatch.StaticToken(cfg.Slack.BotToken)
	}

	pipeline := dispatch.NewPipeline(registry, resolver, messenger, cfg.Service.AckTimeout)

	srvCfg := server.Config{
		Listen:        cfg.Service.Listen,
		SigningSecret: cfg.Slack.SigningSecret,
		MaxBodySize:   cfg.Service.MaxBodySize,
	}
	if cfg.OAuth != nil {
		srvCfg.SuccessURL = cfg.OAuth.SuccessURL
		srvCfg.DeniedURL = cfg.OAuth.DeniedURL
	}
	srv := server.New(srvCfg, pipeline, flow, log.WithComponent("server"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("server exited", "error", err)
		return 1
	}
	logger.Info("bellhop stopped")
	return 0
}

type storePair struct {
	states   store.StateStore
	installs store.InstallationStore
}

// openStores selects SQLite when a state path is configured, otherwise the
// in-memory reference store.
func openStores(ctx context.Context, cfg *config.Config) (storePair, func(), error) {
	if cfg.State.Path == "" {
		mem := store.NewMemory()
		return storePair{states: mem, installs: mem}, func() {}, nil
	}
	db, err := store.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return storePair{}, nil, err
	}
	return storePair{states: db, installs: db}, func() { _ = db.Close() }, nil
}

// buildRegistry wires the reference listeners. The registry is frozen here,
// before the server accepts its first request.
func buildRegistry() *dispatch.Registry {
	b := dispatch.NewBuilder()

	b.Use(func(c *dispatch.Context, next dispatch.Next) error {
		c.Logger.Debug("dispatching", "match_key", c.Event.MatchKey())
		return next(c)
	})

	b.OnCommand("/echo", func(c *dispatch.Context) error {
		text := strings.TrimSpace(c.Event.Command.Text)
		if text == "" {
			c.Ack.Ephemeral("Nothing to echo.")
			return nil
		}
		c.Ack.InChannel(text)
		return nil
	})

	b.OnAppMention(func(c *dispatch.Context) error {
		c.Ack.Empty()
		return c.Say("You rang?")
	})

	b.OnAction("approve_*", func(c *dispatch.Context) error {
		c.Ack.Empty()
		c.Logger.Info("approval action received",
			"action_id", c.Event.Action.ActionID,
			"value", c.Event.Action.Value,
		)
		return nil
	})

	return b.Build()
}
