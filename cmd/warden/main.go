// warden - RCON command and control for game servers
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/ernie/warden/internal/api"
	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/authz"
	"github.com/ernie/warden/internal/breaker"
	"github.com/ernie/warden/internal/collector"
	"github.com/ernie/warden/internal/config"
	"github.com/ernie/warden/internal/dispatch"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/engine"
	"github.com/ernie/warden/internal/fanout"
	"github.com/ernie/warden/internal/logger"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/warden/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("warden %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: warden <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the RCON backend")
	fmt.Println("  user add [--group G]... [--guid GUID] <username>")
	fmt.Println("                                      Add a user (prompts for password)")
	fmt.Println("  user remove <username>              Remove a user")
	fmt.Println("  user list                           List all users")
	fmt.Println("  user groups <username> <group>...   Replace a user's groups")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/warden/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  warden serve --config /etc/warden/config.yml")
	fmt.Println("  warden user add --group owner alice")
	fmt.Println("  warden user groups bob moderator")
}

// loadConfig resolves the config path, falling back to the default location
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return nil, fmt.Errorf("no config file found at %s, use --config to specify one", defaultConfigPath)
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}

// cmdServe starts the backend and blocks until SIGINT or SIGTERM
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})

	if err := serve(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func serve(cfg *config.Config) error {
	log.Info().Str("version", version).Msg("Warden starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	if err := store.Seed(ctx, dispatch.DefaultCommands()); err != nil {
		return err
	}
	if err := store.SeedServers(ctx, serverTargets(cfg.Servers)); err != nil {
		return err
	}

	// Event fan-out
	hub := fanout.NewHub(fanout.HubOptions{
		RingSize:       cfg.Fanout.RingSize,
		ClientBuffer:   cfg.Fanout.ClientBuffer,
		PingInterval:   cfg.Fanout.PingInterval,
		MaxMissedPongs: cfg.Fanout.MaxMissedPongs,
	})
	defer hub.Close()
	webhooks := fanout.NewWebhooks(store, fanout.WebhookOptions{
		Workers:       cfg.Fanout.WebhookWorkers,
		RetryInterval: cfg.Fanout.RetryInterval,
	})
	webhooks.Start(ctx)
	defer webhooks.Stop()
	pub := fanout.NewPublisher(hub, webhooks)

	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		ns, err := fanout.StartEmbeddedNATS("127.0.0.1", cfg.NATS.EmbeddedPort)
		if err != nil {
			return err
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
	}
	if natsURL != "" {
		sink, err := fanout.NewNATSSink(natsURL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer sink.Close()
		pub.Attach(sink)
	}

	// Connections and live state
	manager := rcon.NewManager(rcon.UDPDialer{}, rcon.Options{
		CommandTimeout: cfg.Rcon.CommandTimeout,
		ConnectTimeout: cfg.Rcon.ConnectTimeout,
		BackoffBase:    cfg.Rcon.BackoffBase,
		BackoffMax:     cfg.Rcon.BackoffMax,
		MaxAttempts:    cfg.Rcon.MaxAttempts,
	}, pub)
	defer manager.Stop()

	processor := collector.NewProcessor(manager, store, pub, collector.Options{
		ChatPrefix:   cfg.Dispatch.ChatPrefix,
		ChatMaxLen:   cfg.Dispatch.ChatMaxLen,
		PollInterval: cfg.Rcon.PollInterval,
	})
	defer processor.Stop()

	// Command pipeline
	br := breaker.New(breaker.Config{
		Window:             cfg.Breaker.Window,
		AggregateThreshold: cfg.Breaker.AggregateThreshold,
		ActorThreshold:     cfg.Breaker.ActorThreshold,
		Cooldown:           cfg.Breaker.Cooldown,
		SweepInterval:      cfg.Breaker.SweepInterval,
		Watched:            cfg.Breaker.WatchedCommands,
	}, store, pub)
	if err := br.Load(ctx); err != nil {
		return err
	}

	acquire := func(ctx context.Context, serverID int64) (dispatch.Executor, error) {
		s, err := manager.Acquire(ctx, serverID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	dispatcher := dispatch.NewDispatcher(acquire,
		dispatch.PlayerMatcher{Strategy: dispatch.MatchStrategy(cfg.Dispatch.MatchStrategy)}, store)

	eng := engine.New(dispatch.NewRegistry(), authz.New(br), br,
		breaker.NewThrottle(cfg.Breaker.ThrottleCooldown), dispatcher, store, processor, pub)
	if err := eng.Load(ctx); err != nil {
		return err
	}
	eng.Start(ctx)
	processor.SetChatHandler(eng)

	servers, err := store.ListActiveServers(ctx)
	if err != nil {
		return err
	}
	for _, srv := range servers {
		manager.Upsert(srv)
		processor.Watch(ctx, srv)
	}
	log.Info().Int("servers", len(servers)).Msg("Watching servers")

	go store.RunArchiver(ctx, cfg.Database.AuditRetention, cfg.Database.ArchiveDir, time.Hour)

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	router := api.NewRouter(ctx, api.Deps{
		Store:     store,
		Engine:    eng,
		Breaker:   br,
		Conns:     manager,
		Live:      processor,
		Hub:       hub,
		Webhooks:  webhooks,
		Auth:      authService,
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
	})

	addr := cfg.HTTP.ListenAddr + ":" + strconv.Itoa(cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	cancel()
	log.Info().Msg("Shutdown complete")
	return nil
}

// serverTargets converts configured servers to targets for seeding
func serverTargets(servers []config.GameServer) []domain.ServerTarget {
	out := make([]domain.ServerTarget, 0, len(servers))
	for _, s := range servers {
		out = append(out, domain.ServerTarget{
			Name:         s.Name,
			Host:         s.Host,
			RconPort:     s.RconPort,
			RconPassword: s.RconPassword,
			GameLogPath:  s.LogPath,
			MaxPlayers:   s.MaxPlayers,
			IsActive:     true,
			IsDefault:    s.Default,
		})
	}
	return out
}
