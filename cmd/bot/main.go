package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventmanager/internal/config"
	"eventmanager/internal/logging"
	"eventmanager/internal/microservices/connector"
	"eventmanager/internal/microservices/dispatcher"
	"eventmanager/internal/microservices/gateway"
	"eventmanager/internal/microservices/health"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateBot(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("bot_exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildScheduledEvents

	rdb := openCache(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	gw := gateway.NewCachedGateway(gateway.NewDiscordGateway(session, logger), rdb, cfg.CacheTTL, logger)
	registerCacheInvalidation(session, gw, logger)

	handler := dispatcher.NewRequestHandler(gw,
		dispatcher.WithImageFetcher(dispatcher.NewHTTPImageFetcher(cfg.ImageFetchTimeout)),
		dispatcher.WithLogger(logger),
	)
	receiver := connector.NewReceiver(connector.ReceiverConfig{
		Addr:           cfg.ReceiverAddr(),
		ReadTimeout:    cfg.ReadTimeout,
		HandlerTimeout: cfg.RequestTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		Logger:         logger,
	}, handler)

	// the bot keeps running without its receiver; /check-conn reports it
	if err := receiver.Start(); err != nil {
		logger.Error("receiver_start_failed", "error", err.Error())
	} else {
		logger.Info("receiver_startup_complete", "addr", receiver.Addr())
	}

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info("bot_ready",
			"user", r.User.String(),
			"user_id", r.User.ID,
			"guilds", len(r.Guilds),
		)
	})
	if err := session.Open(); err != nil {
		stopReceiver(receiver, logger)
		return fmt.Errorf("failed to open gateway session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HealthPort > 0 {
		server := health.NewServer(fmt.Sprintf(":%d", cfg.HealthPort), receiver, logger)
		g.Go(func() error { return server.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received_shutdown_signal")
		return nil
	})
	runErr := g.Wait()

	stopReceiver(receiver, logger)
	if err := session.Close(); err != nil {
		logger.Warn("session_close_failed", "error", err.Error())
	}
	logger.Info("bot_stopped_gracefully")
	return runErr
}

func stopReceiver(receiver *connector.Receiver, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := receiver.Stop(ctx); err != nil {
		logger.Warn("receiver_stop_failed", "error", err.Error())
	}
}

// openCache returns nil when REDIS_URL is unset or Redis is unreachable.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	opts, err := cfg.RedisOptions()
	if err != nil {
		logger.Warn("gateway_cache_unavailable", "error", err.Error())
		return nil
	}
	if opts == nil {
		logger.Info("gateway_cache_disabled")
		return nil
	}
	rdb, err := gateway.OpenRedis(ctx, opts)
	if err != nil {
		logger.Warn("gateway_cache_unavailable", "redis_addr", opts.Addr, "error", err.Error())
		return nil
	}
	logger.Info("gateway_cache_enabled", "redis_addr", opts.Addr, "redis_db", opts.DB, "ttl", cfg.CacheTTL)
	return rdb
}

// registerCacheInvalidation drops cached snapshots when the platform reports
// a change. Members are not cached, and role permissions are read from the
// session state, which applies GUILD_ROLE_* events itself.
func registerCacheInvalidation(session *discordgo.Session, gw *gateway.CachedGateway, logger *slog.Logger) {
	invalidate := func(kind string, err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("cache_invalidation_failed", "kind", kind, "error", err.Error())
		}
	}
	session.AddHandler(func(s *discordgo.Session, e *discordgo.ChannelUpdate) {
		invalidate("channel", gw.InvalidateChannel(context.Background(), e.ID))
	})
	session.AddHandler(func(s *discordgo.Session, e *discordgo.ChannelDelete) {
		invalidate("channel", gw.InvalidateChannel(context.Background(), e.ID))
	})
	session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildUpdate) {
		invalidate("guild", gw.InvalidateGuild(context.Background(), e.ID))
	})
	session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildDelete) {
		invalidate("guild", gw.InvalidateGuild(context.Background(), e.ID))
	})
}
