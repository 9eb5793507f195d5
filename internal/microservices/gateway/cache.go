package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 5 * time.Minute

// OpenRedis connects to Redis and verifies the connection. Unset timeouts
// get the defaults used for gateway lookups.
func OpenRedis(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// CachedGateway keeps JSON snapshots of channels and guilds in Redis in front
// of another Gateway. Members are not cached so the next admin check
// sees a role change. Writes always go to the
// inner gateway. A nil
// client turns the cache off; Redis failures fall through to the inner
// gateway.
type CachedGateway struct {
	inner  Gateway
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedGateway(inner Gateway, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedGateway {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedGateway{inner: inner, client: client, ttl: ttl, logger: logger}
}

func channelKey(channelID string) string { return "gateway:channel:" + channelID }
func guildKey(guildID string) string     { return "gateway:guild:" + guildID }

func (c *CachedGateway) Channel(ctx context.Context, channelID string) (*Channel, error) {
	return cached(ctx, c, channelKey(channelID), func() (*Channel, error) {
		return c.inner.Channel(ctx, channelID)
	})
}

func (c *CachedGateway) Guild(ctx context.Context, guildID string) (*Guild, error) {
	return cached(ctx, c, guildKey(guildID), func() (*Guild, error) {
		return c.inner.Guild(ctx, guildID)
	})
}

func (c *CachedGateway) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	return c.inner.Member(ctx, guildID, userID)
}

func (c *CachedGateway) SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error) {
	return c.inner.SendMessage(ctx, channelID, msg)
}

func (c *CachedGateway) CreateScheduledEvent(ctx context.Context, guildID string, params EventParams) (*ScheduledEvent, error) {
	return c.inner.CreateScheduledEvent(ctx, guildID, params)
}

// InvalidateChannel drops the cached snapshot of a channel.
func (c *CachedGateway) InvalidateChannel(ctx context.Context, channelID string) error {
	return c.invalidate(ctx, channelKey(channelID))
}

func (c *CachedGateway) InvalidateGuild(ctx context.Context, guildID string) error {
	return c.invalidate(ctx, guildKey(guildID))
}

func (c *CachedGateway) invalidate(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

func cached[T any](ctx context.Context, c *CachedGateway, key string, fetch func() (*T, error)) (*T, error) {
	if c.client == nil {
		return fetch()
	}

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return &v, nil
		}
		c.logger.Warn("cache_entry_corrupt", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache_get_failed", "key", key, "error", err.Error())
	}

	v, err := fetch()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("cache_set_failed", "key", key, "error", err.Error())
		}
	}
	return v, nil
}
