package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventmanager/internal/microservices/connector"
)

var (
	// ErrBotUnavailable means the bot process could not be reached at all.
	ErrBotUnavailable = errors.New("bot connection unavailable")
	ErrNoChannel      = errors.New("channel_id is required when no default channel is configured")
)

// RemoteError is an error envelope returned by the bot.
type RemoteError struct {
	Action  connector.Action
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected by bot: %s", e.Action, e.Message)
}

// Sender is the connector client the service talks through.
type Sender interface {
	Do(ctx context.Context, req connector.Request) (*connector.Response, error)
	EnsureConnection(ctx context.Context) error
}

// AllowChecker answers whether a user is on the allow-list.
type AllowChecker interface {
	IsAllowed(ctx context.Context, userID string) (bool, error)
}

type Config struct {
	DefaultChannelID string
	RequestTimeout   time.Duration
	Logger           *slog.Logger
}

// Service is the web-tier side of the connector: it builds request
// envelopes, bounds each call with a timeout and turns transport failures
// and error envelopes into Go errors.
type Service struct {
	sender         Sender
	allow          AllowChecker
	defaultChannel string
	timeout        time.Duration
	logger         *slog.Logger
}

// NewService wires a sender and an optional allow-list.
func NewService(sender Sender, allow AllowChecker, cfg Config) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		sender:         sender,
		allow:          allow,
		defaultChannel: cfg.DefaultChannelID,
		timeout:        cfg.RequestTimeout,
		logger:         cfg.Logger,
	}
}

// Warmup makes a best-effort first connection. Failure is only logged; the
// next call connects lazily.
func (s *Service) Warmup(ctx context.Context) {
	if err := s.sender.EnsureConnection(ctx); err != nil {
		s.logger.Warn("initial_bot_connection_failed", "error", err.Error())
		return
	}
	s.logger.Info("bot_connection_ready")
}

// Call sends req and returns the bot's envelope unchanged, whatever its
// status. Only transport failures become errors.
func (s *Service) Call(ctx context.Context, req connector.Request) (*connector.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.sender.Do(ctx, req)
	if err != nil {
		var connErr *connector.ConnectionError
		if errors.As(err, &connErr) {
			s.logger.Error("bot_unavailable", "action", string(req.Action), "error", err.Error())
			return nil, fmt.Errorf("%w: %v", ErrBotUnavailable, err)
		}
		s.logger.Error("bot_call_failed", "action", string(req.Action), "error", err.Error())
		return nil, fmt.Errorf("%s: %w", req.Action, err)
	}
	return resp, nil
}

// call is Call with error envelopes turned into *RemoteError.
func (s *Service) call(ctx context.Context, req connector.Request) (*connector.Response, error) {
	resp, err := s.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, &RemoteError{Action: req.Action, Message: resp.Text()}
	}
	return resp, nil
}

func (s *Service) Ping(ctx context.Context) error {
	_, err := s.call(ctx, connector.Request{Action: connector.ActionPing})
	return err
}

type Announcement struct {
	ChannelID string // empty selects the default channel
	Message   string
	Everyone  bool
}

// SendAnnouncement posts a message and returns the bot's confirmation.
func (s *Service) SendAnnouncement(ctx context.Context, a Announcement) (string, error) {
	channelID := a.ChannelID
	if channelID == "" {
		channelID = s.defaultChannel
	}
	if channelID == "" {
		return "", ErrNoChannel
	}

	resp, err := s.call(ctx, connector.Request{
		Action:    connector.ActionSendAnnouncement,
		ChannelID: connector.Snowflake(channelID),
		Message:   a.Message,
		Everyone:  a.Everyone,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

type Event struct {
	GuildID     string
	ChannelID   string
	Name        string
	Description string
	Start       *time.Time
	End         *time.Time
	EntityType  string
	Location    string
	ImageURI    string
}

// CreateEvent schedules an event and returns the bot's confirmation.
func (s *Service) CreateEvent(ctx context.Context, e Event) (string, error) {
	req := connector.Request{
		Action:      connector.ActionCreateEvent,
		GuildID:     connector.Snowflake(e.GuildID),
		ChannelID:   connector.Snowflake(e.ChannelID),
		Name:        e.Name,
		Description: e.Description,
		EntityType:  e.EntityType,
		Location:    e.Location,
		ImageURI:    e.ImageURI,
	}
	if e.Start != nil {
		req.StartTime = e.Start.Format(time.RFC3339)
	}
	if e.End != nil {
		req.EndTime = e.End.Format(time.RFC3339)
	}

	resp, err := s.call(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (s *Service) CheckAdmin(ctx context.Context, guildID, userID string) (bool, error) {
	resp, err := s.call(ctx, connector.Request{
		Action:  connector.ActionCheckAdmin,
		GuildID: connector.Snowflake(guildID),
		UserID:  connector.Snowflake(userID),
	})
	if err != nil {
		return false, err
	}
	var status struct {
		IsAdmin bool `json:"is_admin"`
	}
	if err := resp.DecodeMessage(&status); err != nil {
		return false, fmt.Errorf("%w: %v", connector.ErrInvalidResponse, err)
	}
	return status.IsAdmin, nil
}

// IsUserAllowed passes allow-listed users and otherwise asks the bot whether
// the user administers the guild.
func (s *Service) IsUserAllowed(ctx context.Context, userID, guildID string) (bool, error) {
	if s.allow != nil {
		allowed, err := s.allow.IsAllowed(ctx, userID)
		if err != nil {
			s.logger.Warn("allow_list_check_failed", "user_id", userID, "error", err.Error())
		} else if allowed {
			return true, nil
		}
	}
	if guildID == "" {
		return false, nil
	}
	return s.CheckAdmin(ctx, guildID, userID)
}
