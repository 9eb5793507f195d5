package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventmanager/internal/microservices/connector"
	"eventmanager/internal/microservices/gateway"

	"github.com/google/uuid"
)

// AuditReason is recorded in the guild audit log for every event created.
const AuditReason = "Created via VRCEventManager"

// RequestHandler executes one action per request against the gateway. It
// keeps no state between calls.
type RequestHandler struct {
	gateway  gateway.Gateway
	images   ImageFetcher
	now      func() time.Time
	location *time.Location
	logger   *slog.Logger
}

type Option func(*RequestHandler)

// WithClock replaces time.Now for the start-time rules.
func WithClock(now func() time.Time) Option {
	return func(h *RequestHandler) { h.now = now }
}

func WithImageFetcher(f ImageFetcher) Option {
	return func(h *RequestHandler) { h.images = f }
}

// WithLocation sets the zone used for timestamps that carry no offset.
func WithLocation(loc *time.Location) Option {
	return func(h *RequestHandler) { h.location = loc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *RequestHandler) { h.logger = logger }
}

func NewRequestHandler(gw gateway.Gateway, opts ...Option) *RequestHandler {
	h := &RequestHandler{
		gateway:  gw,
		now:      time.Now,
		location: time.Local,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.images == nil {
		h.images = NewHTTPImageFetcher(DefaultImageFetchTimeout)
	}
	return h
}

// Handle decodes payload and runs the requested action. Every outcome,
// including malformed input, is reported through the returned envelope.
func (h *RequestHandler) Handle(ctx context.Context, payload []byte) connector.Response {
	logger := h.logger.With("request_id", uuid.NewString())

	var req connector.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			logger.Warn("invalid_field", "field", typeErr.Field, "error", err.Error())
			return connector.Errorf("Invalid field %s", typeErr.Field)
		}
		logger.Warn("invalid_json", "error", err.Error())
		return connector.Error("Invalid JSON")
	}
	logger = logger.With("action", string(req.Action))
	logger.Debug("request_received")

	var resp connector.Response
	switch req.Action {
	case connector.ActionPing:
		resp = connector.OK("pong")
	case connector.ActionSendAnnouncement:
		resp = h.sendAnnouncement(ctx, logger, &req)
	case connector.ActionCreateEvent:
		resp = h.createEvent(ctx, logger, &req)
	case connector.ActionCheckAdmin:
		resp = h.checkAdmin(ctx, logger, &req)
	default:
		logger.Warn("unknown_action")
		resp = connector.Error("Unknown action")
	}

	if resp.IsOK() {
		logger.Debug("request_succeeded")
	} else {
		logger.Info("request_rejected", "reason", resp.Text())
	}
	return resp
}

func (h *RequestHandler) sendAnnouncement(ctx context.Context, logger *slog.Logger, req *connector.Request) connector.Response {
	if req.ChannelID == "" {
		return connector.Error("channel_id is required")
	}
	if !validID(req.ChannelID) {
		return connector.Error("Invalid field channel_id")
	}

	channel, err := h.gateway.Channel(ctx, req.ChannelID.String())
	if err != nil {
		logger.Error("channel_lookup_failed", "channel_id", req.ChannelID.String(), "error", err.Error())
		return connector.Error("Channel not found")
	}

	msg := gateway.OutgoingMessage{Content: req.Message}
	if req.Everyone {
		msg.Content = "@everyone\n " + req.Message
		msg.Mentions.Everyone = true
	}

	sent, err := h.gateway.SendMessage(ctx, channel.ID, msg)
	if err != nil {
		logger.Error("send_announcement_failed", "channel_id", channel.ID, "error", err.Error())
		return connector.Errorf("Failed to send announcement: %v", err)
	}
	return connector.OK(fmt.Sprintf("Announcement sent with ID %s", sent.ID))
}

func (h *RequestHandler) createEvent(ctx context.Context, logger *slog.Logger, req *connector.Request) connector.Response {
	switch {
	case req.GuildID == "":
		return connector.Error("guild_id is required")
	case !validID(req.GuildID):
		return connector.Error("Invalid field guild_id")
	case req.Name == "":
		return connector.Error("name is required")
	case req.Description == "":
		return connector.Error("description is required")
	}

	entityType := gateway.EntityExternal
	if req.EntityType != "" {
		parsed, ok := gateway.ParseEntityType(req.EntityType)
		if !ok {
			return connector.Error("Invalid entity_type")
		}
		entityType = parsed
	}

	// time rules come before any gateway or network call
	start, err := ParseEventTime(req.StartTime, h.location)
	if err != nil {
		return connector.Error("Invalid field start_time")
	}
	end, err := ParseEventTime(req.EndTime, h.location)
	if err != nil {
		return connector.Error("Invalid field end_time")
	}
	startAt, endAt, err := EventWindow(h.now(), start, end)
	if err != nil {
		return connector.Error("Invalid start_time; must be in the future")
	}

	params := gateway.EventParams{
		Name:        req.Name,
		Description: req.Description,
		Start:       startAt,
		End:         endAt,
		EntityType:  entityType,
		Reason:      AuditReason,
	}

	if entityType.NeedsChannel() {
		if req.ChannelID == "" {
			return connector.Error("channel_id is required for the specified entity type")
		}
		if !validID(req.ChannelID) {
			return connector.Error("Invalid field channel_id")
		}
		channel, err := h.gateway.Channel(ctx, req.ChannelID.String())
		if err != nil || !channel.HostsEvents() {
			if err != nil {
				logger.Warn("event_channel_lookup_failed", "channel_id", req.ChannelID.String(), "error", err.Error())
			}
			return connector.Error("Invalid channel for the specified entity type")
		}
		params.ChannelID = channel.ID
	} else {
		params.Location = req.Location
	}

	if req.ImageURI != "" {
		image, err := h.images.Fetch(ctx, req.ImageURI)
		if err != nil {
			logger.Warn("image_fetch_failed", "image_uri", req.ImageURI, "error", err.Error())
			return connector.Error("Failed to fetch image from URI")
		}
		params.Image = image
	}

	guild, err := h.gateway.Guild(ctx, req.GuildID.String())
	if err != nil {
		logger.Warn("guild_lookup_failed", "guild_id", req.GuildID.String(), "error", err.Error())
		return connector.Error("Guild not found")
	}

	event, err := h.gateway.CreateScheduledEvent(ctx, guild.ID, params)
	if err != nil {
		logger.Error("create_event_failed", "guild_id", guild.ID, "error", err.Error())
		return connector.Errorf("Failed to create event: %v", err)
	}
	logger.Info("event_created",
		"guild_id", guild.ID,
		"event_id", event.ID,
		"start", startAt,
		"end", endAt,
	)
	return connector.OK(fmt.Sprintf("Event %s created with ID %s", req.Name, event.ID))
}

func (h *RequestHandler) checkAdmin(ctx context.Context, logger *slog.Logger, req *connector.Request) connector.Response {
	switch {
	case req.UserID == "":
		return connector.Error("user_id is required")
	case !validID(req.UserID):
		return connector.Error("Invalid field user_id")
	case req.GuildID == "":
		return connector.Error("guild_id is required")
	case !validID(req.GuildID):
		return connector.Error("Invalid field guild_id")
	}

	guild, err := h.gateway.Guild(ctx, req.GuildID.String())
	if err != nil {
		logger.Warn("guild_lookup_failed", "guild_id", req.GuildID.String(), "error", err.Error())
		return connector.Error("Guild not found")
	}
	member, err := h.gateway.Member(ctx, guild.ID, req.UserID.String())
	if err != nil {
		logger.Warn("member_lookup_failed", "guild_id", guild.ID, "user_id", req.UserID.String(), "error", err.Error())
		return connector.Error("Member not found")
	}
	return connector.OK(AdminStatus{IsAdmin: member.IsAdmin()})
}

// AdminStatus is the check_admin result payload.
type AdminStatus struct {
	IsAdmin bool `json:"is_admin"`
}

func validID(id connector.Snowflake) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
