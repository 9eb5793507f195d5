package gateway

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a channel, guild or member does not exist or
// is not visible to the bot.
var ErrNotFound = errors.New("not found")

// Gateway is the slice of the chat platform the bot acts on. Lookups are
// cache-then-fetch; implementations decide where the cache lives.
type Gateway interface {
	Channel(ctx context.Context, channelID string) (*Channel, error)
	Guild(ctx context.Context, guildID string) (*Guild, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error)
	CreateScheduledEvent(ctx context.Context, guildID string, params EventParams) (*ScheduledEvent, error)
}

type ChannelKind int

const (
	ChannelKindOther ChannelKind = iota
	ChannelKindText
	ChannelKindVoice
	ChannelKindStage
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelKindText:
		return "text"
	case ChannelKindVoice:
		return "voice"
	case ChannelKindStage:
		return "stage"
	default:
		return "other"
	}
}

type Channel struct {
	ID      string      `json:"id"`
	GuildID string      `json:"guild_id"`
	Name    string      `json:"name"`
	Kind    ChannelKind `json:"kind"`
}

// HostsEvents reports whether scheduled events can be attached to the channel.
func (c *Channel) HostsEvents() bool {
	return c.Kind == ChannelKindVoice || c.Kind == ChannelKindStage
}

type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions int64  `json:"permissions"`
}

// PermissionAdministrator is the administrator bit of a role's permission set.
const PermissionAdministrator int64 = 1 << 3

func (r Role) IsAdministrator() bool {
	return r.Permissions&PermissionAdministrator != 0
}

// Member is a guild member with its roles already resolved.
type Member struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Roles   []Role `json:"roles"`
}

// IsAdmin is true when any of the member's roles carries the administrator bit.
func (m *Member) IsAdmin() bool {
	for _, role := range m.Roles {
		if role.IsAdministrator() {
			return true
		}
	}
	return false
}

// MentionPolicy controls which mention classes a message may trigger. The
// zero value suppresses all mentions.
type MentionPolicy struct {
	Everyone bool
}

type OutgoingMessage struct {
	Content  string
	Mentions MentionPolicy
}

type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

type EntityType string

const (
	EntityStageInstance EntityType = "stage_instance"
	EntityVoice         EntityType = "voice"
	EntityExternal      EntityType = "external"
)

// ParseEntityType maps a case-insensitive tag onto an EntityType.
func ParseEntityType(tag string) (EntityType, bool) {
	switch EntityType(strings.ToLower(strings.TrimSpace(tag))) {
	case EntityStageInstance:
		return EntityStageInstance, true
	case EntityVoice:
		return EntityVoice, true
	case EntityExternal:
		return EntityExternal, true
	}
	return "", false
}

// NeedsChannel reports whether the event is hosted in a guild channel rather
// than at a free-text location.
func (e EntityType) NeedsChannel() bool {
	return e == EntityStageInstance || e == EntityVoice
}

// EventParams describes a guild-only scheduled event. ChannelID is set for
// channel-hosted events and Location for external ones.
type EventParams struct {
	Name        string
	Description string
	Start       time.Time
	End         time.Time
	EntityType  EntityType
	ChannelID   string
	Location    string
	Image       []byte
	Reason      string // audit log entry
}

type ScheduledEvent struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
}
