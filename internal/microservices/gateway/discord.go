package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// DiscordGateway serves lookups from the session state cache and falls back
// to the REST API on a miss.
type DiscordGateway struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func NewDiscordGateway(session *discordgo.Session, logger *slog.Logger) *DiscordGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordGateway{session: session, logger: logger}
}

func (g *DiscordGateway) Channel(ctx context.Context, channelID string) (*Channel, error) {
	if st := g.session.State; st != nil {
		if ch, err := st.Channel(channelID); err == nil {
			return toChannel(ch), nil
		}
	}
	ch, err := g.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, translate(err))
	}
	g.logger.Debug("channel_fetched", "channel_id", channelID)
	return toChannel(ch), nil
}

func (g *DiscordGateway) Guild(ctx context.Context, guildID string) (*Guild, error) {
	if st := g.session.State; st != nil {
		if guild, err := st.Guild(guildID); err == nil {
			return &Guild{ID: guild.ID, Name: guild.Name}, nil
		}
	}
	guild, err := g.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch guild %s: %w", guildID, translate(err))
	}
	g.logger.Debug("guild_fetched", "guild_id", guildID)
	return &Guild{ID: guild.ID, Name: guild.Name}, nil
}

// Member resolves the member and the permissions of each of its roles,
// including the implicit @everyone role whose id equals the guild id.
// Membership always comes from the REST API: without the members intent the
// state cache never hears about role assignments. Role permissions come from
// the state, which GUILD_ROLE_* events keep current.
func (g *DiscordGateway) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	member, err := g.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member %s in guild %s: %w", userID, guildID, translate(err))
	}
	g.logger.Debug("member_fetched", "guild_id", guildID, "user_id", userID)

	roles, err := g.memberRoles(ctx, guildID, member.Roles)
	if err != nil {
		return nil, err
	}
	return &Member{GuildID: guildID, UserID: userID, Roles: roles}, nil
}

func (g *DiscordGateway) memberRoles(ctx context.Context, guildID string, roleIDs []string) ([]Role, error) {
	wanted := append([]string{guildID}, roleIDs...)
	roles := make([]Role, 0, len(wanted))

	var missing []string
	for _, id := range wanted {
		if st := g.session.State; st != nil {
			if role, err := st.Role(guildID, id); err == nil {
				roles = append(roles, toRole(role))
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return roles, nil
	}

	all, err := g.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles of guild %s: %w", guildID, translate(err))
	}
	byID := make(map[string]*discordgo.Role, len(all))
	for _, role := range all {
		byID[role.ID] = role
	}
	for _, id := range missing {
		if role, ok := byID[id]; ok {
			roles = append(roles, toRole(role))
		}
	}
	return roles, nil
}

func (g *DiscordGateway) SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error) {
	mentions := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	if msg.Mentions.Everyone {
		mentions.Parse = append(mentions.Parse, discordgo.AllowedMentionTypeEveryone)
	}

	sent, err := g.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: mentions,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send message to %s: %w", channelID, translate(err))
	}
	return &Message{ID: sent.ID, ChannelID: channelID}, nil
}

func (g *DiscordGateway) CreateScheduledEvent(ctx context.Context, guildID string, params EventParams) (*ScheduledEvent, error) {
	start, end := params.Start, params.End
	req := &discordgo.GuildScheduledEventParams{
		Name:               params.Name,
		Description:        params.Description,
		ScheduledStartTime: &start,
		ScheduledEndTime:   &end,
		PrivacyLevel:       discordgo.GuildScheduledEventPrivacyLevelGuildOnly,
	}
	switch params.EntityType {
	case EntityStageInstance:
		req.EntityType = discordgo.GuildScheduledEventEntityTypeStageInstance
		req.ChannelID = params.ChannelID
	case EntityVoice:
		req.EntityType = discordgo.GuildScheduledEventEntityTypeVoice
		req.ChannelID = params.ChannelID
	default:
		req.EntityType = discordgo.GuildScheduledEventEntityTypeExternal
		req.EntityMetadata = &discordgo.GuildScheduledEventEntityMetadata{Location: params.Location}
	}
	if len(params.Image) > 0 {
		req.Image = dataURI(params.Image)
	}

	options := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if params.Reason != "" {
		options = append(options, discordgo.WithAuditLogReason(params.Reason))
	}
	event, err := g.session.GuildScheduledEventCreate(guildID, req, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled event in guild %s: %w", guildID, translate(err))
	}
	return &ScheduledEvent{ID: event.ID, GuildID: guildID, Name: event.Name}, nil
}

func toChannel(ch *discordgo.Channel) *Channel {
	kind := ChannelKindOther
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		kind = ChannelKindText
	case discordgo.ChannelTypeGuildVoice:
		kind = ChannelKindVoice
	case discordgo.ChannelTypeGuildStageVoice:
		kind = ChannelKindStage
	}
	return &Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name, Kind: kind}
}

func toRole(role *discordgo.Role) Role {
	return Role{ID: role.ID, Name: role.Name, Permissions: role.Permissions}
}

func dataURI(image []byte) string {
	return "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// translate marks 404 responses with ErrNotFound.
func translate(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
