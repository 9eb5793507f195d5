package test

import (
	"context"
	"strconv"
	"sync"

	"eventmanager/internal/microservices/gateway"
)

// memoryGateway is an in-memory chat platform. It is safe for concurrent use
// and records every side effect so tests can assert on them.
type memoryGateway struct {
	mu       sync.Mutex
	channels map[string]gateway.Channel
	guilds   map[string]gateway.Guild
	members  map[string]gateway.Member
	nextID   int
	messages []sentMessage
	events   []gateway.EventParams
}

type sentMessage struct {
	ChannelID string
	Message   gateway.OutgoingMessage
}

func newMemoryGateway() *memoryGateway {
	admin := gateway.Role{ID: "11", Name: "admin", Permissions: gateway.PermissionAdministrator}
	return &memoryGateway{
		channels: map[string]gateway.Channel{
			"100": {ID: "100", GuildID: "1", Name: "announcements", Kind: gateway.ChannelKindText},
			"101": {ID: "101", GuildID: "1", Name: "lounge", Kind: gateway.ChannelKindVoice},
		},
		guilds: map[string]gateway.Guild{
			"1": {ID: "1", Name: "VRChat Events"},
		},
		members: map[string]gateway.Member{
			"1/7": {GuildID: "1", UserID: "7", Roles: []gateway.Role{admin}},
			"1/8": {GuildID: "1", UserID: "8"},
		},
		nextID: 1000,
	}
}

func (g *memoryGateway) Channel(ctx context.Context, channelID string) (*gateway.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.channels[channelID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &c, nil
}

func (g *memoryGateway) Guild(ctx context.Context, guildID string) (*gateway.Guild, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	guild, ok := g.guilds[guildID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &guild, nil
}

func (g *memoryGateway) Member(ctx context.Context, guildID, userID string) (*gateway.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[guildID+"/"+userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &m, nil
}

func (g *memoryGateway) SendMessage(ctx context.Context, channelID string, msg gateway.OutgoingMessage) (*gateway.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, sentMessage{ChannelID: channelID, Message: msg})
	return &gateway.Message{ID: g.newID(), ChannelID: channelID}, nil
}

func (g *memoryGateway) CreateScheduledEvent(ctx context.Context, guildID string, params gateway.EventParams) (*gateway.ScheduledEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, params)
	return &gateway.ScheduledEvent{ID: g.newID(), GuildID: guildID, Name: params.Name}, nil
}

func (g *memoryGateway) newID() string {
	g.nextID++
	return strconv.Itoa(g.nextID)
}

func (g *memoryGateway) sideEffects() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages), len(g.events)
}
