package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"eventmanager/internal/microservices/bridge"
	"eventmanager/internal/microservices/connector"
	"eventmanager/internal/microservices/dispatcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var fixedNow = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

// ConnectorIntegrationSuite runs the real dispatcher behind a real receiver
// and talks to it through a real sender.
type ConnectorIntegrationSuite struct {
	suite.Suite
	gateway  *memoryGateway
	handler  *dispatcher.RequestHandler
	receiver *connector.Receiver
	sender   *connector.Sender
	addr     string
}

// SetupTest runs before each test
func (s *ConnectorIntegrationSuite) SetupTest() {
	s.gateway = newMemoryGateway()
	s.handler = dispatcher.NewRequestHandler(s.gateway,
		dispatcher.WithClock(func() time.Time { return fixedNow }),
		dispatcher.WithLocation(time.UTC),
		dispatcher.WithLogger(quietLogger),
	)
	s.receiver = s.startReceiver("127.0.0.1:0")
	s.addr = s.receiver.Addr()
	s.sender = s.newSender()
}

// TearDownTest runs after each test
func (s *ConnectorIntegrationSuite) TearDownTest() {
	s.sender.Close()
	s.receiver.Stop(context.Background())
}

func (s *ConnectorIntegrationSuite) startReceiver(addr string) *connector.Receiver {
	r := connector.NewReceiver(connector.ReceiverConfig{
		Addr:      addr,
		RateLimit: 1000,
		RateBurst: 1000,
		Logger:    quietLogger,
	}, s.handler)
	s.Require().NoError(r.Start())
	return r
}

func (s *ConnectorIntegrationSuite) newSender() *connector.Sender {
	return connector.NewSender(connector.SenderConfig{
		Addr:        s.addr,
		DialTimeout: time.Second,
		Retries:     3,
		Delay:       20 * time.Millisecond,
		Logger:      quietLogger,
	})
}

func (s *ConnectorIntegrationSuite) do(req connector.Request) *connector.Response {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := s.sender.Do(ctx, req)
	s.Require().NoError(err)
	return resp
}

func (s *ConnectorIntegrationSuite) TestPing() {
	resp := s.do(connector.Request{Action: connector.ActionPing})
	s.Equal(connector.OK("pong"), *resp)
}

func (s *ConnectorIntegrationSuite) TestUnknownAction() {
	resp := s.do(connector.Request{Action: "unknown_tag"})
	s.Equal(connector.Error("Unknown action"), *resp)
}

func (s *ConnectorIntegrationSuite) TestInvalidJSON() {
	resp, err := s.sender.Send(context.Background(), []byte("not valid json"))
	s.Require().NoError(err)
	s.Equal(connector.Error("Invalid JSON"), *resp)

	// the connection survives a malformed request
	s.Equal(connector.OK("pong"), *s.do(connector.Request{Action: connector.ActionPing}))
}

func (s *ConnectorIntegrationSuite) TestPastStartHasNoSideEffect() {
	resp := s.do(connector.Request{
		Action:      connector.ActionCreateEvent,
		GuildID:     "1",
		Name:        "late",
		Description: "too late",
		StartTime:   "2029-12-31T12:00:00Z",
	})
	s.Equal(connector.Error("Invalid start_time; must be in the future"), *resp)

	messages, events := s.gateway.sideEffects()
	s.Zero(messages)
	s.Zero(events)
}

func (s *ConnectorIntegrationSuite) TestEndBeforeStartIsExtended() {
	resp := s.do(connector.Request{
		Action:      connector.ActionCreateEvent,
		GuildID:     "1",
		ChannelID:   "101",
		Name:        "Movie night",
		Description: "Bring snacks",
		StartTime:   "2030-06-01T10:00:00Z",
		EndTime:     "2030-06-01T09:00:00Z",
		EntityType:  "voice",
	})
	s.Require().True(resp.IsOK(), resp.Text())
	s.Regexp(`^Event Movie night created with ID \d+$`, resp.Text())

	s.Require().Len(s.gateway.events, 1)
	ev := s.gateway.events[0]
	start := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	s.True(ev.Start.Equal(start))
	s.True(ev.End.Equal(start.Add(time.Hour)))
	s.Equal("101", ev.ChannelID)
	s.Equal(dispatcher.AuditReason, ev.Reason)
}

func (s *ConnectorIntegrationSuite) TestEveryoneMentionIsScopedToTheCall() {
	resp := s.do(connector.Request{Action: connector.ActionSendAnnouncement, ChannelID: "100", Message: "doors open", Everyone: true})
	s.Require().True(resp.IsOK(), resp.Text())
	resp = s.do(connector.Request{Action: connector.ActionSendAnnouncement, ChannelID: "100", Message: "quiet note"})
	s.Require().True(resp.IsOK(), resp.Text())

	s.Require().Len(s.gateway.messages, 2)
	loud, quiet := s.gateway.messages[0].Message, s.gateway.messages[1].Message
	s.Equal("@everyone\n doors open", loud.Content)
	s.True(loud.Mentions.Everyone)
	s.Equal("quiet note", quiet.Content)
	s.False(quiet.Mentions.Everyone)
}

func (s *ConnectorIntegrationSuite) TestCheckAdmin() {
	var status dispatcher.AdminStatus
	resp := s.do(connector.Request{Action: connector.ActionCheckAdmin, GuildID: "1", UserID: "7"})
	s.Require().NoError(resp.DecodeMessage(&status))
	s.True(status.IsAdmin)

	resp = s.do(connector.Request{Action: connector.ActionCheckAdmin, GuildID: "1", UserID: "8"})
	s.Require().NoError(resp.DecodeMessage(&status))
	s.False(status.IsAdmin)

	resp = s.do(connector.Request{Action: connector.ActionCheckAdmin, GuildID: "1", UserID: "9"})
	s.Equal(connector.Error("Member not found"), *resp)
}

func (s *ConnectorIntegrationSuite) TestRestartIsTransparent() {
	s.Equal(connector.OK("pong"), *s.do(connector.Request{Action: connector.ActionPing}))

	s.Require().NoError(s.receiver.Stop(context.Background()))
	s.receiver = s.startReceiver(s.addr)

	// the held connection is dead; one retry absorbs the reconnect
	s.Equal(connector.OK("pong"), *s.do(connector.Request{Action: connector.ActionPing}))
	s.Equal(int64(1), s.receiver.Stats().TotalAccepted)
}

func (s *ConnectorIntegrationSuite) TestConcurrentConnectionsDoNotCrossTalk() {
	const clients = 20
	const rounds = 10

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sender := s.newSender()
			defer sender.Close()

			for r := 0; r < rounds; r++ {
				// a distinct invalid id per client proves each answer is its own
				field := fmt.Sprintf("%d-%d", id, r)
				resp, err := sender.Do(context.Background(), connector.Request{
					Action:      connector.ActionCreateEvent,
					GuildID:     "1",
					Name:        field,
					Description: "d",
					EntityType:  "nonsense-" + field,
				})
				if err != nil {
					errs <- err
					return
				}
				if resp.Text() != "Invalid entity_type" {
					errs <- fmt.Errorf("client %d round %d: unexpected %q", id, r, resp.Text())
					return
				}
				resp, err = sender.Do(context.Background(), connector.Request{Action: connector.ActionPing})
				if err != nil {
					errs <- err
					return
				}
				if resp.Text() != "pong" {
					errs <- fmt.Errorf("client %d round %d: unexpected %q", id, r, resp.Text())
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.Equal(int64(clients), s.receiver.Stats().TotalAccepted)
	// requests are counted after the response is written
	s.Eventually(func() bool {
		return s.receiver.Stats().TotalRequests == clients*rounds*2
	}, time.Second, 10*time.Millisecond)
}

func (s *ConnectorIntegrationSuite) TestSharedSenderSerializesCallers() {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := s.sender.Do(context.Background(), connector.Request{Action: connector.ActionPing})
			if s.NoError(err) {
				s.Equal("pong", resp.Text())
			}
		}()
	}
	wg.Wait()
	s.Equal(int64(1), s.receiver.Stats().TotalAccepted)
}

func (s *ConnectorIntegrationSuite) TestBridgeOverRealBot() {
	svc := bridge.NewService(s.sender, nil, bridge.Config{
		DefaultChannelID: "100",
		RequestTimeout:   2 * time.Second,
		Logger:           quietLogger,
	})
	ctx := context.Background()

	s.Require().NoError(svc.Ping(ctx))

	text, err := svc.SendAnnouncement(ctx, bridge.Announcement{Message: "hello"})
	s.Require().NoError(err)
	s.Regexp(`^Announcement sent with ID \d+$`, text)

	_, err = svc.SendAnnouncement(ctx, bridge.Announcement{ChannelID: "999", Message: "hello"})
	var remote *bridge.RemoteError
	s.Require().ErrorAs(err, &remote)
	s.Equal("Channel not found", remote.Message)

	isAdmin, err := svc.CheckAdmin(ctx, "1", "7")
	s.Require().NoError(err)
	s.True(isAdmin)

	allowed, err := svc.IsUserAllowed(ctx, "8", "1")
	s.Require().NoError(err)
	s.False(allowed)
}

func TestConnectorIntegrationSuite(t *testing.T) {
	suite.Run(t, new(ConnectorIntegrationSuite))
}

// TestStopWithIdleClients checks that Stop does not wait for idle
// connections to send something.
func TestStopWithIdleClients(t *testing.T) {
	handler := dispatcher.NewRequestHandler(newMemoryGateway(), dispatcher.WithLogger(quietLogger))
	receiver := connector.NewReceiver(connector.ReceiverConfig{Addr: "127.0.0.1:0", Logger: quietLogger}, handler)
	require.NoError(t, receiver.Start())

	var senders []*connector.Sender
	for i := 0; i < 5; i++ {
		sender := connector.NewSender(connector.SenderConfig{Addr: receiver.Addr(), Retries: 1, Logger: quietLogger})
		require.NoError(t, sender.EnsureConnection(context.Background()))
		senders = append(senders, sender)
	}
	defer func() {
		for _, sender := range senders {
			sender.Close()
		}
	}()
	require.Eventually(t, func() bool { return receiver.Stats().ActiveConnections == 5 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, receiver.Stop(ctx))

	stats := receiver.Stats()
	assert.False(t, stats.Listening)
	assert.Zero(t, stats.ActiveConnections)
}
