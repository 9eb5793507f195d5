package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SenderTestSuite struct {
	suite.Suite
	receiver *Receiver
	sender   *Sender
}

func (s *SenderTestSuite) SetupTest() {
	s.receiver = NewReceiver(ReceiverConfig{
		Addr:      "127.0.0.1:0",
		Logger:    quietLogger,
		RateLimit: 1000,
		RateBurst: 1000,
	}, echoHandler)
	s.Require().NoError(s.receiver.Start())

	s.sender = newTestSender(s.receiver.Addr())
}

func (s *SenderTestSuite) TearDownTest() {
	s.sender.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.receiver.Stop(ctx)
}

func newTestSender(addr string) *Sender {
	return NewSender(SenderConfig{
		Addr:        addr,
		DialTimeout: time.Second,
		Retries:     3,
		Delay:       20 * time.Millisecond,
		Logger:      quietLogger,
	})
}

func (s *SenderTestSuite) TestPing() {
	resp, err := s.sender.Send(context.Background(), []byte(`{"action":"ping"}`))
	s.Require().NoError(err)
	s.Equal(StatusOK, resp.Status)
	s.Equal("pong", resp.Message)
	s.True(s.sender.Connected())
}

func (s *SenderTestSuite) TestUnknownActionAndInvalidJSON() {
	resp, err := s.sender.Send(context.Background(), []byte(`{"action":"unknown_tag"}`))
	s.Require().NoError(err)
	s.Equal(Error("Unknown action"), *resp)

	resp, err = s.sender.Send(context.Background(), []byte("not valid\njson"))
	s.Require().NoError(err)
	s.Equal(Error("Invalid JSON"), *resp)

	// the connection survives protocol errors
	resp, err = s.sender.Do(context.Background(), Request{Action: ActionPing})
	s.Require().NoError(err)
	s.Equal("pong", resp.Message)
}

func (s *SenderTestSuite) TestConnectIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.sender.Connect(ctx, 1, time.Millisecond))
	s.Require().NoError(s.sender.Connect(ctx, 1, time.Millisecond))
	s.Require().NoError(s.sender.EnsureConnection(ctx))

	_, err := s.sender.Send(ctx, []byte(`{"action":"ping"}`))
	s.Require().NoError(err)
	s.Equal(int64(1), s.receiver.Stats().TotalAccepted)
}

func (s *SenderTestSuite) TestCloseIsIdempotent() {
	s.NoError(s.sender.Close())
	_, err := s.sender.Send(context.Background(), []byte(`{"action":"ping"}`))
	s.Require().NoError(err)
	s.NoError(s.sender.Close())
	s.NoError(s.sender.Close())
	s.False(s.sender.Connected())
}

func (s *SenderTestSuite) TestReconnectsTransparentlyAfterReceiverRestart() {
	ctx := context.Background()
	_, err := s.sender.Send(ctx, []byte(`{"action":"ping"}`))
	s.Require().NoError(err)

	addr := s.receiver.Addr()
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Require().NoError(s.receiver.Stop(stopCtx))

	s.receiver = NewReceiver(ReceiverConfig{Addr: addr, Logger: quietLogger}, echoHandler)
	s.Require().NoError(s.receiver.Start())

	resp, err := s.sender.Send(ctx, []byte(`{"action":"ping"}`))
	s.Require().NoError(err)
	s.Equal("pong", resp.Message)
}

func (s *SenderTestSuite) TestConcurrentSendsAreSerialized() {
	const callers = 40
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			want := fmt.Sprintf("caller-%d", id)
			resp, err := s.sender.Do(context.Background(), Request{Action: ActionPing, Message: want})
			if err != nil {
				errs <- err
				return
			}
			if resp.Message != want {
				errs <- fmt.Errorf("caller %d received %v", id, resp.Message)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Fail(err.Error())
	}
	s.Equal(int64(1), s.receiver.Stats().TotalAccepted)
}

func TestSenderSuite(t *testing.T) {
	suite.Run(t, new(SenderTestSuite))
}

func TestSenderConnectExhaustsRetries(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	sender := newTestSender(addr)
	start := time.Now()
	err = sender.Connect(context.Background(), 3, 30*time.Millisecond)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, addr, connErr.Addr)
	assert.NotNil(t, errors.Unwrap(connErr))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.False(t, sender.Connected())
}

func TestSenderSendFailsWhenReceiverIsGone(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	sender := newTestSender(addr)
	_, err = sender.Send(context.Background(), []byte(`{"action":"ping"}`))

	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestSenderConnectHonoursCancellation(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	sender := newTestSender(addr)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sender.Connect(ctx, 100, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestSenderRetriesOnceThenFails(t *testing.T) {
	// accepts connections and hangs up on every request
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepts := 0
	var mu sync.Mutex
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepts++
			mu.Unlock()
			go func() {
				NewFrameReader(conn, 0).ReadFrame()
				conn.Close()
			}()
		}
	}()

	sender := newTestSender(listener.Addr().String())
	_, err = sender.Send(context.Background(), []byte(`{"action":"ping"}`))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 2, connErr.Attempts)
	assert.False(t, sender.Connected())

	mu.Lock()
	assert.Equal(t, 2, accepts)
	mu.Unlock()
}

func TestSenderTimeoutDropsConnection(t *testing.T) {
	receiver := startReceiver(t, HandlerFunc(func(ctx context.Context, payload []byte) Response {
		time.Sleep(500 * time.Millisecond)
		return OK("late")
	}), nil)

	sender := newTestSender(receiver.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := sender.Send(ctx, []byte(`{"action":"ping"}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sender.Connected())
}

func TestSenderCancelledCallDoesNotDisturbNextCall(t *testing.T) {
	receiver := startReceiver(t, echoHandler, nil)

	var logs bytes.Buffer
	sender := NewSender(SenderConfig{
		Addr:    receiver.Addr(),
		Retries: 3,
		Delay:   10 * time.Millisecond,
		Logger:  slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	defer sender.Close()

	ping := []byte(`{"action":"ping"}`)
	for i := 0; i < 200; i++ {
		// cancellation lands anywhere in the first call, including after it returned
		ctx, cancel := context.WithCancel(context.Background())
		go cancel()
		_, _ = sender.Send(ctx, ping)

		resp, err := sender.Send(context.Background(), ping)
		require.NoError(t, err)
		require.Equal(t, "pong", resp.Message)
	}
	// a late deadline from the cancelled call would fail the next write or
	// read and force a retry
	assert.NotContains(t, logs.String(), "send_failed_retrying")
}

func TestSenderRejectsMalformedResponse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := NewFrameReader(conn, 0)
		if _, err := reader.ReadFrame(); err != nil {
			return
		}
		conn.Write([]byte("{\"status\":\"unknown\"}\n"))
		reader.ReadFrame()
	}()

	sender := newTestSender(listener.Addr().String())
	defer sender.Close()
	_, err = sender.Send(context.Background(), []byte(`{"action":"ping"}`))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
