package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	DefaultConnectRetries = 5
	DefaultConnectDelay   = 5 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

var ErrInvalidResponse = errors.New("invalid response envelope")

// ConnectionError reports that the bot could not be reached. Domain failures
// never produce it; they arrive as error envelopes instead.
type ConnectionError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed after %d attempt(s): %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type SenderConfig struct {
	Addr           string
	DialTimeout    time.Duration
	Retries        int           // dial attempts used by EnsureConnection
	Delay          time.Duration // pause between failed dial attempts
	MaxMessageSize int
	Logger         *slog.Logger
}

// Sender owns one persistent connection to the receiver and turns requests
// into synchronous round trips. The connection is shared by every caller, so
// a round trip holds mu from write to read.
type Sender struct {
	addr           string
	dialTimeout    time.Duration
	retries        int
	delay          time.Duration
	maxMessageSize int
	logger         *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *FrameReader
}

func NewSender(cfg SenderConfig) *Sender {
	s := &Sender{
		addr:           cfg.Addr,
		dialTimeout:    cfg.DialTimeout,
		retries:        cfg.Retries,
		delay:          cfg.Delay,
		maxMessageSize: cfg.MaxMessageSize,
		logger:         cfg.Logger,
	}
	if s.dialTimeout <= 0 {
		s.dialTimeout = DefaultDialTimeout
	}
	if s.retries < 1 {
		s.retries = DefaultConnectRetries
	}
	if s.delay <= 0 {
		s.delay = DefaultConnectDelay
	}
	if s.maxMessageSize <= 0 {
		s.maxMessageSize = DefaultMaxMessageSize
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Connect dials the receiver, trying up to retries times and sleeping delay
// between failures. It is a no-op when already connected.
func (s *Sender) Connect(ctx context.Context, retries int, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx, retries, delay)
}

// EnsureConnection connects with the configured retry policy if needed.
func (s *Sender) EnsureConnection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx, s.retries, s.delay)
}

func (s *Sender) connectLocked(ctx context.Context, retries int, delay time.Duration) error {
	if s.conn != nil {
		return nil
	}
	if retries < 1 {
		retries = 1
	}

	dialer := net.Dialer{Timeout: s.dialTimeout}
	var lastErr error
	attempt := 0
	for attempt < retries {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", s.addr)
		if err == nil {
			s.conn = conn
			s.reader = NewFrameReader(conn, s.maxMessageSize)
			s.logger.Info("connected_to_receiver",
				"addr", s.addr,
				"attempt", attempt,
			)
			return nil
		}

		lastErr = err
		s.logger.Warn("connect_attempt_failed",
			"addr", s.addr,
			"attempt", attempt,
			"retries", retries,
			"error", err.Error(),
		)
		if ctx.Err() != nil || attempt == retries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		lastErr = fmt.Errorf("%w (last dial error: %v)", ctxErr, lastErr)
	}

	s.logger.Error("connect_failed",
		"addr", s.addr,
		"attempts", attempt,
	)
	return &ConnectionError{Addr: s.addr, Attempts: attempt, Err: lastErr}
}

// Send writes payload as one frame and blocks for the matching response.
// A transport failure closes the connection, reconnects once and resends;
// a second failure is returned as *ConnectionError. Cancel ctx to abandon
// the call; the connection is then dropped since its stream state is unknown.
func (s *Sender) Send(ctx context.Context, payload []byte) (*Response, error) {
	frame := EncodeFrame(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx, s.retries, s.delay); err != nil {
		return nil, err
	}

	resp, retryable, err := s.roundTrip(ctx, frame)
	if err == nil {
		return resp, nil
	}
	if !retryable {
		return nil, err
	}

	s.logger.Warn("send_failed_retrying",
		"addr", s.addr,
		"error", err.Error(),
	)
	s.closeLocked()
	if err := s.connectLocked(ctx, s.retries, s.delay); err != nil {
		return nil, err
	}

	resp, retryable, err = s.roundTrip(ctx, frame)
	if err != nil {
		if retryable {
			s.closeLocked()
			return nil, &ConnectionError{Addr: s.addr, Attempts: 2, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

// Do marshals req and sends it.
func (s *Sender) Do(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return s.Send(ctx, payload)
}

// roundTrip performs one write/read on the current connection. retryable is
// true for transport failures that a fresh connection may fix.
func (s *Sender) roundTrip(ctx context.Context, frame []byte) (resp *Response, retryable bool, err error) {
	conn := s.conn

	// ctx expiry is enforced through AfterFunc so that ctx.Err() is already
	// set whenever the socket reports the resulting timeout
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, true, fmt.Errorf("failed to clear deadline: %w", err)
	}
	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(expired)
		_ = conn.SetDeadline(time.Now())
	})
	// a callback already running must finish before the mutex is released,
	// or it would cut the next caller's round trip short
	defer func() {
		if !stop() {
			<-expired
		}
	}()

	s.logger.Debug("send_request", "addr", s.addr, "bytes", len(frame))
	if _, err := conn.Write(frame); err != nil {
		return nil, s.transportFailure(ctx), fmt.Errorf("failed to write request: %w", s.causeOf(ctx, err))
	}

	line, err := s.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, ErrMessageTooLarge) {
			s.closeLocked()
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return nil, s.transportFailure(ctx), fmt.Errorf("failed to read response: %w", s.causeOf(ctx, err))
	}
	s.logger.Debug("recv_response", "addr", s.addr, "bytes", len(line))

	resp, err = decodeResponse(line)
	if err != nil {
		return nil, false, err
	}
	return resp, false, nil
}

// transportFailure reports whether a failed round trip may be retried. A
// cancelled caller is not retried and its connection is dropped here.
func (s *Sender) transportFailure(ctx context.Context) bool {
	if ctx.Err() != nil {
		s.closeLocked()
		return false
	}
	return true
}

func (s *Sender) causeOf(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Connected reports whether a connection is currently held.
func (s *Sender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Addr is the receiver address this sender dials.
func (s *Sender) Addr() string { return s.addr }

// Close releases the connection. Safe to call when already closed.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Sender) closeLocked() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("error_closing_connection",
			"addr", s.addr,
			"error", err.Error(),
		)
	}
	s.conn = nil
	s.reader = nil
}
