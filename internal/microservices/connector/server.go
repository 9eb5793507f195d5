package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler turns one request frame into its response. Implementations must
// always return an envelope; the connection is never the error channel for
// domain failures.
type Handler interface {
	Handle(ctx context.Context, payload []byte) Response
}

type HandlerFunc func(ctx context.Context, payload []byte) Response

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) Response {
	return f(ctx, payload)
}

type ReceiverConfig struct {
	Addr           string
	ReadTimeout    time.Duration // idle limit between requests
	HandlerTimeout time.Duration // bound on one dispatch, independent of Stop
	MaxMessageSize int
	RateLimit      float64 // requests per second per connection
	RateBurst      int
	Logger         *slog.Logger
}

func (c *ReceiverConfig) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst < 1 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Receiver accepts connections from senders and serves each one on its own
// goroutine.
type Receiver struct {
	cfg     ReceiverConfig
	handler Handler
	Manager *ConnectionManager
	logger  *slog.Logger

	mu         sync.Mutex
	listener   net.Listener
	cancel     context.CancelFunc
	acceptDone chan struct{}
	wg         sync.WaitGroup // connection goroutines
}

func NewReceiver(cfg ReceiverConfig, handler Handler) *Receiver {
	cfg.applyDefaults()
	return &Receiver{
		cfg:     cfg,
		handler: handler,
		Manager: NewConnectionManager(cfg.Logger),
		logger:  cfg.Logger,
	}
}

// Start binds the listen address and spawns the accept loop. Calling it on
// a running receiver does nothing.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start receiver on %s: %w", r.cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.listener = listener
	r.cancel = cancel
	r.acceptDone = make(chan struct{})
	r.Manager.listening.Store(true)

	r.logger.Info("receiver_listening",
		"addr", listener.Addr().String(),
	)
	go r.acceptLoop(ctx, listener, r.acceptDone)
	return nil
}

func (r *Receiver) acceptLoop(ctx context.Context, listener net.Listener, done chan<- struct{}) {
	defer close(done)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			r.logger.Warn("accept_failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		r.wg.Add(1)
		go func(conn net.Conn) {
			defer r.wg.Done()
			r.handleConnection(ctx, conn)
		}(conn)
	}
}

// handle connections/lifecycle of single client connection
func (r *Receiver) handleConnection(ctx context.Context, conn net.Conn) {
	client := NewClientConnection(conn, r.Manager, r.cfg)
	r.Manager.AddConnection(client)
	defer r.Manager.RemoveConnection(client)
	client.Serve(ctx, r.handler)
}

// Stop closes the listener, cancels every connection and waits for their
// goroutines. Requests being dispatched run to completion under their own
// HandlerTimeout and still get their response written.
// If ctx expires first the remaining connections are closed outright.
func (r *Receiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	listener, cancel, acceptDone := r.listener, r.cancel, r.acceptDone
	r.listener, r.cancel, r.acceptDone = nil, nil, nil
	r.mu.Unlock()
	if listener == nil {
		return nil
	}

	r.Manager.listening.Store(false)
	var closeErr error
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		closeErr = fmt.Errorf("failed to close listener: %w", err)
	}
	<-acceptDone

	cancel()
	r.Manager.InterruptAll()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		r.logger.Warn("receiver_stop_timeout",
			"active", r.Manager.Count(),
		)
		r.Manager.CloseAllConnections()
		<-finished
	}

	r.logger.Info("receiver_stopped")
	return closeErr
}

// Addr returns the bound address while listening, else the configured one.
func (r *Receiver) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.cfg.Addr
}

func (r *Receiver) Stats() Stats {
	return r.Manager.Stats()
}
