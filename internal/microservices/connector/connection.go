package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultReadTimeout    = 5 * time.Minute
	DefaultWriteTimeout   = 10 * time.Second
	DefaultHandlerTimeout = 30 * time.Second
)

// ClientConnection serves one accepted connection: read a frame, dispatch
// it, write exactly one response, repeat. Requests on a connection are
// handled strictly in order.
type ClientConnection struct {
	ID      string
	conn    net.Conn
	Manager *ConnectionManager
	Limiter *rate.Limiter

	readTimeout    time.Duration
	handlerTimeout time.Duration
	maxMessageSize int
	logger         *slog.Logger

	mu          sync.Mutex // guards interrupted and read deadline changes
	interrupted bool
}

func NewClientConnection(conn net.Conn, manager *ConnectionManager, cfg ReceiverConfig) *ClientConnection {
	id := uuid.NewString()
	return &ClientConnection{
		ID:             id,
		conn:           conn,
		Manager:        manager,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		readTimeout:    cfg.ReadTimeout,
		handlerTimeout: cfg.HandlerTimeout,
		maxMessageSize: cfg.MaxMessageSize,
		logger:         cfg.Logger.With("client_id", id),
	}
}

// Serve runs the read-dispatch-write loop until the peer disconnects, the
// connection idles out, or ctx is cancelled.
func (c *ClientConnection) Serve(ctx context.Context, handler Handler) {
	defer c.conn.Close()
	reader := NewFrameReader(c.conn, c.maxMessageSize)

	c.logger.Info("client_connected",
		"remote_addr", c.conn.RemoteAddr().String(),
	)

	for {
		if ctx.Err() != nil || !c.armReadDeadline() {
			c.logger.Debug("client_loop_shutdown")
			return
		}

		payload, err := reader.ReadFrame()
		if err != nil {
			c.handleReadError(ctx, err)
			return
		}

		requestID := uuid.NewString()
		c.logger.Debug("received_message",
			"request_id", requestID,
			"bytes", len(payload),
		)

		resp := c.process(ctx, handler, payload, requestID)
		if err := c.write(resp); err != nil {
			c.logger.Warn("client_write_failed",
				"request_id", requestID,
				"error", err.Error(),
			)
			return
		}
		c.Manager.recordRequest()
		c.logger.Debug("sent_response",
			"request_id", requestID,
			"status", resp.Status,
		)
	}
}

func (c *ClientConnection) handleReadError(ctx context.Context, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		// peer closed; an empty read ends the connection
		c.logger.Info("client_disconnected")
	case errors.Is(err, ErrMessageTooLarge):
		c.logger.Warn("message_too_large",
			"max_size", c.maxMessageSize,
		)
		if werr := c.write(Error("Message too large")); werr != nil {
			c.logger.Debug("client_write_failed", "error", werr.Error())
			return
		}
		c.lingerClose()
	case errors.As(err, &netErr) && netErr.Timeout():
		if ctx.Err() != nil {
			c.logger.Debug("client_loop_shutdown")
			return
		}
		c.logger.Warn("client_read_timeout")
	case errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET):
		c.logger.Info("client_disconnected")
	default:
		c.logger.Error("client_read_error",
			"error", err.Error(),
		)
	}
}

// process turns one frame into exactly one response, whatever happens.
func (c *ClientConnection) process(ctx context.Context, handler Handler, payload []byte, requestID string) (resp Response) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Error("Empty message received")
	}
	if !c.Limiter.Allow() {
		c.logger.Warn("rate_limit_exceeded", "request_id", requestID)
		return Error("Rate limit exceeded")
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler_panic",
				"request_id", requestID,
				"panic", fmt.Sprint(r),
			)
			resp = Errorf("Error: %v", r)
		}
	}()

	// dispatches outlive Stop; only handlerTimeout bounds them
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.handlerTimeout)
	defer cancel()

	resp = handler.Handle(hctx, payload)
	if resp.Status == "" {
		c.logger.Warn("handler_returned_no_response", "request_id", requestID)
		return Error("No response from handler")
	}
	return resp
}

func (c *ClientConnection) write(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("response_marshal_failed", "error", err.Error())
		data, _ = json.Marshal(Errorf("Error: %v", err))
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return err
	}
	return WriteFrame(c.conn, data)
}

// armReadDeadline pushes the idle deadline forward unless the connection
// has been interrupted for shutdown.
func (c *ClientConnection) armReadDeadline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupted {
		return false
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	return true
}

// Interrupt wakes a blocked read without touching a write in progress.
func (c *ClientConnection) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = true
	_ = c.conn.SetReadDeadline(time.Now())
}

// lingerClose half-closes and drains unread input for a moment so the peer
// can read the final response before the socket goes away. Closing with
// unread data would otherwise reset the connection.
func (c *ClientConnection) lingerClose() {
	tcpConn, ok := c.conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.CloseWrite()
	_ = tcpConn.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = io.Copy(io.Discard, tcpConn)
}

// method to close the connection
func (c *ClientConnection) Close() {
	c.conn.Close()
}
