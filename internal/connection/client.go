package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket connection to the feed.
type Client interface {
	// Connect dials the feed and performs the init/ack handshake. The
	// credential in ClientConfig is sent in connection_init; a
	// connection_error reply is reported as ErrUnauthorized.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes one frame to the connection.
	Send(f Frame) error

	// Frames returns a channel of all frames received after the handshake.
	// Each frame includes a local timestamp for when it was received.
	Frames() <-chan TimestampedFrame

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	frames chan TimestampedFrame
	errors chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan TimestampedFrame, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect dials the feed and completes the init/ack handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.cfg.UserAgent != "" {
		header.Set("User-Agent", c.cfg.UserAgent)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Subprotocols:     []string{"graphql-transport-ws"},
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	// Answer control-level pings so server keepalives don't tear down
	// the connection.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()

	c.logger.Debug("feed connected", "url", c.cfg.URL)

	return nil
}

// handshake sends connection_init with the credential and waits for the ack.
func (c *client) handshake(conn *websocket.Conn) error {
	payload, err := json.Marshal(initPayload{Token: c.cfg.Token})
	if err != nil {
		return err
	}

	init, err := json.Marshal(Frame{Type: frameConnectionInit, Payload: payload})
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, init); err != nil {
		return err
	}

	// The server replies with connection_ack or connection_error. Anything
	// else is a protocol violation.
	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}

	var reply Frame
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("%w: malformed handshake reply: %v", ErrProtocol, err)
	}

	switch reply.Type {
	case frameConnectionAck:
		return nil
	case frameConnectionError:
		return fmt.Errorf("%w: %s", ErrUnauthorized, string(reply.Payload))
	default:
		return fmt.Errorf("%w: unexpected handshake reply %q", ErrProtocol, reply.Type)
	}
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// Send writes one frame to the connection.
func (c *client) Send(f Frame) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Frames returns the frames channel.
func (c *client) Frames() <-chan TimestampedFrame {
	return c.frames
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames from the WebSocket and sends them to the frames
// channel. Protocol-level pings are answered with pongs but still forwarded
// so the owner can reset its liveness watchdog on any traffic.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
			}
			if isTimeout(err) {
				err = fmt.Errorf("%w: %v", ErrReadTimeout, err)
			}
			select {
			case c.errors <- err:
			default:
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// Unparsable bytes mean the session is undecodable from here
			// on; surface a transport error so the owner reconnects.
			c.logger.Warn("malformed frame, closing connection", "error", err)
			select {
			case c.errors <- fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err):
			default:
			}
			return
		}

		if f.Type == framePing {
			if err := c.Send(Frame{Type: framePong}); err != nil {
				c.logger.Debug("failed to answer ping", "error", err)
			}
		}

		tf := TimestampedFrame{
			Frame:      f,
			ReceivedAt: receivedAt,
		}

		select {
		case c.frames <- tf:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame", "type", f.Type)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
