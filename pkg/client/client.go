// Package client connects a MIDI device to a midirelay server.
//
// Events from the local device go out through OnLocalEvent. Events relayed
// from other peers are handed to the bound OutputDevice; while no output is
// bound they are dropped.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"midirelay/internal/core/domain"
	"midirelay/internal/infrastructure/framing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("client closed")

// OutputDevice receives raw MIDI bytes relayed from other peers.
type OutputDevice interface {
	Send(payload []byte) error
}

// OutputFunc adapts a function to OutputDevice.
type OutputFunc func(payload []byte) error

func (f OutputFunc) Send(payload []byte) error { return f(payload) }

type Option func(*Client)

// WithBinary sends local events as binary frames instead of JSON envelopes.
func WithBinary() Option {
	return func(c *Client) { c.encoding = domain.EncodingBinary }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger.Sugar() }
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.writeTimeout = d }
}

type Client struct {
	conn         *websocket.Conn
	dialer       *websocket.Dialer
	encoding     domain.Encoding
	writeTimeout time.Duration
	logger       *zap.SugaredLogger

	writeMu sync.Mutex

	outMu  sync.RWMutex
	output OutputDevice

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to the relay at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		dialer:       websocket.DefaultDialer,
		encoding:     domain.EncodingText,
		writeTimeout: 10 * time.Second,
		logger:       zap.NewNop().Sugar(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}
	c.conn = conn
	c.logger.Infow("connected to relay", "url", url, "encoding", c.encoding)

	go c.readLoop()
	return c, nil
}

// BindOutput sets where relayed events go. Passing nil unbinds.
func (c *Client) BindOutput(out OutputDevice) {
	c.outMu.Lock()
	c.output = out
	c.outMu.Unlock()
}

// OnLocalEvent forwards one MIDI message from the local device to the relay.
func (c *Client) OnLocalEvent(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := framing.Encode(payload, c.encoding)
	if err != nil {
		return err
	}
	messageType := websocket.TextMessage
	if c.encoding == domain.EncodingBinary {
		messageType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var encoding domain.Encoding
		switch messageType {
		case websocket.TextMessage:
			encoding = domain.EncodingText
		case websocket.BinaryMessage:
			encoding = domain.EncodingBinary
		default:
			continue
		}

		env, err := framing.Decode(encoding, data)
		if err != nil {
			c.logger.Debugw("ignoring relayed message", "size", len(data), "error", err)
			continue
		}

		c.outMu.RLock()
		out := c.output
		c.outMu.RUnlock()

		if out == nil {
			c.logger.Debugw("no output bound, dropping event", "event", framing.Describe(env))
			continue
		}
		if err := out.Send(env.Payload); err != nil {
			c.logger.Warnw("output device rejected event", "event", framing.Describe(env), "error", err)
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			c.logger.Warnw("relay connection lost", "error", err)
		}
		close(c.done)
		c.conn.Close()
	})
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown(nil)
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, nil for a clean close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}
