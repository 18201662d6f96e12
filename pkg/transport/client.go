package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tripchat/internal/channel"
	"tripchat/internal/errors"
	"tripchat/internal/metrics"
	"tripchat/internal/retry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const ackEvent = "ack"

// frame is the wire envelope. Requests that expect an acknowledgment carry a
// non-zero AckID; the server replies with an "ack" frame echoing it.
type frame struct {
	Event string          `json:"event"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientConfig configures the websocket channel client.
type ClientConfig struct {
	URL          string
	WriteTimeout time.Duration
	ConnectRetry retry.BackoffConfig
}

// Client is a websocket implementation of channel.Transport. One goroutine
// runs the read loop; acknowledgment callbacks and event handlers are invoked
// from it, so handlers must not block.
type Client struct {
	cfg    ClientConfig
	logger *logrus.Logger
	errLog *errors.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     channel.State
	pending   map[int64]channel.AckFunc
	handlers  map[string][]*subscription
	stateSubs []*stateSubscription
	readDone  chan struct{}
	closed    bool

	nextAckID int64
	nextSubID int64
}

type subscription struct {
	id      int64
	handler channel.EventHandler
}

type stateSubscription struct {
	id int64
	fn func(channel.State)
}

func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		errLog:   errors.WrapLogger(logger),
		state:    channel.StateDisconnected,
		pending:  make(map[int64]channel.AckFunc),
		handlers: make(map[string][]*subscription),
	}
}

// Connect dials the endpoint, retrying with backoff, and starts the read
// loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeConnection, "client closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(channel.StateConnecting)

	var conn *websocket.Conn
	backoff := retry.NewBackoff(c.cfg.ConnectRetry)
	err := backoff.Retry(ctx, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		var dialErr error
		conn, _, dialErr = websocket.Dial(dialCtx, c.cfg.URL, nil)
		return dialErr
	})
	if err != nil {
		c.setState(channel.StateDisconnected)
		return errors.Wrap(err, errors.ErrCodeConnection, "websocket dial failed")
	}
	conn.SetReadLimit(8 << 20)

	c.mu.Lock()
	c.conn = conn
	c.readDone = make(chan struct{})
	readDone := c.readDone
	c.mu.Unlock()

	c.setState(channel.StateConnected)
	go c.readLoop(conn, readDone)

	c.logger.WithField("url", c.cfg.URL).Info("Channel connected")
	return nil
}

// Close shuts the connection down and fails every pending acknowledgment.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[int64]channel.AckFunc)
	c.mu.Unlock()

	for id := range pending {
		c.logger.WithField("ack_id", id).Debug("Dropping pending acknowledgment on close")
	}

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	c.setState(channel.StateDisconnected)
	return err
}

// Emit sends a one-way event frame.
func (c *Client) Emit(ctx context.Context, event string, payload interface{}) error {
	return c.write(ctx, event, 0, payload)
}

// EmitWithAck sends a request frame and registers the callback under a fresh
// ack id. The callback fires from the read loop when the matching ack frame
// arrives; an id is never reused.
func (c *Client) EmitWithAck(ctx context.Context, event string, payload interface{}, ack channel.AckFunc) error {
	id := atomic.AddInt64(&c.nextAckID, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return errors.NewConnectionError(event)
	}
	c.pending[id] = ack
	c.mu.Unlock()

	if err := c.write(ctx, event, id, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}
	return nil
}

// On subscribes a handler to a server-pushed event.
func (c *Client) On(event string, handler channel.EventHandler) func() {
	id := atomic.AddInt64(&c.nextSubID, 1)
	sub := &subscription{id: id, handler: handler}

	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], sub)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.handlers[event]
		for i, s := range subs {
			if s.id == id {
				c.handlers[event] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (c *Client) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) OnStateChange(fn func(channel.State)) func() {
	id := atomic.AddInt64(&c.nextSubID, 1)
	sub := &stateSubscription{id: id, fn: fn}

	c.mu.Lock()
	c.stateSubs = append(c.stateSubs, sub)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.stateSubs {
			if s.id == id {
				c.stateSubs = append(c.stateSubs[:i], c.stateSubs[i+1:]...)
				break
			}
		}
	}
}

func (c *Client) write(ctx context.Context, event string, ackID int64, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.NewConnectionError(event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, fmt.Sprintf("marshal %s payload", event))
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame{Event: event, AckID: ackID, Data: data}); err != nil {
		metrics.IncrementCounter("transport_write_errors_total",
			map[string]string{"event": event}, "Frames that failed to send")
		writeErr := errors.WrapRetryable(err, errors.ErrCodeConnection, fmt.Sprintf("write %s frame", event))
		c.errLog.LogRetryableError(writeErr, "Frame write failed", logrus.Fields{"event": event})
		return writeErr
	}
	metrics.IncrementCounter("transport_frames_sent_total",
		map[string]string{"event": event}, "Frames sent")
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			c.onReadFailure(conn, err)
			return
		}
		metrics.IncrementCounter("transport_frames_received_total",
			map[string]string{"event": f.Event}, "Frames received")
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	if f.Event == ackEvent {
		c.mu.Lock()
		ack, ok := c.pending[f.AckID]
		if ok {
			delete(c.pending, f.AckID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.WithField("ack_id", f.AckID).Debug("Acknowledgment with no pending request")
			return
		}
		ack(f.Data)
		return
	}

	c.mu.Lock()
	subs := make([]*subscription, len(c.handlers[f.Event]))
	copy(subs, c.handlers[f.Event])
	c.mu.Unlock()

	if len(subs) == 0 {
		c.logger.WithField("event", f.Event).Debug("Unhandled event")
		return
	}
	for _, sub := range subs {
		sub.handler(f.Data)
	}
}

// onReadFailure tears down the connection after the read loop exits. Pending
// acknowledgments are dropped; their callers' timeouts handle the rest.
func (c *Client) onReadFailure(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	dropped := len(c.pending)
	c.pending = make(map[int64]channel.AckFunc)
	c.mu.Unlock()

	_ = conn.Close(websocket.StatusInternalError, "read failure")

	if !closed {
		c.logger.WithError(err).WithField("dropped_acks", dropped).Warn("Channel read loop ended")
		c.setState(channel.StateDisconnected)
	}
}

func (c *Client) setState(state channel.State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	subs := make([]*stateSubscription, len(c.stateSubs))
	copy(subs, c.stateSubs)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fn(state)
	}
}
