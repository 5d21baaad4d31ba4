package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/privacy"
	"chatsync/internal/retry"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Handler applies one push event
type Handler interface {
	HandleEvent(ctx context.Context, event models.Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, event models.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, event models.Event) error {
	return f(ctx, event)
}

// Options carries the optional collaborators of a Client
type Options struct {
	Metrics *metrics.Registry
	Logger  *logrus.Logger
}

// Client keeps a websocket to the chat service open, dispatches every frame
// to the handler and reconnects with exponential backoff.
type Client struct {
	url          string
	token        string
	selfID       string
	ackDelivered bool
	dialTimeout  time.Duration
	handler      Handler
	backoff      *retry.Backoff
	metrics      *metrics.Registry
	logger       *logrus.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// NewClient creates a push client. selfID is the signed in user and is
// used to skip delivery acks for our own messages.
func NewClient(cfg models.RealtimeConfig, token, selfID string, handler Handler, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	initial := cfg.ReconnectInitialMs
	if initial <= 0 {
		initial = constants.DefaultReconnectInitialMs
	}
	maxDelay := cfg.ReconnectMaxMs
	if maxDelay <= 0 {
		maxDelay = constants.DefaultReconnectMaxMs
	}
	dialTimeout := cfg.DialTimeoutSec
	if dialTimeout <= 0 {
		dialTimeout = constants.DefaultDialTimeoutSec
	}

	return &Client{
		url:          cfg.URL,
		token:        token,
		selfID:       selfID,
		ackDelivered: cfg.AckDelivered,
		dialTimeout:  time.Duration(dialTimeout) * time.Second,
		handler:      handler,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(initial) * time.Millisecond,
			MaxDelay:     time.Duration(maxDelay) * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  1,
			Jitter:       true,
		}),
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Connected reports whether a socket is currently open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and serves frames until ctx is done
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, errSessionEstablished) {
			attempt = 0
		}
		attempt++

		delay := c.backoff.Delay(attempt)
		c.logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).WithError(err).Warn("Real-time connection lost, reconnecting")
		c.metrics.IncrementCounter(metrics.RealtimeReconnects, nil, "Real-time reconnect attempts")

		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

var errSessionEstablished = errors.New("real-time session closed")

// session dials once and reads until the socket fails. A session that got
// connected returns an error wrapping errSessionEstablished.
func (c *Client) session(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("Real-time connection established")

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", errSessionEstablished, err)
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransport, "real-time dial failed").
			WithContext("status_code", status)
	}
	conn.SetReadLimit(constants.DefaultMaxFrameBytes)
	return conn, nil
}

// dispatch decodes one frame and hands it to the handler. Bad frames and
// handler failures are logged and never close the socket.
func (c *Client) dispatch(ctx context.Context, data []byte) {
	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
		c.logger.WithField("size_bytes", len(data)).Debug("Ignoring undecodable real-time frame")
		return
	}

	c.metrics.IncrementCounter(metrics.RealtimeEvents, map[string]string{"event": string(event.Type)}, "Real-time events received")

	if event.Type == models.EventNewMessage {
		c.maybeAck(ctx, event)
	}

	if c.handler == nil {
		return
	}
	if err := c.handler.HandleEvent(ctx, event); err != nil {
		c.logger.WithError(err).WithField("event", event.Type).Warn("Failed to apply real-time event")
	}
}

func (c *Client) maybeAck(ctx context.Context, event models.Event) {
	if !c.ackDelivered || c.selfID == "" {
		return
	}

	var msg models.Message
	if err := json.Unmarshal(event.Payload, &msg); err != nil || msg.ID == "" {
		return
	}
	if msg.SenderID == "" || msg.SenderID == c.selfID {
		return
	}

	ack := models.AckDeliveredPayload{MessageID: msg.ID, SenderID: msg.SenderID}
	if err := c.Send(ctx, models.EventAckDelivered, ack); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"message_id": privacy.MaskMessageID(msg.ID),
		}).Debug("Failed to send delivery ack")
	}
}

// Send writes one event frame on the open socket
func (c *Client) Send(ctx context.Context, eventType models.EventType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	frame, err := json.Marshal(models.Event{Type: eventType, Payload: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", eventType, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperrors.New(apperrors.ErrCodeTransport, "real-time connection is not open")
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}
