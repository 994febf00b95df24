package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/reliability"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// ConversationMessage is one chat turn exchanged with the backend.
type ConversationMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

var (
	ErrUnauthorized = errors.New("chat backend rejected the credential")
	ErrNotConnected = errors.New("chat socket is not connected")
)

type Options struct {
	URL          string
	Token        string
	DialAttempts int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// Client keeps one socket to the conversation backend and republishes assistant frames.
type Client struct {
	url          string
	dialer       websocket.Dialer
	dialAttempts int
	baseDelay    time.Duration
	maxDelay     time.Duration
	writeTimeout time.Duration
	logger       zerolog.Logger

	messages chan ConversationMessage

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("parse chat url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("chat url must be ws(s) or http(s), got %q", opts.URL)
	}
	if strings.TrimSpace(opts.Token) != "" {
		q := u.Query()
		q.Set("Authorization", opts.Token)
		u.RawQuery = q.Encode()
	}
	if opts.DialAttempts <= 0 {
		opts.DialAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Client{
		url: u.String(),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 3 * time.Second,
		},
		dialAttempts: opts.DialAttempts,
		baseDelay:    opts.BaseDelay,
		maxDelay:     opts.MaxDelay,
		writeTimeout: opts.WriteTimeout,
		logger:       observability.Component(opts.Logger, "chat"),
		messages:     make(chan ConversationMessage, 64),
	}, nil
}

// Messages delivers assistant messages. It is closed when Run returns.
func (c *Client) Messages() <-chan ConversationMessage { return c.messages }

// Connect dials with capped jittered backoff. An unauthorized handshake is not retried.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.dialAttempts; attempt++ {
		if attempt > 0 {
			delay := reliability.JitteredBackoff(attempt-1, c.baseDelay, c.maxDelay, nil)
			c.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying chat connect")
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
		err := c.dial(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return err
		}
		c.logger.Warn().Err(err).Msg("chat connect failed")
		lastErr = err
	}
	return lastErr
}

func (c *Client) dial(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			if reliability.IsAuthFailureStatus(resp.StatusCode) {
				return ErrUnauthorized
			}
			return fmt.Errorf("chat dial failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("chat dial failed: %w", err)
	}
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.logger.Info().Msg("chat connected")
	return nil
}

// Run reads frames until ctx ends, reconnecting after disconnects.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.messages)
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		conn := c.current()
		if conn == nil {
			if err := c.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn().Err(err).Msg("chat disconnected")
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg := ConversationMessage{
			ID:        "ai_" + uuid.NewString(),
			Content:   string(data),
			Sender:    SenderAssistant,
			Timestamp: time.Now(),
			Status:    StatusSent,
		}
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send writes text as a plain frame and returns the user message record.
func (c *Client) Send(text string) (ConversationMessage, error) {
	msg := ConversationMessage{
		ID:        uuid.NewString(),
		Content:   text,
		Sender:    SenderUser,
		Timestamp: time.Now(),
		Status:    StatusSending,
	}
	conn := c.current()
	if conn == nil {
		msg.Status = StatusError
		return msg, ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		msg.Status = StatusError
		return msg, fmt.Errorf("chat send: %w", err)
	}
	msg.Status = StatusSent
	return msg, nil
}

func (c *Client) Connected() bool { return c.current() != nil }

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
