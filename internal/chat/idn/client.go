// Package idn relays IDN live chat, an IRC dialect spoken over a WebSocket.
package idn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/leotyps/jkt48connect/pkg/chat"
)

const (
	// DefaultGatewayURL is the IDN chat WebSocket endpoint.
	DefaultGatewayURL = "wss://chat.idn.app"

	nickPrefix       = "jkt48connect_"
	commandPing      = "PING"
	commandPrivmsg   = "PRIVMSG"
	resolveTimeout   = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

var (
	ErrInvalidConfig  = errors.New("invalid idn chat config")
	ErrResolveChannel = errors.New("idn chat channel lookup failed")
	ErrDial           = errors.New("idn chat dial failed")
)

// Config describes where and how to connect.
type Config struct {
	GatewayURL  string
	ResolverURL string
	Nick        string
	Policy      chat.ReconnectPolicy
}

// ReconnectHook is called before each reconnect wait.
type ReconnectHook func(attempt int, delay time.Duration, code int)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the client used for channel lookups.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(client *Client) {
		if dialer != nil {
			client.dialer = dialer
		}
	}
}

// WithWait overrides how reconnect delays are waited out.
func WithWait(wait func(ctx context.Context, delay time.Duration) error) Option {
	return func(client *Client) {
		if wait != nil {
			client.wait = wait
		}
	}
}

// WithReconnectHook registers a callback for reconnect attempts.
func WithReconnectHook(hook ReconnectHook) Option {
	return func(client *Client) {
		client.onReconnect = hook
	}
}

// WithNow overrides the timestamp source for payloads without one.
func WithNow(now func() time.Time) Option {
	return func(client *Client) {
		if now != nil {
			client.now = now
		}
	}
}

// Client is a chat.Relay for one IDN room.
type Client struct {
	room        string
	config      Config
	httpClient  *http.Client
	dialer      *websocket.Dialer
	wait        func(ctx context.Context, delay time.Duration) error
	onReconnect ReconnectHook
	now         func() time.Time
	connected   atomic.Bool
}

// NewClient constructs a relay for room, the IDN username or channel id.
func NewClient(room string, config Config, options ...Option) (*Client, error) {
	trimmedRoom := strings.TrimSpace(room)
	if trimmedRoom == "" {
		return nil, fmt.Errorf("%w: room is empty", ErrInvalidConfig)
	}
	config.GatewayURL = strings.TrimSpace(config.GatewayURL)
	if config.GatewayURL == "" {
		config.GatewayURL = DefaultGatewayURL
	}
	if _, err := url.Parse(config.GatewayURL); err != nil {
		return nil, fmt.Errorf("%w: gateway url: %v", ErrInvalidConfig, err)
	}
	config.ResolverURL = strings.TrimSpace(config.ResolverURL)
	config.Nick = strings.TrimSpace(config.Nick)
	if config.Nick == "" {
		config.Nick = nickPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	client := &Client{
		room:       trimmedRoom,
		config:     config,
		httpClient: &http.Client{Timeout: resolveTimeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		wait:       sleep,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// Connected reports whether the WebSocket is currently joined.
func (client *Client) Connected() bool {
	return client.connected.Load()
}

// Run connects and relays messages into sink. A normal close ends the
// relay; any other close reconnects under the configured policy until
// attempts run out.
func (client *Client) Run(ctx context.Context, sink chat.Sink) error {
	channel, err := client.resolveChannel(ctx)
	if err != nil {
		return err
	}
	attempt := 0
	for {
		code, received, sessionErr := client.session(ctx, channel, sink)
		if ctx.Err() != nil {
			return nil
		}
		if !client.config.Policy.ShouldReconnect(code) {
			return nil
		}
		if received {
			attempt = 0
		}
		attempt++
		delay, ok := client.config.Policy.Delay(attempt)
		if !ok {
			return fmt.Errorf("%w: room %s: %v", chat.ErrRelayExhausted, client.room, sessionErr)
		}
		if client.onReconnect != nil {
			client.onReconnect(attempt, delay, code)
		}
		if err := client.wait(ctx, delay); err != nil {
			return nil
		}
	}
}

// session runs one connection and returns its close code and whether any frame arrived.
func (client *Client) session(ctx context.Context, channel string, sink chat.Sink) (int, bool, error) {
	conn, _, err := client.dialer.DialContext(ctx, client.config.GatewayURL, nil)
	if err != nil {
		return chat.CloseAbnormal, false, fmt.Errorf("%w: %w", ErrDial, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, command := range handshake(client.config.Nick, channel) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
			return chat.CloseAbnormal, false, err
		}
	}
	client.connected.Store(true)
	defer client.connected.Store(false)

	received := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeError *websocket.CloseError
			if errors.As(err, &closeError) {
				return closeError.Code, received, err
			}
			return chat.CloseAbnormal, received, err
		}
		received = true
		for _, raw := range splitFrames(string(data)) {
			parsed, ok := parseLine(raw)
			if !ok {
				continue
			}
			switch parsed.command {
			case commandPing:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("PONG :"+parsed.trailing())); err != nil {
					return chat.CloseAbnormal, received, err
				}
			case commandPrivmsg:
				if message, ok := client.decode(parsed.trailing()); ok {
					sink.Push(message)
				}
			}
		}
	}
}

func handshake(nick string, channel string) []string {
	return []string{
		"NICK " + nick,
		"USER " + nick + " 0 * :" + nick,
		"JOIN #" + channel,
	}
}

type channelResponse struct {
	ChannelID string `json:"channel_id"`
	Data      struct {
		ChannelID string `json:"channel_id"`
	} `json:"data"`
}

func (client *Client) resolveChannel(ctx context.Context) (string, error) {
	if client.config.ResolverURL == "" {
		return client.room, nil
	}
	endpoint, err := url.Parse(client.config.ResolverURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolveChannel, err)
	}
	query := endpoint.Query()
	query.Set("username", client.room)
	endpoint.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolveChannel, err)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolveChannel, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrResolveChannel, response.StatusCode)
	}
	var decoded channelResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolveChannel, err)
	}
	channel := strings.TrimSpace(decoded.ChannelID)
	if channel == "" {
		channel = strings.TrimSpace(decoded.Data.ChannelID)
	}
	if channel == "" {
		return "", fmt.Errorf("%w: empty channel id for %s", ErrResolveChannel, client.room)
	}
	return channel, nil
}

type chatPayload struct {
	ID   string `json:"id"`
	Chat struct {
		Message string `json:"message"`
	} `json:"chat"`
	User struct {
		Name      string          `json:"name"`
		Username  string          `json:"username"`
		AvatarURL string          `json:"avatar_url"`
		Level     json.RawMessage `json:"level"`
	} `json:"user"`
	Timestamp int64 `json:"timestamp"`
}

func (client *Client) decode(body string) (chat.Message, bool) {
	var payload chatPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return chat.Message{}, false
	}
	text := strings.TrimSpace(payload.Chat.Message)
	if text == "" {
		return chat.Message{}, false
	}
	author := strings.TrimSpace(payload.User.Name)
	if author == "" {
		author = strings.TrimSpace(payload.User.Username)
	}
	timestamp := client.now()
	if payload.Timestamp > 0 {
		timestamp = time.UnixMilli(payload.Timestamp).UTC()
	}
	id := strings.TrimSpace(payload.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return chat.Message{
		ID:        id,
		Provider:  chat.ProviderIDN,
		Author:    author,
		AvatarURL: strings.TrimSpace(payload.User.AvatarURL),
		Tier:      rawText(payload.User.Level),
		Text:      text,
		Timestamp: timestamp,
	}, true
}

func rawText(raw json.RawMessage) string {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "null" {
		return ""
	}
	return text
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
