// Package showroom relays Showroom live comments by polling the comment log.
package showroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/leotyps/jkt48connect/pkg/chat"
)

const (
	// DefaultBaseURL is the Showroom web API root.
	DefaultBaseURL = "https://www.showroom-live.com"
	// DefaultInterval is the comment log polling period.
	DefaultInterval = 3 * time.Second

	commentLogPath = "/api/live/comment_log"
	requestTimeout = 10 * time.Second
)

var (
	ErrInvalidConfig = errors.New("invalid showroom config")
	ErrCommentLog    = errors.New("showroom comment log request failed")
)

// ErrorHook receives failed polls; polling continues regardless.
type ErrorHook func(err error)

// Option configures a Poller.
type Option func(*Poller)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(poller *Poller) {
		if httpClient != nil {
			poller.httpClient = httpClient
		}
	}
}

// WithInterval overrides the polling period.
func WithInterval(interval time.Duration) Option {
	return func(poller *Poller) {
		if interval > 0 {
			poller.interval = interval
		}
	}
}

// WithErrorHook registers a callback for failed polls.
func WithErrorHook(hook ErrorHook) Option {
	return func(poller *Poller) {
		poller.onError = hook
	}
}

// WithCapacity overrides how many of the latest comments are kept.
func WithCapacity(capacity int) Option {
	return func(poller *Poller) {
		if capacity > 0 {
			poller.capacity = capacity
		}
	}
}

// Poller is a chat.Relay for one Showroom room.
type Poller struct {
	roomID     string
	baseURL    string
	httpClient *http.Client
	interval   time.Duration
	capacity   int
	onError    ErrorHook
	connected  atomic.Bool
}

// NewPoller constructs a relay for the numeric room id.
func NewPoller(roomID string, baseURL string, options ...Option) (*Poller, error) {
	trimmedRoom := strings.TrimSpace(roomID)
	if trimmedRoom == "" {
		return nil, fmt.Errorf("%w: room id is empty", ErrInvalidConfig)
	}
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		trimmedBase = DefaultBaseURL
	}
	if _, err := url.Parse(trimmedBase); err != nil {
		return nil, fmt.Errorf("%w: base url: %v", ErrInvalidConfig, err)
	}
	poller := &Poller{
		roomID:     trimmedRoom,
		baseURL:    trimmedBase,
		httpClient: &http.Client{Timeout: requestTimeout},
		interval:   DefaultInterval,
		capacity:   chat.DefaultCapacity,
	}
	for _, option := range options {
		if option != nil {
			option(poller)
		}
	}
	return poller, nil
}

// Connected reports whether the last poll succeeded.
func (poller *Poller) Connected() bool {
	return poller.connected.Load()
}

// Run polls immediately and then every interval until ctx is done,
// replacing the sink contents with the latest comments each time.
func (poller *Poller) Run(ctx context.Context, sink chat.Sink) error {
	ticker := time.NewTicker(poller.interval)
	defer ticker.Stop()
	defer poller.connected.Store(false)
	for {
		poller.poll(ctx, sink)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (poller *Poller) poll(ctx context.Context, sink chat.Sink) {
	messages, err := poller.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		poller.connected.Store(false)
		if poller.onError != nil {
			poller.onError(err)
		}
		return
	}
	poller.connected.Store(true)
	sink.Replace(messages)
}

type commentLogResponse struct {
	CommentLog []comment `json:"comment_log"`
}

type comment struct {
	ID        json.Number `json:"id"`
	UserID    json.Number `json:"user_id"`
	Name      string      `json:"name"`
	AvatarURL string      `json:"avatar_url"`
	Comment   string      `json:"comment"`
	CreatedAt int64       `json:"created_at"`
}

func (poller *Poller) fetch(ctx context.Context) ([]chat.Message, error) {
	endpoint := poller.baseURL + commentLogPath + "?" + url.Values{"room_id": {poller.roomID}}.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommentLog, err)
	}
	response, err := poller.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommentLog, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrCommentLog, response.StatusCode)
	}
	decoder := json.NewDecoder(response.Body)
	decoder.UseNumber()
	var decoded commentLogResponse
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommentLog, err)
	}

	comments := decoded.CommentLog
	sort.SliceStable(comments, func(left, right int) bool {
		return comments[left].CreatedAt < comments[right].CreatedAt
	})
	if len(comments) > poller.capacity {
		comments = comments[len(comments)-poller.capacity:]
	}
	messages := make([]chat.Message, 0, len(comments))
	for index, entry := range comments {
		text := strings.TrimSpace(entry.Comment)
		if text == "" {
			continue
		}
		messages = append(messages, chat.Message{
			ID:        commentID(entry, index),
			Provider:  chat.ProviderShowroom,
			Author:    strings.TrimSpace(entry.Name),
			AvatarURL: strings.TrimSpace(entry.AvatarURL),
			Text:      text,
			Timestamp: time.Unix(entry.CreatedAt, 0).UTC(),
		})
	}
	return messages, nil
}

func commentID(entry comment, index int) string {
	if id := entry.ID.String(); id != "" {
		return id
	}
	return entry.UserID.String() + "-" + strconv.FormatInt(entry.CreatedAt, 10) + "-" + strconv.Itoa(index)
}
