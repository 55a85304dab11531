// Package jkt48api is a client for the JKT48Connect data API.
package jkt48api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://v2.jkt48connect.com"

	apiKeyParameter    = "api_key"
	defaultTimeout     = 15 * time.Second
	maxErrorBodyLength = 512
)

var (
	ErrInvalidConfig = errors.New("invalid jkt48 api config")
	ErrInvalidInput  = errors.New("invalid jkt48 api input")
	ErrRequest       = errors.New("jkt48 api request failed")
	ErrStatus        = errors.New("jkt48 api returned an error status")
	ErrDecode        = errors.New("jkt48 api response could not be decoded")
)

// StatusError carries a non-success answer from the API.
type StatusError struct {
	Path       string
	StatusCode int
	Message    string
}

// Error returns the formatted error message.
func (statusError StatusError) Error() string {
	if statusError.Message == "" {
		return fmt.Sprintf("%s: status %d", statusError.Path, statusError.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", statusError.Path, statusError.StatusCode, statusError.Message)
}

// Unwrap exposes ErrStatus.
func (statusError StatusError) Unwrap() error {
	return ErrStatus
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithAdminToken sets the bearer token sent on admin and database calls.
func WithAdminToken(token string) Option {
	return func(client *Client) {
		client.adminToken = strings.TrimSpace(token)
	}
}

// Client calls the data API with a fixed API key.
type Client struct {
	baseURL    string
	apiKey     string
	adminToken string
	httpClient *http.Client
}

// NewClient constructs a Client.
func NewClient(baseURL string, apiKey string, options ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrInvalidConfig)
	}
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		trimmedBase = DefaultBaseURL
	}
	parsed, err := url.Parse(trimmedBase)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, baseURL)
	}
	client := &Client{
		baseURL:    trimmedBase,
		apiKey:     trimmedKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// Admin returns the API key administration surface.
func (client *Client) Admin() *AdminClient {
	return &AdminClient{client: client}
}

// Database returns the changelog database surface.
func (client *Client) Database() *DatabaseClient {
	return &DatabaseClient{client: client}
}

type envelope struct {
	Status  json.RawMessage `json:"status"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (client *Client) get(ctx context.Context, path string, query url.Values, target any) error {
	return client.do(ctx, http.MethodGet, path, query, nil, false, target)
}

func (client *Client) do(ctx context.Context, method string, path string, query url.Values, body any, admin bool, target any) error {
	values := url.Values{}
	for key, entries := range query {
		values[key] = append([]string(nil), entries...)
	}
	values.Set(apiKeyParameter, client.apiKey)
	endpoint := client.baseURL + path + "?" + values.Encode()

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode body: %v", ErrInvalidInput, err)
		}
		payload = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if admin && client.adminToken != "" {
		request.Header.Set("Authorization", "Bearer "+client.adminToken)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRequest, method, path, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrRequest, path, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return StatusError{Path: path, StatusCode: response.StatusCode, Message: errorMessage(raw)}
	}
	return decodeBody(path, response.StatusCode, raw, target)
}

// decodeBody accepts both {status, data} envelopes and bare payloads.
func decodeBody(path string, statusCode int, raw []byte, target any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		if target == nil {
			return nil
		}
		return fmt.Errorf("%w: %s: empty body", ErrDecode, path)
	}
	if trimmed[0] == '{' {
		var wrapped envelope
		if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.isEnvelope() {
			if !statusOK(wrapped) {
				return StatusError{Path: path, StatusCode: statusCode, Message: wrapped.Message}
			}
			if target == nil {
				return nil
			}
			if len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
				trimmed = wrapped.Data
			}
		}
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return nil
}

// isEnvelope tells a wrapper apart from a bare object that has its own status field.
func (wrapped envelope) isEnvelope() bool {
	if len(wrapped.Data) > 0 || wrapped.Success != nil {
		return true
	}
	var flag bool
	return len(wrapped.Status) > 0 && json.Unmarshal(wrapped.Status, &flag) == nil
}

func statusOK(wrapped envelope) bool {
	if wrapped.Success != nil && !*wrapped.Success {
		return false
	}
	if len(wrapped.Status) == 0 {
		return true
	}
	var flag bool
	if err := json.Unmarshal(wrapped.Status, &flag); err == nil {
		return flag
	}
	var code int
	if err := json.Unmarshal(wrapped.Status, &code); err == nil {
		return code >= http.StatusOK && code < http.StatusMultipleChoices
	}
	var text string
	if err := json.Unmarshal(wrapped.Status, &text); err == nil {
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "success", "ok", "true", "200":
			return true
		}
		return false
	}
	return false
}

func errorMessage(raw []byte) string {
	var wrapped struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Message != "" {
			return wrapped.Message
		}
		if wrapped.Error != "" {
			return wrapped.Error
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > maxErrorBodyLength {
		text = text[:maxErrorBodyLength]
	}
	return text
}

func pathSegment(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: identifier is empty", ErrInvalidInput)
	}
	return url.PathEscape(trimmed), nil
}
