package chat

import (
	"fmt"
	"strings"
	"time"
)

// Provider names a live chat source.
type Provider string

const (
	ProviderIDN      Provider = "idn"
	ProviderShowroom Provider = "showroom"
)

// ParseProvider validates a provider name.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderIDN:
		return ProviderIDN, nil
	case ProviderShowroom:
		return ProviderShowroom, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, raw)
	}
}

// String returns the wire value.
func (provider Provider) String() string {
	return string(provider)
}

// Message is a chat line normalized across providers.
type Message struct {
	ID        string    `json:"id"`
	Provider  Provider  `json:"provider"`
	Author    string    `json:"author"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// key identifies a message across snapshots; messages without an ID fall
// back to author, timestamp and text.
func (message Message) key() string {
	if message.ID != "" {
		return message.ID
	}
	return message.Author + "|" + message.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + message.Text
}
