// Package changelog manages release notes shown on the changelog page.
package changelog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	maxTitleLength   = 200
	maxVersionLength = 50
)

var (
	ErrInvalidInput  = errors.New("invalid changelog input")
	ErrInvalidType   = errors.New("invalid changelog type")
	ErrInvalidConfig = errors.New("invalid changelog config")
	ErrNotFound      = errors.New("changelog not found")
)

// Type classifies a changelog entry.
type Type string

const (
	TypeFeature     Type = "feature"
	TypeFix         Type = "fix"
	TypeImprovement Type = "improvement"
	TypeBreaking    Type = "breaking"
)

// ParseType validates an entry type.
func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeFeature:
		return TypeFeature, nil
	case TypeFix:
		return TypeFix, nil
	case TypeImprovement:
		return TypeImprovement, nil
	case TypeBreaking:
		return TypeBreaking, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
}

// String returns the wire value.
func (entryType Type) String() string {
	return string(entryType)
}

// Entry is a stored changelog entry.
type Entry struct {
	ID          string
	Title       string
	Version     string
	Description string
	Type        Type
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Input is an unvalidated create or update request.
type Input struct {
	Title       string
	Version     string
	Description string
	Type        string
}

func (input Input) entry() (Entry, error) {
	title := strings.TrimSpace(input.Title)
	version := strings.TrimSpace(input.Version)
	description := strings.TrimSpace(input.Description)
	if title == "" || len(title) > maxTitleLength {
		return Entry{}, fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, maxTitleLength)
	}
	if version == "" || len(version) > maxVersionLength {
		return Entry{}, fmt.Errorf("%w: version must be 1-%d characters", ErrInvalidInput, maxVersionLength)
	}
	if description == "" {
		return Entry{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	entryType, err := ParseType(input.Type)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Title: title, Version: version, Description: description, Type: entryType}, nil
}

// Store persists changelog entries.
type Store interface {
	CreateChangelog(ctx context.Context, entry Entry) (Entry, error)
	ListChangelogs(ctx context.Context, limit int) ([]Entry, error)
	UpdateChangelog(ctx context.Context, id string, entry Entry) (Entry, error)
	DeleteChangelog(ctx context.Context, id string) error
}

// Service validates requests and delegates to a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, now func() time.Time) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidConfig)
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: store, now: now}, nil
}

// Create validates and stores a new entry.
func (service *Service) Create(ctx context.Context, input Input) (Entry, error) {
	entry, err := input.entry()
	if err != nil {
		return Entry{}, err
	}
	now := service.now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return service.store.CreateChangelog(ctx, entry)
}

// List returns up to limit entries, newest first.
func (service *Service) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return service.store.ListChangelogs(ctx, limit)
}

// Update replaces the content of an entry.
func (service *Service) Update(ctx context.Context, id string, input Input) (Entry, error) {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return Entry{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	entry, err := input.entry()
	if err != nil {
		return Entry{}, err
	}
	entry.ID = trimmedID
	entry.UpdatedAt = service.now()
	return service.store.UpdateChangelog(ctx, trimmedID, entry)
}

// Delete removes an entry.
func (service *Service) Delete(ctx context.Context, id string) error {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return service.store.DeleteChangelog(ctx, trimmedID)
}
