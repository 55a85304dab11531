// Package fulfillment grants what a verified checkout paid for.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leotyps/jkt48connect/internal/jkt48api"
	"github.com/leotyps/jkt48connect/pkg/checkout"
)

// DefaultValidityDays is the lifetime of a purchased API key.
const DefaultValidityDays = 30

var (
	ErrInvalidConfig   = errors.New("invalid fulfillment config")
	ErrUnsupportedKind = errors.New("no fulfiller for purchase kind")
	ErrKindMismatch    = errors.New("session kind does not match fulfiller")
)

// AdminClient is the subset of the data API admin surface used here.
type AdminClient interface {
	CreateKey(ctx context.Context, request jkt48api.CreateKeyRequest) (jkt48api.APIKeyDetail, error)
	AddLimit(ctx context.Context, apiKey string, amount int64) (jkt48api.APIKeyDetail, error)
	AddExpiry(ctx context.Context, apiKey string, days int64) (jkt48api.APIKeyDetail, error)
}

// Donation is a completed donation receipt.
type Donation struct {
	ID               string
	SessionID        string
	Name             string
	Email            string
	Amount           int64
	Fee              int64
	Total            int64
	PaymentReference string
	CreatedAt        time.Time
}

// DonationStore persists donation receipts.
type DonationStore interface {
	InsertDonation(ctx context.Context, donation Donation) (Donation, error)
}

// Router picks the fulfiller registered for a session's kind.
type Router struct {
	routes map[checkout.Kind]checkout.Fulfiller
}

// NewRouter validates that every route has a fulfiller.
func NewRouter(routes map[checkout.Kind]checkout.Fulfiller) (*Router, error) {
	copied := make(map[checkout.Kind]checkout.Fulfiller, len(routes))
	for kind, fulfiller := range routes {
		if _, err := checkout.ParseKind(kind.String()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if fulfiller == nil {
			return nil, fmt.Errorf("%w: fulfiller for %s is nil", ErrInvalidConfig, kind)
		}
		copied[kind] = fulfiller
	}
	return &Router{routes: copied}, nil
}

// Fulfill dispatches on session.Kind.
func (router *Router) Fulfill(ctx context.Context, session checkout.Session) (checkout.Fulfillment, error) {
	fulfiller, ok := router.routes[session.Kind]
	if !ok {
		return checkout.Fulfillment{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, session.Kind)
	}
	return fulfiller.Fulfill(ctx, session)
}

// APIKeyIssuer creates a new API key for the purchaser.
type APIKeyIssuer struct {
	admin        AdminClient
	validityDays int64
}

// NewAPIKeyIssuer constructs an issuer; non-positive validityDays falls back to DefaultValidityDays.
func NewAPIKeyIssuer(admin AdminClient, validityDays int64) (*APIKeyIssuer, error) {
	if admin == nil {
		return nil, fmt.Errorf("%w: admin client is nil", ErrInvalidConfig)
	}
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}
	return &APIKeyIssuer{admin: admin, validityDays: validityDays}, nil
}

// Fulfill issues the key with the purchased request limit.
func (issuer *APIKeyIssuer) Fulfill(ctx context.Context, session checkout.Session) (checkout.Fulfillment, error) {
	if session.Kind != checkout.KindAPIKey {
		return checkout.Fulfillment{}, fmt.Errorf("%w: %s", ErrKindMismatch, session.Kind)
	}
	detail, err := issuer.admin.CreateKey(ctx, jkt48api.CreateKeyRequest{
		Owner:     session.Owner.Name,
		Email:     session.Owner.Email,
		CustomKey: session.Owner.CustomID,
		Limit:     session.Quantity,
		Days:      issuer.validityDays,
	})
	if err != nil {
		return checkout.Fulfillment{}, err
	}
	return keyFulfillment(detail), nil
}

// LimitExtender adds the purchased request limit to an existing key.
type LimitExtender struct {
	admin AdminClient
}

// NewLimitExtender constructs a LimitExtender.
func NewLimitExtender(admin AdminClient) (*LimitExtender, error) {
	if admin == nil {
		return nil, fmt.Errorf("%w: admin client is nil", ErrInvalidConfig)
	}
	return &LimitExtender{admin: admin}, nil
}

// Fulfill raises the limit by session.Quantity.
func (extender *LimitExtender) Fulfill(ctx context.Context, session checkout.Session) (checkout.Fulfillment, error) {
	if session.Kind != checkout.KindLimit {
		return checkout.Fulfillment{}, fmt.Errorf("%w: %s", ErrKindMismatch, session.Kind)
	}
	detail, err := extender.admin.AddLimit(ctx, session.Owner.APIKey, session.Quantity)
	if err != nil {
		return checkout.Fulfillment{}, err
	}
	return keyFulfillment(detail), nil
}

// ExpiryExtender adds the purchased days to an existing key.
type ExpiryExtender struct {
	admin AdminClient
}

// NewExpiryExtender constructs an ExpiryExtender.
func NewExpiryExtender(admin AdminClient) (*ExpiryExtender, error) {
	if admin == nil {
		return nil, fmt.Errorf("%w: admin client is nil", ErrInvalidConfig)
	}
	return &ExpiryExtender{admin: admin}, nil
}

// Fulfill extends the expiry by session.Quantity days.
func (extender *ExpiryExtender) Fulfill(ctx context.Context, session checkout.Session) (checkout.Fulfillment, error) {
	if session.Kind != checkout.KindExpiry {
		return checkout.Fulfillment{}, fmt.Errorf("%w: %s", ErrKindMismatch, session.Kind)
	}
	detail, err := extender.admin.AddExpiry(ctx, session.Owner.APIKey, session.Quantity)
	if err != nil {
		return checkout.Fulfillment{}, err
	}
	return keyFulfillment(detail), nil
}

// DonationRecorder marks a donation complete by storing its receipt.
type DonationRecorder struct {
	store DonationStore
	now   func() time.Time
}

// NewDonationRecorder constructs a DonationRecorder.
func NewDonationRecorder(store DonationStore, now func() time.Time) (*DonationRecorder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: donation store is nil", ErrInvalidConfig)
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DonationRecorder{store: store, now: now}, nil
}

// Fulfill stores the receipt.
func (recorder *DonationRecorder) Fulfill(ctx context.Context, session checkout.Session) (checkout.Fulfillment, error) {
	if session.Kind != checkout.KindDonation {
		return checkout.Fulfillment{}, fmt.Errorf("%w: %s", ErrKindMismatch, session.Kind)
	}
	stored, err := recorder.store.InsertDonation(ctx, Donation{
		SessionID:        session.ID,
		Name:             session.Owner.Name,
		Email:            session.Owner.Email,
		Amount:           session.Amount.Int64(),
		Fee:              session.Fee.Int64(),
		Total:            session.Total.Int64(),
		PaymentReference: session.PaymentReference,
		CreatedAt:        recorder.now(),
	})
	if err != nil {
		return checkout.Fulfillment{}, err
	}
	return checkout.Fulfillment{
		Reference: stored.ID,
		Details: map[string]any{
			"donation_id": stored.ID,
			"name":        stored.Name,
			"amount":      stored.Amount,
			"total":       stored.Total,
			"created_at":  stored.CreatedAt,
		},
	}, nil
}

func keyFulfillment(detail jkt48api.APIKeyDetail) checkout.Fulfillment {
	details := map[string]any{
		"api_key":   detail.APIKey,
		"owner":     detail.Owner,
		"limit":     detail.Limit,
		"remaining": detail.Remaining,
		"active":    detail.Active,
	}
	if email := strings.TrimSpace(detail.Email); email != "" {
		details["email"] = email
	}
	if !detail.ExpiresAt.IsZero() {
		details["expires_at"] = detail.ExpiresAt
	}
	if !detail.CreatedAt.IsZero() {
		details["created_at"] = detail.CreatedAt
	}
	return checkout.Fulfillment{Reference: detail.APIKey, Details: details}
}
