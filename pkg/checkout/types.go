package checkout

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Amount is an integer rupiah value.
type Amount int64

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 exposes the raw value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Kind selects the fulfillment applied once a payment is verified.
type Kind string

const (
	KindAPIKey   Kind = "api_key"
	KindLimit    Kind = "limit"
	KindExpiry   Kind = "expiry"
	KindDonation Kind = "donation"
)

// ParseKind validates a purchase kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.TrimSpace(raw)) {
	case KindAPIKey:
		return KindAPIKey, nil
	case KindLimit:
		return KindLimit, nil
	case KindExpiry:
		return KindExpiry, nil
	case KindDonation:
		return KindDonation, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
}

// String returns the wire value.
func (kind Kind) String() string {
	return string(kind)
}

// Status defines the session lifecycle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusCreating   Status = "creating"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a status, accepting the "waiting" and "checking" aliases.
func ParseStatus(raw string) (Status, error) {
	switch strings.TrimSpace(raw) {
	case string(StatusIdle):
		return StatusIdle, nil
	case string(StatusCreating):
		return StatusCreating, nil
	case string(StatusPending), "waiting":
		return StatusPending, nil
	case string(StatusProcessing), "checking":
		return StatusProcessing, nil
	case string(StatusSuccess):
		return StatusSuccess, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the wire value.
func (status Status) String() string {
	return string(status)
}

// Terminal reports whether no further transition can happen.
func (status Status) Terminal() bool {
	return status == StatusSuccess || status == StatusFailed
}

// Live reports whether the session is between creation and a terminal state.
func (status Status) Live() bool {
	return status == StatusCreating || status == StatusPending || status == StatusProcessing
}

// Owner carries the purchaser details collected by the page.
type Owner struct {
	Name     string
	Email    string
	CustomID string
	APIKey   string
}

// NewOwner validates owner fields for the given purchase kind.
func NewOwner(kind Kind, name string, email string, customID string, apiKey string) (Owner, error) {
	owner := Owner{
		Name:     strings.TrimSpace(name),
		Email:    strings.TrimSpace(email),
		CustomID: strings.TrimSpace(customID),
		APIKey:   strings.TrimSpace(apiKey),
	}
	switch kind {
	case KindAPIKey:
		if owner.Name == "" {
			return Owner{}, fmt.Errorf("%w: name is required", ErrInvalidOwner)
		}
		if owner.Email == "" {
			return Owner{}, fmt.Errorf("%w: email is required", ErrInvalidEmail)
		}
	case KindLimit, KindExpiry:
		if owner.APIKey == "" {
			return Owner{}, fmt.Errorf("%w: api key is required", ErrInvalidOwner)
		}
	case KindDonation:
		if owner.Name == "" {
			return Owner{}, fmt.Errorf("%w: name is required", ErrInvalidOwner)
		}
	default:
		return Owner{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if owner.Email != "" {
		if _, err := mail.ParseAddress(owner.Email); err != nil {
			return Owner{}, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
		}
	}
	return owner, nil
}

// Order is a validated checkout request.
type Order struct {
	Kind     Kind
	Amount   Amount
	Quantity int64
	Owner    Owner
}

// NewOrder validates a checkout request.
func NewOrder(kind Kind, amount Amount, quantity int64, owner Owner) (Order, error) {
	if _, err := ParseKind(kind.String()); err != nil {
		return Order{}, err
	}
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if quantity <= 0 {
		return Order{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidQuantity)
	}
	return Order{Kind: kind, Amount: amount, Quantity: quantity, Owner: owner}, nil
}

// FailureKind distinguishes why a session failed.
type FailureKind string

const (
	FailureCreate      FailureKind = "create"
	FailureTimeout     FailureKind = "timeout"
	FailureFulfillment FailureKind = "fulfillment"
)

// Failure describes a failed session in user-facing terms.
type Failure struct {
	Kind    FailureKind
	Message string
}

// Fulfillment is the verbatim result of the post-payment action.
type Fulfillment struct {
	Reference string
	Details   map[string]any
}

// PaymentStatus is the gateway's answer to a status lookup.
type PaymentStatus struct {
	Paid      bool
	Reference string
}

// Session is a snapshot of one checkout attempt.
type Session struct {
	ID               string
	Kind             Kind
	Amount           Amount
	Fee              Amount
	Total            Amount
	Quantity         int64
	Owner            Owner
	QRImageURL       string
	PaymentReference string
	Status           Status
	Remaining        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Failure          *Failure
	Fulfillment      *Fulfillment
}

// Gateway creates QRIS payments and looks up their settlement.
type Gateway interface {
	CreatePayment(ctx context.Context, total Amount) (string, error)
	CheckStatus(ctx context.Context, total Amount) (PaymentStatus, error)
}

// Fulfiller grants the purchased resource once a payment is verified.
type Fulfiller interface {
	Fulfill(ctx context.Context, session Session) (Fulfillment, error)
}

// TotalReserver keeps live totals unique so amount-keyed status lookups stay unambiguous.
type TotalReserver interface {
	Reserve(ctx context.Context, total Amount, ttl time.Duration) (bool, error)
	Release(ctx context.Context, total Amount) error
}
