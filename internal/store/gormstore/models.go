package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CheckoutSession mirrors the checkout_sessions table.
type CheckoutSession struct {
	SessionID        string         `gorm:"primaryKey"`
	Kind             string         `gorm:"not null;index:idx_checkout_kind_status,priority:1"`
	Status           string         `gorm:"not null;index:idx_checkout_kind_status,priority:2"`
	AmountIDR        int64          `gorm:"not null"`
	FeeIDR           int64          `gorm:"not null"`
	TotalIDR         int64          `gorm:"not null;index"`
	Quantity         int64          `gorm:"not null"`
	OwnerName        string         `gorm:"not null"`
	OwnerEmail       string         `gorm:"not null"`
	OwnerCustomID    string         `gorm:"not null"`
	QRImageURL       string         `gorm:"not null"`
	PaymentReference string         `gorm:"not null"`
	Remaining        int            `gorm:"not null"`
	FailureKind      string         `gorm:"not null"`
	FailureMessage   string         `gorm:"not null"`
	Fulfillment      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

func (CheckoutSession) TableName() string { return "checkout_sessions" }

// Donation mirrors the donations table.
type Donation struct {
	DonationID       string    `gorm:"type:uuid;primaryKey"`
	SessionID        string    `gorm:"not null;index:uniq_donations_session,unique"`
	Name             string    `gorm:"not null"`
	Email            string    `gorm:"not null"`
	AmountIDR        int64     `gorm:"not null"`
	FeeIDR           int64     `gorm:"not null"`
	TotalIDR         int64     `gorm:"not null"`
	PaymentReference string    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (Donation) TableName() string { return "donations" }

func (donation *Donation) BeforeCreate(tx *gorm.DB) error {
	if donation.DonationID == "" {
		donation.DonationID = uuid.NewString()
	}
	return nil
}

// Changelog mirrors the changelogs table.
type Changelog struct {
	ChangelogID string    `gorm:"type:uuid;primaryKey"`
	Title       string    `gorm:"not null"`
	Version     string    `gorm:"not null"`
	Description string    `gorm:"not null"`
	Type        string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_changelogs_created"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Changelog) TableName() string { return "changelogs" }

func (changelog *Changelog) BeforeCreate(tx *gorm.DB) error {
	if changelog.ChangelogID == "" {
		changelog.ChangelogID = uuid.NewString()
	}
	return nil
}

// Models lists every table for schema migration.
func Models() []any {
	return []any{&CheckoutSession{}, &Donation{}, &Changelog{}}
}
