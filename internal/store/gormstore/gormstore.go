package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leotyps/jkt48connect/internal/changelog"
	"github.com/leotyps/jkt48connect/internal/fulfillment"
	"github.com/leotyps/jkt48connect/pkg/checkout"
)

const (
	constraintDonationSession = "uniq_donations_session"
	defaultFulfillmentJSON    = "{}"
	pgUniqueViolationCode     = "23505"
	sqliteConstraintCode      = 19
	errorOperationStore       = "store"
	errorSubjectSession       = "session"
	errorSubjectDonation      = "donation"
	errorSubjectChangelog     = "changelog"
	errorCodeDelete           = "delete"
	errorCodeEncode           = "encode"
	errorCodeGet              = "get"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeUpdate           = "update"
	errorCodeUpsert           = "upsert"
)

// Store persists checkout sessions, donations and changelogs using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// RecordSession upserts the latest snapshot of a checkout session.
func (store *Store) RecordSession(ctx context.Context, session checkout.Session) error {
	fulfillmentJSON := defaultFulfillmentJSON
	if session.Fulfillment != nil {
		encoded, err := json.Marshal(fulfillmentDocument{Reference: session.Fulfillment.Reference, Details: session.Fulfillment.Details})
		if err != nil {
			return wrapStoreError(errorSubjectSession, errorCodeEncode, err)
		}
		fulfillmentJSON = string(encoded)
	}
	model := CheckoutSession{
		SessionID:        session.ID,
		Kind:             session.Kind.String(),
		Status:           session.Status.String(),
		AmountIDR:        session.Amount.Int64(),
		FeeIDR:           session.Fee.Int64(),
		TotalIDR:         session.Total.Int64(),
		Quantity:         session.Quantity,
		OwnerName:        session.Owner.Name,
		OwnerEmail:       session.Owner.Email,
		OwnerCustomID:    session.Owner.CustomID,
		QRImageURL:       session.QRImageURL,
		PaymentReference: session.PaymentReference,
		Remaining:        session.Remaining,
		Fulfillment:      datatypes.JSON([]byte(fulfillmentJSON)),
		CreatedAt:        session.CreatedAt,
		UpdatedAt:        session.UpdatedAt,
	}
	if session.Failure != nil {
		model.FailureKind = string(session.Failure.Kind)
		model.FailureMessage = session.Failure.Message
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = model.CreatedAt
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeUpsert, err)
	}
	return nil
}

// GetSession loads the last recorded snapshot of a session.
func (store *Store) GetSession(ctx context.Context, sessionID string) (checkout.Session, error) {
	var model CheckoutSession
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return checkout.Session{}, wrapStoreError(errorSubjectSession, errorCodeGet, checkout.ErrSessionNotFound)
		}
		return checkout.Session{}, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	session, err := mapCheckoutSession(model)
	if err != nil {
		return checkout.Session{}, wrapStoreError(errorSubjectSession, errorCodeInvalid, err)
	}
	return session, nil
}

// InsertDonation stores a donation receipt. A second receipt for the same
// session returns the first one.
func (store *Store) InsertDonation(ctx context.Context, donation fulfillment.Donation) (fulfillment.Donation, error) {
	model := Donation{
		SessionID:        donation.SessionID,
		Name:             donation.Name,
		Email:            donation.Email,
		AmountIDR:        donation.Amount,
		FeeIDR:           donation.Fee,
		TotalIDR:         donation.Total,
		PaymentReference: donation.PaymentReference,
		CreatedAt:        donation.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isDonationConflict(err) {
		var existing Donation
		if lookupErr := store.db.WithContext(ctx).Where("session_id = ?", donation.SessionID).Take(&existing).Error; lookupErr != nil {
			return fulfillment.Donation{}, wrapStoreError(errorSubjectDonation, errorCodeGet, lookupErr)
		}
		return mapDonation(existing), nil
	}
	if err != nil {
		return fulfillment.Donation{}, wrapStoreError(errorSubjectDonation, errorCodeInsert, err)
	}
	return mapDonation(model), nil
}

// ListDonations returns the most recent donations.
func (store *Store) ListDonations(ctx context.Context, limit int) ([]fulfillment.Donation, error) {
	var rows []Donation
	err := store.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDonation, errorCodeList, err)
	}
	donations := make([]fulfillment.Donation, 0, len(rows))
	for _, row := range rows {
		donations = append(donations, mapDonation(row))
	}
	return donations, nil
}

// CreateChangelog inserts a changelog entry.
func (store *Store) CreateChangelog(ctx context.Context, entry changelog.Entry) (changelog.Entry, error) {
	model := Changelog{
		Title:       entry.Title,
		Version:     entry.Version,
		Description: entry.Description,
		Type:        entry.Type.String(),
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.UpdatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return changelog.Entry{}, wrapStoreError(errorSubjectChangelog, errorCodeInsert, err)
	}
	return mapChangelog(model)
}

// ListChangelogs returns entries newest first.
func (store *Store) ListChangelogs(ctx context.Context, limit int) ([]changelog.Entry, error) {
	var rows []Changelog
	err := store.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectChangelog, errorCodeList, err)
	}
	entries := make([]changelog.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapChangelog(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectChangelog, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// UpdateChangelog replaces the content of an entry.
func (store *Store) UpdateChangelog(ctx context.Context, id string, entry changelog.Entry) (changelog.Entry, error) {
	var updated Changelog
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.
			Model(&Changelog{}).
			Where("changelog_id = ?", id).
			Updates(map[string]any{
				"title":       entry.Title,
				"version":     entry.Version,
				"description": entry.Description,
				"type":        entry.Type.String(),
				"updated_at":  entry.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return changelog.ErrNotFound
		}
		return transaction.Where("changelog_id = ?", id).Take(&updated).Error
	})
	if err != nil {
		return changelog.Entry{}, wrapStoreError(errorSubjectChangelog, errorCodeUpdate, err)
	}
	return mapChangelog(updated)
}

// DeleteChangelog removes an entry.
func (store *Store) DeleteChangelog(ctx context.Context, id string) error {
	result := store.db.WithContext(ctx).Where("changelog_id = ?", id).Delete(&Changelog{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectChangelog, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectChangelog, errorCodeDelete, changelog.ErrNotFound)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return checkout.WrapError(errorOperationStore, subject, code, err)
}

type fulfillmentDocument struct {
	Reference string         `json:"reference"`
	Details   map[string]any `json:"details,omitempty"`
}

func mapCheckoutSession(model CheckoutSession) (checkout.Session, error) {
	kind, err := checkout.ParseKind(model.Kind)
	if err != nil {
		return checkout.Session{}, err
	}
	status, err := checkout.ParseStatus(model.Status)
	if err != nil {
		return checkout.Session{}, err
	}
	session := checkout.Session{
		ID:               model.SessionID,
		Kind:             kind,
		Amount:           checkout.Amount(model.AmountIDR),
		Fee:              checkout.Amount(model.FeeIDR),
		Total:            checkout.Amount(model.TotalIDR),
		Quantity:         model.Quantity,
		Owner:            checkout.Owner{Name: model.OwnerName, Email: model.OwnerEmail, CustomID: model.OwnerCustomID},
		QRImageURL:       model.QRImageURL,
		PaymentReference: model.PaymentReference,
		Status:           status,
		Remaining:        model.Remaining,
		CreatedAt:        model.CreatedAt.UTC(),
		UpdatedAt:        model.UpdatedAt.UTC(),
	}
	if model.FailureKind != "" {
		session.Failure = &checkout.Failure{Kind: checkout.FailureKind(model.FailureKind), Message: model.FailureMessage}
	}
	if raw := string(model.Fulfillment); raw != "" && raw != defaultFulfillmentJSON {
		var document fulfillmentDocument
		if err := json.Unmarshal(model.Fulfillment, &document); err != nil {
			return checkout.Session{}, err
		}
		session.Fulfillment = &checkout.Fulfillment{Reference: document.Reference, Details: document.Details}
	}
	return session, nil
}

func mapDonation(model Donation) fulfillment.Donation {
	return fulfillment.Donation{
		ID:               model.DonationID,
		SessionID:        model.SessionID,
		Name:             model.Name,
		Email:            model.Email,
		Amount:           model.AmountIDR,
		Fee:              model.FeeIDR,
		Total:            model.TotalIDR,
		PaymentReference: model.PaymentReference,
		CreatedAt:        model.CreatedAt.UTC(),
	}
}

func mapChangelog(model Changelog) (changelog.Entry, error) {
	entryType, err := changelog.ParseType(model.Type)
	if err != nil {
		return changelog.Entry{}, err
	}
	return changelog.Entry{
		ID:          model.ChangelogID,
		Title:       model.Title,
		Version:     model.Version,
		Description: model.Description,
		Type:        entryType,
		CreatedAt:   model.CreatedAt.UTC(),
		UpdatedAt:   model.UpdatedAt.UTC(),
	}, nil
}

func isDonationConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintDonationSession
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
