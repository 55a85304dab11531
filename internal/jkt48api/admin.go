package jkt48api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	adminStatsPath = "/api/admin/stats"
	adminKeysPath  = "/api/admin/keys"
	changelogsPath = "/api/database/changelogs"
)

// AdminClient manages API keys.
type AdminClient struct {
	client *Client
}

// Stats returns usage totals.
func (admin *AdminClient) Stats(ctx context.Context) (AdminStats, error) {
	var stats AdminStats
	if err := admin.client.do(ctx, http.MethodGet, adminStatsPath, nil, nil, true, &stats); err != nil {
		return AdminStats{}, err
	}
	return stats, nil
}

// KeyDetail fetches one API key.
func (admin *AdminClient) KeyDetail(ctx context.Context, apiKey string) (APIKeyDetail, error) {
	segment, err := pathSegment(apiKey)
	if err != nil {
		return APIKeyDetail{}, err
	}
	var detail APIKeyDetail
	if err := admin.client.do(ctx, http.MethodGet, adminKeysPath+"/"+segment, nil, nil, true, &detail); err != nil {
		return APIKeyDetail{}, err
	}
	return detail, nil
}

// CreateKey issues a new API key.
func (admin *AdminClient) CreateKey(ctx context.Context, request CreateKeyRequest) (APIKeyDetail, error) {
	request.Owner = strings.TrimSpace(request.Owner)
	request.Email = strings.TrimSpace(request.Email)
	request.CustomKey = strings.TrimSpace(request.CustomKey)
	if request.Owner == "" || request.Email == "" {
		return APIKeyDetail{}, fmt.Errorf("%w: owner and email are required", ErrInvalidInput)
	}
	if request.Limit <= 0 {
		return APIKeyDetail{}, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	var detail APIKeyDetail
	if err := admin.client.do(ctx, http.MethodPost, adminKeysPath, nil, request, true, &detail); err != nil {
		return APIKeyDetail{}, err
	}
	return detail, nil
}

// AddLimit raises the request limit of an API key.
func (admin *AdminClient) AddLimit(ctx context.Context, apiKey string, amount int64) (APIKeyDetail, error) {
	return admin.extend(ctx, apiKey, "limit", map[string]int64{"amount": amount}, amount)
}

// AddExpiry extends the validity of an API key by days.
func (admin *AdminClient) AddExpiry(ctx context.Context, apiKey string, days int64) (APIKeyDetail, error) {
	return admin.extend(ctx, apiKey, "expiry", map[string]int64{"days": days}, days)
}

func (admin *AdminClient) extend(ctx context.Context, apiKey string, field string, body map[string]int64, quantity int64) (APIKeyDetail, error) {
	segment, err := pathSegment(apiKey)
	if err != nil {
		return APIKeyDetail{}, err
	}
	if quantity <= 0 {
		return APIKeyDetail{}, fmt.Errorf("%w: %s must be positive", ErrInvalidInput, field)
	}
	var detail APIKeyDetail
	if err := admin.client.do(ctx, http.MethodPost, adminKeysPath+"/"+segment+"/"+field, nil, body, true, &detail); err != nil {
		return APIKeyDetail{}, err
	}
	return detail, nil
}

// DatabaseClient manages changelog entries held by the data service.
type DatabaseClient struct {
	client *Client
}

// Changelogs lists changelog entries.
func (database *DatabaseClient) Changelogs(ctx context.Context) ([]Changelog, error) {
	var changelogs []Changelog
	if err := database.client.do(ctx, http.MethodGet, changelogsPath, nil, nil, false, &changelogs); err != nil {
		return nil, err
	}
	return changelogs, nil
}

// DeleteChangelog removes one entry.
func (database *DatabaseClient) DeleteChangelog(ctx context.Context, id string) error {
	segment, err := pathSegment(id)
	if err != nil {
		return err
	}
	return database.client.do(ctx, http.MethodDelete, changelogsPath+"/"+segment, nil, nil, true, nil)
}

// UpdateChangelog replaces the mutable fields of one entry.
func (database *DatabaseClient) UpdateChangelog(ctx context.Context, id string, input ChangelogInput) (Changelog, error) {
	segment, err := pathSegment(id)
	if err != nil {
		return Changelog{}, err
	}
	var changelog Changelog
	if err := database.client.do(ctx, http.MethodPut, changelogsPath+"/"+segment, nil, input, true, &changelog); err != nil {
		return Changelog{}, err
	}
	return changelog, nil
}
