package webapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leotyps/jkt48connect/internal/changelog"
)

type changelogRequest struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type changelogPayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (request changelogRequest) input() changelog.Input {
	return changelog.Input{
		Title:       request.Title,
		Version:     request.Version,
		Description: request.Description,
		Type:        request.Type,
	}
}

func (handler *httpHandler) handleListChangelogs(ctx *gin.Context) {
	limit := defaultChangelogLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	entries, err := handler.changelogs.List(ctx.Request.Context(), limit)
	if err != nil {
		handler.logger.Error("changelog list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "changelog unavailable"))
		return
	}
	payloads := make([]changelogPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, newChangelogPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"changelogs": payloads})
}

func (handler *httpHandler) handleCreateChangelog(ctx *gin.Context) {
	var request changelogRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	entry, err := handler.changelogs.Create(ctx.Request.Context(), request.input())
	if err != nil {
		handler.respondChangelogError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"changelog": newChangelogPayload(entry)})
}

func (handler *httpHandler) handleUpdateChangelog(ctx *gin.Context) {
	var request changelogRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	entry, err := handler.changelogs.Update(ctx.Request.Context(), ctx.Param("id"), request.input())
	if err != nil {
		handler.respondChangelogError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"changelog": newChangelogPayload(entry)})
}

func (handler *httpHandler) handleDeleteChangelog(ctx *gin.Context) {
	if err := handler.changelogs.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		handler.respondChangelogError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) respondChangelogError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, changelog.ErrInvalidInput), errors.Is(err, changelog.ErrInvalidType):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_changelog", err.Error()))
	case errors.Is(err, changelog.ErrNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "changelog not found"))
	default:
		handler.logger.Error("changelog mutation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "changelog unavailable"))
	}
}

func newChangelogPayload(entry changelog.Entry) changelogPayload {
	return changelogPayload{
		ID:          entry.ID,
		Title:       entry.Title,
		Version:     entry.Version,
		Description: entry.Description,
		Type:        entry.Type.String(),
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.UpdatedAt,
	}
}
