package webapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leotyps/jkt48connect/internal/jkt48api"
)

func (handler *httpHandler) handleMembers(ctx *gin.Context) {
	respondCatalog(handler, ctx, "members", handler.catalog.Members)
}

func (handler *httpHandler) handleMemberDetail(ctx *gin.Context) {
	name := ctx.Param("name")
	respondCatalog(handler, ctx, "member", func(requestCtx context.Context) (jkt48api.MemberDetail, error) {
		return handler.catalog.MemberDetail(requestCtx, name)
	})
}

func (handler *httpHandler) handleTheater(ctx *gin.Context) {
	respondCatalog(handler, ctx, "theater", handler.catalog.Theater)
}

func (handler *httpHandler) handleTheaterDetail(ctx *gin.Context) {
	id := ctx.Param("id")
	respondCatalog(handler, ctx, "show", func(requestCtx context.Context) (jkt48api.TheaterDetail, error) {
		return handler.catalog.TheaterDetail(requestCtx, id)
	})
}

func (handler *httpHandler) handleEvents(ctx *gin.Context) {
	respondCatalog(handler, ctx, "events", handler.catalog.Events)
}

func (handler *httpHandler) handleLive(ctx *gin.Context) {
	respondCatalog(handler, ctx, "live", handler.catalog.Live)
}

func (handler *httpHandler) handleRecent(ctx *gin.Context) {
	respondCatalog(handler, ctx, "recent", handler.catalog.Recent)
}

func (handler *httpHandler) handleRecentDetail(ctx *gin.Context) {
	id := ctx.Param("id")
	respondCatalog(handler, ctx, "broadcast", func(requestCtx context.Context) (jkt48api.RecentDetail, error) {
		return handler.catalog.RecentDetail(requestCtx, id)
	})
}

func (handler *httpHandler) handleReplay(ctx *gin.Context) {
	page := 0
	if raw := ctx.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_page", "page must be a positive integer"))
			return
		}
		page = parsed
	}
	respondCatalog(handler, ctx, "replays", func(requestCtx context.Context) ([]jkt48api.Replay, error) {
		return handler.catalog.Replay(requestCtx, page)
	})
}

func (handler *httpHandler) handleYouTube(ctx *gin.Context) {
	respondCatalog(handler, ctx, "videos", handler.catalog.YouTube)
}

func (handler *httpHandler) handleBirthdays(ctx *gin.Context) {
	respondCatalog(handler, ctx, "birthdays", handler.catalog.Birthday)
}

func (handler *httpHandler) handleAdminStats(ctx *gin.Context) {
	respondCatalog(handler, ctx, "stats", handler.admin.Stats)
}

func (handler *httpHandler) handleKeyDetail(ctx *gin.Context) {
	apiKey := ctx.Param("key")
	respondCatalog(handler, ctx, "key", func(requestCtx context.Context) (jkt48api.APIKeyDetail, error) {
		return handler.admin.KeyDetail(requestCtx, apiKey)
	})
}

func (handler *httpHandler) handleListDataChangelogs(ctx *gin.Context) {
	respondCatalog(handler, ctx, "changelogs", handler.dataChangelogs.Changelogs)
}

func (handler *httpHandler) handleUpdateDataChangelog(ctx *gin.Context) {
	var input jkt48api.ChangelogInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_json", "invalid request body"))
		return
	}
	id := ctx.Param("id")
	respondCatalog(handler, ctx, "changelog", func(requestCtx context.Context) (jkt48api.Changelog, error) {
		return handler.dataChangelogs.UpdateChangelog(requestCtx, id, input)
	})
}

func (handler *httpHandler) handleDeleteDataChangelog(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	if err := handler.dataChangelogs.DeleteChangelog(requestCtx, ctx.Param("id")); err != nil {
		handler.respondUpstreamError(ctx, "changelog", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func respondCatalog[T any](handler *httpHandler, ctx *gin.Context, key string, fetch func(context.Context) (T, error)) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	data, err := fetch(requestCtx)
	if err != nil {
		handler.respondUpstreamError(ctx, key, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{key: data})
}

func (handler *httpHandler) respondUpstreamError(ctx *gin.Context, key string, err error) {
	var statusErr jkt48api.StatusError
	switch {
	case errors.Is(err, jkt48api.ErrInvalidInput):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", key+" not found"))
	default:
		handler.logger.Error("data service call failed", zap.String("resource", key), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("upstream_error", key+" unavailable"))
	}
}
