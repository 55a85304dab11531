package webapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/leotyps/jkt48connect/internal/changelog"
	"github.com/leotyps/jkt48connect/internal/jkt48api"
	"github.com/leotyps/jkt48connect/internal/metrics"
	"github.com/leotyps/jkt48connect/pkg/chat"
	"github.com/leotyps/jkt48connect/pkg/checkout"
)

const claimsContextKey = "auth_claims"

// SessionReader loads settled sessions that are no longer registered.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (checkout.Session, error)
}

// ChatSubscriber joins live chat rooms.
type ChatSubscriber interface {
	Subscribe(ctx context.Context, provider chat.Provider, roomID string) (*chat.Subscription, error)
}

// ChangelogService manages changelog entries.
type ChangelogService interface {
	Create(ctx context.Context, input changelog.Input) (changelog.Entry, error)
	List(ctx context.Context, limit int) ([]changelog.Entry, error)
	Update(ctx context.Context, id string, input changelog.Input) (changelog.Entry, error)
	Delete(ctx context.Context, id string) error
}

// Catalog serves the read-only data pages.
type Catalog interface {
	Members(ctx context.Context) ([]jkt48api.Member, error)
	MemberDetail(ctx context.Context, name string) (jkt48api.MemberDetail, error)
	Theater(ctx context.Context) ([]jkt48api.TheaterShow, error)
	TheaterDetail(ctx context.Context, id string) (jkt48api.TheaterDetail, error)
	Events(ctx context.Context) ([]jkt48api.Event, error)
	Live(ctx context.Context) ([]jkt48api.LiveStream, error)
	Recent(ctx context.Context) ([]jkt48api.RecentLive, error)
	RecentDetail(ctx context.Context, id string) (jkt48api.RecentDetail, error)
	Replay(ctx context.Context, page int) ([]jkt48api.Replay, error)
	YouTube(ctx context.Context) ([]jkt48api.YouTubeVideo, error)
	Birthday(ctx context.Context) ([]jkt48api.Birthday, error)
}

// AdminCatalog serves the data service's admin views.
type AdminCatalog interface {
	Stats(ctx context.Context) (jkt48api.AdminStats, error)
	KeyDetail(ctx context.Context, apiKey string) (jkt48api.APIKeyDetail, error)
}

// DataChangelogs manages the changelog entries held by the data service.
type DataChangelogs interface {
	Changelogs(ctx context.Context) ([]jkt48api.Changelog, error)
	UpdateChangelog(ctx context.Context, id string, input jkt48api.ChangelogInput) (jkt48api.Changelog, error)
	DeleteChangelog(ctx context.Context, id string) error
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Dependencies are the collaborators served over HTTP. Nil optional
// collaborators leave their routes unregistered.
type Dependencies struct {
	Logger         *zap.Logger
	Checkouts      *Registry
	Sessions       SessionReader
	Chat           ChatSubscriber
	Changelogs     ChangelogService
	Catalog        Catalog
	Admin          AdminCatalog
	DataChangelogs DataChangelogs
	Metrics        *metrics.Collector
	Readiness      map[string]ReadinessCheck
}

// Run serves the HTTP facade until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := newHTTPHandler(cfg, deps, logger)
	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if handler.metrics != nil {
		router.Use(handler.metrics.Middleware())
	}
	router.Use(requestLogger(handler.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", handler.handleReady)
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	api := router.Group("/api")
	if handler.checkouts != nil {
		limiter := newClientLimiter(cfg.CheckoutRatePerMinute, cfg.CheckoutBurst)
		api.POST("/checkouts", limiter.middleware(), handler.handleCreateCheckout)
		api.GET("/checkouts/:id", handler.handleGetCheckout)
		api.POST("/checkouts/:id/cancel", handler.handleCancelCheckout)
	}
	if handler.chat != nil {
		api.GET("/chat/:provider/:room", handler.handleChat)
	}
	if handler.catalog != nil {
		api.GET("/members", handler.handleMembers)
		api.GET("/members/:name", handler.handleMemberDetail)
		api.GET("/theater", handler.handleTheater)
		api.GET("/theater/:id", handler.handleTheaterDetail)
		api.GET("/events", handler.handleEvents)
		api.GET("/live", handler.handleLive)
		api.GET("/recent", handler.handleRecent)
		api.GET("/recent/:id", handler.handleRecentDetail)
		api.GET("/replay", handler.handleReplay)
		api.GET("/youtube", handler.handleYouTube)
		api.GET("/birthdays", handler.handleBirthdays)
	}
	if handler.admin != nil || handler.dataChangelogs != nil {
		admin := api.Group("/admin")
		admin.Use(validator.GinMiddleware(claimsContextKey), handler.requireAdmin)
		if handler.admin != nil {
			admin.GET("/stats", handler.handleAdminStats)
			admin.GET("/keys/:key", handler.handleKeyDetail)
		}
		if handler.dataChangelogs != nil {
			admin.GET("/data-changelogs", handler.handleListDataChangelogs)
			admin.PUT("/data-changelogs/:id", handler.handleUpdateDataChangelog)
			admin.DELETE("/data-changelogs/:id", handler.handleDeleteDataChangelog)
		}
	}
	if handler.changelogs != nil {
		api.GET("/changelogs", handler.handleListChangelogs)
		admin := api.Group("/changelogs")
		admin.Use(validator.GinMiddleware(claimsContextKey), handler.requireAdmin)
		admin.POST("", handler.handleCreateChangelog)
		admin.PUT("/:id", handler.handleUpdateChangelog)
		admin.DELETE("/:id", handler.handleDeleteChangelog)
	}
	return router
}

type httpHandler struct {
	logger         *zap.Logger
	cfg            Config
	checkouts      *Registry
	sessions       SessionReader
	chat           ChatSubscriber
	changelogs     ChangelogService
	catalog        Catalog
	admin          AdminCatalog
	dataChangelogs DataChangelogs
	metrics        *metrics.Collector
	readiness      map[string]ReadinessCheck
	adminEmails    map[string]struct{}
}

func newHTTPHandler(cfg Config, deps Dependencies, logger *zap.Logger) *httpHandler {
	adminEmails := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		adminEmails[email] = struct{}{}
	}
	return &httpHandler{
		logger:         logger,
		cfg:            cfg,
		checkouts:      deps.Checkouts,
		sessions:       deps.Sessions,
		chat:           deps.Chat,
		changelogs:     deps.Changelogs,
		catalog:        deps.Catalog,
		admin:          deps.Admin,
		dataChangelogs: deps.DataChangelogs,
		metrics:        deps.Metrics,
		readiness:      deps.Readiness,
		adminEmails:    adminEmails,
	}
}

func (handler *httpHandler) handleReady(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	failures := gin.H{}
	for name, check := range handler.readiness {
		if err := check(requestCtx); err != nil {
			handler.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": failures})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) requireAdmin(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if len(handler.adminEmails) == 0 {
		ctx.Next()
		return
	}
	if _, ok := handler.adminEmails[claims.GetUserEmail()]; !ok {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin access required"))
		return
	}
	ctx.Next()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Debug("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
