package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dsnplabs/social-gateway/internal/announcement"
	"github.com/dsnplabs/social-gateway/internal/clients"
	"github.com/dsnplabs/social-gateway/internal/feed"
	"github.com/dsnplabs/social-gateway/internal/ingest"
	"github.com/dsnplabs/social-gateway/internal/realtime"
	"github.com/dsnplabs/social-gateway/internal/status"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	msaIDContextKey    = "gateway_msa_id"
	requestIDHeader    = "X-Request-ID"
	accessTokenQueryID = "access_token"
)

var (
	errMissingFeedService   = errors.New("feed service dependency required")
	errMissingIngestService = errors.New("ingest service dependency required")
	errMissingStatusStore   = errors.New("status store dependency required")
	errMissingGraphClient   = errors.New("graph client dependency required")
	errMissingTokens        = errors.New("token validator dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns the requester's MSA id.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Dependencies carries everything the HTTP layer needs, constructed once at
// startup.
type Dependencies struct {
	Feed     *feed.Service
	Ingest   *ingest.Service
	Status   status.Store
	Graph    clients.Graph
	Tokens   TokenValidator
	Realtime *realtime.Dispatcher
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gateway's REST surface: webhook ingestion,
// feed/content queries, graph operations, and the live SSE update stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Feed == nil {
		return nil, errMissingFeedService
	}
	if deps.Ingest == nil {
		return nil, errMissingIngestService
	}
	if deps.Status == nil {
		return nil, errMissingStatusStore
	}
	if deps.Graph == nil {
		return nil, errMissingGraphClient
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		feed:     deps.Feed,
		ingest:   deps.Ingest,
		status:   deps.Status,
		graph:    deps.Graph,
		tokens:   deps.Tokens,
		realtime: deps.Realtime,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)

	webhooks := router.Group("/webhooks")
	webhooks.POST("/content-watcher/announcements", handler.handleAnnouncementWebhook)
	webhooks.POST("/graph-service/operation-status", handler.handleGraphStatusWebhook)
	webhooks.POST("/account-service", handler.handleAccountWebhook)

	v1 := router.Group("/v1")
	v1.Use(handler.authorizeRequest)
	v1.GET("/content/feed", handler.handleFollowingFeed)
	v1.GET("/content/discover", handler.handleDiscoverFeed)
	v1.GET("/content/:msaId", handler.handleOwnFeed)
	v1.GET("/content/:msaId/:contentHash", handler.handleSpecificContent)
	v1.GET("/updates/stream", handler.handleUpdatesStream)
	v1.POST("/graphs/follow", handler.handleFollow)
	v1.POST("/graphs/unfollow", handler.handleUnfollow)
	v1.GET("/graphs/operations/:referenceId", handler.handleOperationStatus)

	return router, nil
}

type httpHandler struct {
	feed     *feed.Service
	ingest   *ingest.Service
	status   status.Store
	graph    clients.Graph
	tokens   TokenValidator
	realtime *realtime.Dispatcher
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleAnnouncementWebhook(c *gin.Context) {
	var envelope announcement.Envelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.ingest.ReceiveAnnouncement(c.Request.Context(), envelope); err != nil {
		h.respondIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (h *httpHandler) handleGraphStatusWebhook(c *gin.Context) {
	var payload ingest.GraphOperationStatus
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.ingest.ReceiveGraphOperationStatus(c.Request.Context(), payload); err != nil {
		h.respondIngestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleAccountWebhook(c *gin.Context) {
	var txn ingest.AccountTransaction
	if err := c.ShouldBindJSON(&txn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.ingest.ReceiveAccountWebhook(c.Request.Context(), txn); err != nil {
		h.respondIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (h *httpHandler) respondIngestError(c *gin.Context, err error) {
	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
		return
	}
	var unknownErr *ingest.UnknownTypeError
	if errors.As(err, &unknownErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": unknownErr.Error()})
		return
	}
	h.logger.Error("webhook processing failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook_failed"})
}

func (h *httpHandler) handleFollowingFeed(c *gin.Context) {
	window, ok := h.parseWindow(c)
	if !ok {
		return
	}
	page, err := h.feed.FollowingFeed(c.Request.Context(), c.GetString(msaIDContextKey), window)
	h.respondFeed(c, page, err)
}

func (h *httpHandler) handleDiscoverFeed(c *gin.Context) {
	window, ok := h.parseWindow(c)
	if !ok {
		return
	}
	page, err := h.feed.DiscoverFeed(c.Request.Context(), c.GetString(msaIDContextKey), window)
	h.respondFeed(c, page, err)
}

func (h *httpHandler) handleOwnFeed(c *gin.Context) {
	window, ok := h.parseWindow(c)
	if !ok {
		return
	}
	page, err := h.feed.OwnFeed(c.Request.Context(), c.Param("msaId"), window)
	h.respondFeed(c, page, err)
}

func (h *httpHandler) respondFeed(c *gin.Context, page feed.Page, err error) {
	if err != nil {
		var serviceErr *feed.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(serviceErr.Status(), gin.H{"error": "error fetching feed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error fetching feed"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleSpecificContent(c *gin.Context) {
	post, err := h.feed.SpecificContent(c.Request.Context(), c.Param("msaId"), c.Param("contentHash"))
	if errors.Is(err, feed.ErrNoContent) {
		c.JSON(http.StatusNotFound, gin.H{"error": "content not found"})
		return
	}
	if err != nil {
		var serviceErr *feed.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(serviceErr.Status(), gin.H{"error": "error fetching content"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error fetching content"})
		return
	}
	c.JSON(http.StatusOK, post)
}

type graphChangePayload struct {
	MSAID string `json:"msaId"`
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	h.handleGraphChange(c, h.graph.Follow)
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	h.handleGraphChange(c, h.graph.Unfollow)
}

func (h *httpHandler) handleGraphChange(c *gin.Context, submit func(ctx context.Context, actor, target string) (string, error)) {
	var payload graphChangePayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.MSAID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields: msaId"})
		return
	}

	referenceID, err := submit(c.Request.Context(), c.GetString(msaIDContextKey), payload.MSAID)
	if err != nil {
		h.logger.Error("graph operation submit failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "graph service unavailable"})
		return
	}
	if err := h.status.Set(c.Request.Context(), referenceID, status.StatusPending); err != nil {
		h.logger.Error("operation status record failed",
			zap.String("referenceId", referenceID),
			zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"referenceId": referenceID})
}

func (h *httpHandler) handleOperationStatus(c *gin.Context) {
	referenceID := c.Param("referenceId")
	operationStatus, found, err := h.status.Get(c.Request.Context(), referenceID)
	if err != nil {
		h.logger.Error("operation status lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown reference id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"referenceId": referenceID, "status": operationStatus})
}

// parseWindow reads the optional newestBlockNumber/oldestBlockNumber query
// parameters; both must be positive integers when present.
func (h *httpHandler) parseWindow(c *gin.Context) (feed.Window, bool) {
	var window feed.Window
	for _, bound := range []struct {
		name   string
		target *uint64
	}{
		{name: "newestBlockNumber", target: &window.Newest},
		{name: "oldestBlockNumber", target: &window.Oldest},
	} {
		raw := c.Query(bound.name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || value == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameter: " + bound.name})
			return feed.Window{}, false
		}
		*bound.target = value
	}
	return window, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	msaID, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(msaIDContextKey, msaID)
	c.Next()
}

// bearerToken extracts the access token from the Authorization header or,
// for EventSource clients that cannot set headers, the access_token query
// parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query(accessTokenQueryID))
}

// requestLogger tags every request with an id and logs its outcome.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		logger.Info("request handled",
			zap.String("requestId", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
