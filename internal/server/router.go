package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dataforge/catalog-sync/internal/audit"
	"github.com/dataforge/catalog-sync/internal/auth"
	"github.com/dataforge/catalog-sync/internal/category"
	"github.com/dataforge/catalog-sync/internal/engine"
	"github.com/dataforge/catalog-sync/internal/scheduler"
	"github.com/dataforge/catalog-sync/internal/settings"
	"github.com/dataforge/catalog-sync/internal/source"
)

const subjectContextKey = "catalog_sync_subject"

const webhookPath = "/catalog-sync/v1/webhook"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingSyncer        = errors.New("sync engine dependency required")
	errMissingSettings      = errors.New("settings store dependency required")
	errMissingAudit         = errors.New("audit store dependency required")
	errMissingCategories    = errors.New("category store dependency required")
	errMissingSnapshot      = errors.New("config snapshot dependency required")
	errMissingAdminKey      = errors.New("admin api key required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AdminTokenManager issues and validates admin bearer tokens.
type AdminTokenManager interface {
	IssueAdminToken(ctx context.Context) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Syncer applies one Source record to the catalog.
type Syncer interface {
	Sync(ctx context.Context, record source.Record, trigger audit.Trigger, cfg engine.SyncConfig) engine.Result
}

// BatchRunner drives the resumable manual batch path and reschedules the
// scheduled loop after settings changes.
type BatchRunner interface {
	SyncPage(ctx context.Context, page, perPage int) (scheduler.PageResult, error)
	Reschedule(interval time.Duration, enabled bool)
}

// CategoryDiscoverer aggregates candidate Source category names for the
// administrative mapping screen.
type CategoryDiscoverer interface {
	Discover(ctx context.Context) ([]string, error)
	InvalidateLiveCache()
}

var _ CategoryDiscoverer = (*category.Discoverer)(nil)

// Dependencies wires the HTTP layer to the rest of the service.
type Dependencies struct {
	TokenManager AdminTokenManager
	Syncer       Syncer
	Batch        BatchRunner
	Settings     *settings.Store
	Audit        *audit.Store
	Categories   *category.Store
	Discovery    CategoryDiscoverer
	Snapshot     func(ctx context.Context) (engine.SyncConfig, error)
	AdminKey     string
	Logger       *zap.Logger
}

// NewHTTPHandler validates dependencies and assembles the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Syncer == nil {
		return nil, errMissingSyncer
	}
	if deps.Settings == nil {
		return nil, errMissingSettings
	}
	if deps.Audit == nil {
		return nil, errMissingAudit
	}
	if deps.Categories == nil {
		return nil, errMissingCategories
	}
	if deps.Snapshot == nil {
		return nil, errMissingSnapshot
	}
	if strings.TrimSpace(deps.AdminKey) == "" {
		return nil, errMissingAdminKey
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		syncer:     deps.Syncer,
		batch:      deps.Batch,
		settings:   deps.Settings,
		audit:      deps.Audit,
		categories: deps.Categories,
		discovery:  deps.Discovery,
		snapshot:   deps.Snapshot,
		adminKey:   deps.AdminKey,
		logger:     logger,
	}

	router.POST(webhookPath, handler.handleWebhook)
	router.POST("/admin/auth", handler.handleAdminAuth)

	protected := router.Group("/admin")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync/batch", handler.handleBatchSync)
	protected.GET("/settings", handler.handleGetSettings)
	protected.PUT("/settings", handler.handleUpdateSettings)
	protected.GET("/categories", handler.handleListCategories)
	protected.PUT("/categories", handler.handleSaveCategory)
	protected.POST("/categories/refresh", handler.handleRefreshCategories)
	protected.GET("/logs/webhooks", handler.handleListWebhookLog)
	protected.DELETE("/logs/webhooks", handler.handleClearWebhookLog)
	protected.GET("/logs/sync", handler.handleListSyncLog)
	protected.DELETE("/logs/sync", handler.handleClearSyncLog)
	protected.GET("/stats", handler.handleStats)

	return router, nil
}

type httpHandler struct {
	tokens     AdminTokenManager
	syncer     Syncer
	batch      BatchRunner
	settings   *settings.Store
	audit      *audit.Store
	categories *category.Store
	discovery  CategoryDiscoverer
	snapshot   func(ctx context.Context) (engine.SyncConfig, error)
	adminKey   string
	logger     *zap.Logger
}

type webhookResponsePayload struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Sync    *engine.Result `json:"sync"`
}

// handleWebhook receives one pushed Source record. Authentication runs
// before anything is logged; past that point the response is always HTTP 200
// so the push sender never retries indefinitely.
func (h *httpHandler) handleWebhook(c *gin.Context) {
	configuredKey, err := h.settings.WebhookKey(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load webhook key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if configuredKey != "" {
		provided := c.Query("key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(configuredKey)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden"})
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		body = nil
	}

	logErr := h.audit.LogWebhook(c.Request.Context(), audit.RawWebhook{
		Method:   c.Request.Method,
		Headers:  c.Request.Header,
		Payload:  string(body),
		SourceIP: c.ClientIP(),
	})
	if logErr != nil {
		h.logger.Warn("failed to log webhook delivery", zap.Error(logErr))
	}

	record, ok := parseWebhookRecord(body)
	if !ok {
		c.JSON(http.StatusOK, webhookResponsePayload{Success: true, Message: "payload received, nothing to sync"})
		return
	}

	result := h.safeSync(c.Request.Context(), record, audit.TriggerWebhook)
	c.JSON(http.StatusOK, webhookResponsePayload{Success: true, Message: "payload processed", Sync: &result})
}

// parseWebhookRecord decodes the pushed document, unwrapping the optional
// one-level `attributes` envelope some senders use.
func parseWebhookRecord(body []byte) (source.Record, bool) {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil || len(decoded) == 0 {
		return nil, false
	}
	if wrapped, ok := decoded["attributes"].(map[string]any); ok {
		decoded = wrapped
	}
	record := source.Record(decoded)
	if record.ID() == 0 {
		return nil, false
	}
	return record, true
}

// safeSync shields the HTTP layer from a panicking sync pass; the outcome
// becomes an error result in the response body instead of a 500.
func (h *httpHandler) safeSync(ctx context.Context, record source.Record, trigger audit.Trigger) (result engine.Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("sync pass panicked", zap.Any("panic", recovered))
			result = engine.Result{
				Action:  audit.ActionError,
				Error:   fmt.Sprintf("sync panicked: %v", recovered),
				Changes: map[string]any{},
			}
		}
	}()

	cfg, err := h.snapshot(ctx)
	if err != nil {
		h.logger.Error("failed to snapshot sync config", zap.Error(err))
		return engine.Result{Action: audit.ActionError, Error: err.Error(), Changes: map[string]any{}}
	}
	return h.syncer.Sync(ctx, record, trigger, cfg)
}

type adminAuthRequestPayload struct {
	Key string `json:"key"`
}

type adminAuthResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleAdminAuth(c *gin.Context) {
	var request adminAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(request.Key), []byte(h.adminKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAdminToken(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, adminAuthResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil || subject != auth.AdminSubject {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

type batchRequestPayload struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

type batchResponsePayload struct {
	Processed int            `json:"processed"`
	Stats     map[string]int `json:"stats"`
	More      bool           `json:"more"`
	NextPage  *int           `json:"next_page"`
}

// handleBatchSync syncs exactly one page per request so a client can show
// incremental progress instead of waiting on one unbounded call.
func (h *httpHandler) handleBatchSync(c *gin.Context) {
	request := batchRequestPayload{Page: 1, PerPage: 50}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	if request.Page < 1 {
		request.Page = 1
	}
	if request.PerPage < 1 {
		request.PerPage = 50
	}

	result, err := h.batch.SyncPage(c.Request.Context(), request.Page, request.PerPage)
	if err != nil {
		h.logger.Error("manual batch page failed",
			zap.Int("page", request.Page),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	response := batchResponsePayload{
		Processed: result.Processed,
		Stats:     result.Stats,
		More:      result.More,
	}
	if result.More {
		nextPage := result.NextPage
		response.NextPage = &nextPage
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	snapshot, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type settingsUpdatePayload struct {
	SourceBaseURL       *string `json:"source_base_url"`
	SourceAPIKey        *string `json:"source_api_key"`
	WebhookKey          *string `json:"webhook_key"`
	AutoSync            *bool   `json:"auto_sync"`
	SyncIntervalMinutes *int    `json:"sync_interval_minutes"`
	LoggingLevel        *string `json:"logging_level"`
	NewRecordStatus     *string `json:"new_record_status"`
	RewriteEnabled      *bool   `json:"rewrite_enabled"`
	RewriteAPIKey       *string `json:"rewrite_api_key"`
	RewriteModel        *string `json:"rewrite_model"`
	RewritePrompt       *string `json:"rewrite_prompt"`
	RewriteLogging      *bool   `json:"rewrite_logging"`
}

// handleUpdateSettings applies a partial settings update. Credential fields
// are write-only: absent means unchanged, present overwrites. A successful
// update reschedules the poll loop under the new cadence.
func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	var request settingsUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	if err := h.applySettingsUpdate(ctx, request); err != nil {
		h.logger.Error("failed to apply settings update", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	snapshot, err := h.settings.Snapshot(ctx)
	if err != nil {
		h.logger.Error("failed to reload settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	if h.batch != nil {
		h.batch.Reschedule(time.Duration(snapshot.SyncIntervalMinutes)*time.Minute, snapshot.AutoSync)
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) applySettingsUpdate(ctx context.Context, request settingsUpdatePayload) error {
	plain := map[string]*string{
		settings.KeySourceBaseURL:   request.SourceBaseURL,
		settings.KeyWebhookKey:      request.WebhookKey,
		settings.KeyLoggingLevel:    request.LoggingLevel,
		settings.KeyNewRecordStatus: request.NewRecordStatus,
		settings.KeyRewriteModel:    request.RewriteModel,
		settings.KeyRewritePrompt:   request.RewritePrompt,
	}
	for name, value := range plain {
		if value == nil {
			continue
		}
		if err := h.settings.Set(ctx, name, strings.TrimSpace(*value)); err != nil {
			return err
		}
	}

	flags := map[string]*bool{
		settings.KeyAutoSync:       request.AutoSync,
		settings.KeyRewriteEnabled: request.RewriteEnabled,
		settings.KeyRewriteLogging: request.RewriteLogging,
	}
	for name, value := range flags {
		if value == nil {
			continue
		}
		encoded := "0"
		if *value {
			encoded = "1"
		}
		if err := h.settings.Set(ctx, name, encoded); err != nil {
			return err
		}
	}

	if request.SyncIntervalMinutes != nil {
		interval := *request.SyncIntervalMinutes
		if interval < 1 {
			interval = 1
		}
		if err := h.settings.Set(ctx, settings.KeySyncInterval, strconv.Itoa(interval)); err != nil {
			return err
		}
	}

	if request.SourceAPIKey != nil && strings.TrimSpace(*request.SourceAPIKey) != "" {
		if err := h.settings.SetSecret(ctx, settings.KeySourceAPIKey, strings.TrimSpace(*request.SourceAPIKey)); err != nil {
			return err
		}
	}
	if request.RewriteAPIKey != nil && strings.TrimSpace(*request.RewriteAPIKey) != "" {
		if err := h.settings.SetSecret(ctx, settings.KeyRewriteAPIKey, strings.TrimSpace(*request.RewriteAPIKey)); err != nil {
			return err
		}
	}
	return nil
}

type categoriesResponsePayload struct {
	Mapped     map[string][]int64 `json:"mapped"`
	Discovered []string           `json:"discovered"`
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	ctx := c.Request.Context()

	policy, err := h.categories.Policy(ctx)
	if err != nil {
		h.logger.Error("failed to load category map", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	discovered := []string{}
	if h.discovery != nil {
		names, err := h.discovery.Discover(ctx)
		if err != nil {
			// Partial results are still worth showing on the mapping screen.
			h.logger.Warn("category discovery incomplete", zap.Error(err))
		}
		discovered = append(discovered, names...)
	}

	c.JSON(http.StatusOK, categoriesResponsePayload{
		Mapped:     policy,
		Discovered: discovered,
	})
}

type categorySavePayload struct {
	SourceName string  `json:"source_name"`
	CatalogIDs []int64 `json:"catalog_ids"`
}

func (h *httpHandler) handleSaveCategory(c *gin.Context) {
	var request categorySavePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.SourceName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.categories.Save(c.Request.Context(), request.SourceName, request.CatalogIDs); err != nil {
		h.logger.Error("failed to save category mapping",
			zap.String("source_name", request.SourceName),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (h *httpHandler) handleRefreshCategories(c *gin.Context) {
	if h.discovery != nil {
		h.discovery.InvalidateLiveCache()
	}
	h.handleListCategories(c)
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if parsed, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && parsed > 0 && parsed <= 500 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && parsed >= 0 {
		offset = parsed
	}
	return limit, offset
}

func (h *httpHandler) handleListWebhookLog(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset := paginationParams(c)

	entries, err := h.audit.ListWebhooks(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list webhook log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	total, err := h.audit.CountWebhooks(ctx)
	if err != nil {
		h.logger.Error("failed to count webhook log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

func (h *httpHandler) handleClearWebhookLog(c *gin.Context) {
	if err := h.audit.ClearWebhooks(c.Request.Context()); err != nil {
		h.logger.Error("failed to clear webhook log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (h *httpHandler) handleListSyncLog(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset := paginationParams(c)

	entries, err := h.audit.ListSyncEntries(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list sync log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	total, err := h.audit.CountSyncEntries(ctx)
	if err != nil {
		h.logger.Error("failed to count sync log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

func (h *httpHandler) handleClearSyncLog(c *gin.Context) {
	if err := h.audit.ClearSyncEntries(c.Request.Context()); err != nil {
		h.logger.Error("failed to clear sync log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

type statsResponsePayload struct {
	LastSyncSeconds int64                `json:"last_sync_s"`
	Today           audit.Counts         `json:"today"`
	LastCronRun     *settings.RunSummary `json:"last_cron_run"`
}

func (h *httpHandler) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.audit.Stats(ctx)
	if err != nil {
		h.logger.Error("failed to load sync stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	response := statsResponsePayload{
		LastSyncSeconds: stats.LastSyncSeconds,
		Today:           stats.Today,
	}
	lastRun, err := h.settings.LastRun(ctx)
	if err != nil {
		h.logger.Warn("failed to load last cron run", zap.Error(err))
	} else if lastRun.TimeSeconds != 0 {
		response.LastCronRun = &lastRun
	}
	c.JSON(http.StatusOK, response)
}
