package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/mining"
	"github.com/yishak-cs/cartrecs/internal/models"
	"github.com/yishak-cs/cartrecs/internal/services"
	"github.com/yishak-cs/cartrecs/internal/store"
	"github.com/yishak-cs/cartrecs/internal/validation"
)

// SessionHeader carries the client's session id. Responses always echo it.
const SessionHeader = "X-Session-ID"

const maxPopularLimit = 50

// StatusReporter reports row or node counts of the backing ledger.
type StatusReporter interface {
	Status(ctx context.Context) (map[string]int, error)
}

// HealthChecker verifies a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// APIHandler handles all API requests
type APIHandler struct {
	recommendationService *services.RecommendationService
	refresher             *mining.Refresher
	edges                 store.Reader
	ledgerStatus          StatusReporter
	health                HealthChecker
	log                   *logger.Logger
}

// NewAPIHandler creates a new API handler. ledgerStatus and health may be nil.
func NewAPIHandler(recommendationService *services.RecommendationService, refresher *mining.Refresher, edges store.Reader, ledgerStatus StatusReporter, health HealthChecker, log *logger.Logger) *APIHandler {
	return &APIHandler{
		recommendationService: recommendationService,
		refresher:             refresher,
		edges:                 edges,
		ledgerStatus:          ledgerStatus,
		health:                health,
		log:                   log.With("component", "APIHandler"),
	}
}

// SetupRoutes configures all API routes
func (h *APIHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.POST("/suggestions", h.PostSuggestions)
		api.GET("/recommendations/items/:itemId", h.GetItemRecommendations)
		api.GET("/recommendations/personalized/:userId", h.GetPersonalized)
		api.GET("/recommendations/popular", h.GetPopular)
		api.POST("/rules/refresh", h.PostRefresh)
		api.GET("/rules/status", h.GetRuleStatus)
		api.GET("/sessions/:sessionId/state", h.GetSessionState)
	}
}

type suggestionBody struct {
	CartItemIDs []string `json:"cart_item_ids" validate:"max=100,dive,required,max=64"`
	UserID      string   `json:"user_id" validate:"omitempty,max=64"`
}

type suggestionQuery struct {
	View string `validate:"omitempty,oneof=detail cart"`
}

// PostSuggestions handles merged cart suggestions
func (h *APIHandler) PostSuggestions(c *gin.Context) {
	var body suggestionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, apperr.NewHTTP(http.StatusBadRequest, "invalid_json", err))
		return
	}
	query := suggestionQuery{View: c.DefaultQuery("view", string(models.ViewCart))}
	if err := validation.ValidateStruct(&body); err != nil {
		h.respondError(c, err)
		return
	}
	if err := validation.ValidateStruct(&query); err != nil {
		h.respondError(c, err)
		return
	}

	resp, err := h.recommendationService.Suggest(c.Request.Context(), models.SuggestionRequest{
		CartItemIDs: body.CartItemIDs,
		UserID:      body.UserID,
		SessionID:   sessionID(c),
		View:        models.View(query.View),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetItemRecommendations handles the single item detail view
func (h *APIHandler) GetItemRecommendations(c *gin.Context) {
	itemID := strings.TrimSpace(c.Param("itemId"))
	if itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item ID"})
		return
	}

	resp, err := h.recommendationService.ItemSuggestions(c.Request.Context(), itemID, c.Query("user_id"), sessionID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item_id":              itemID,
		"suggestions":          resp.Suggestions,
		"used_fallback":        resp.UsedFallback,
		"show_fallback_notice": resp.ShowFallbackNotice,
		"state":                resp.State,
	})
}

// GetPersonalized handles requests for a user's personalized recommendations
func (h *APIHandler) GetPersonalized(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))

	recommendations, err := h.recommendationService.Personalized(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":         userID,
		"recommendations": recommendations,
		"description":     "Pairings for the items you order most, weighted by how recently you ordered them",
	})
}

// GetPopular handles requests for globally popular pairings
func (h *APIHandler) GetPopular(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "3"))
	if err != nil || limit < 1 || limit > maxPopularLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter (1-50)"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recommendations": h.recommendationService.Popular(limit),
		"description":     "Pairings customers order together most often",
	})
}

// PostRefresh re-mines the ledger and publishes the new rule graph
func (h *APIHandler) PostRefresh(c *gin.Context) {
	report, err := h.refresher.Refresh(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetRuleStatus reports the active rule graph and the last refresh
func (h *APIHandler) GetRuleStatus(c *gin.Context) {
	snap := h.edges.Current()
	out := gin.H{
		"version":      snap.Version,
		"edges":        snap.Len(),
		"published_at": snap.PublishedAt,
		"thresholds":   h.refresher.Thresholds(),
		"last_refresh": h.refresher.LastReport(),
	}

	if h.ledgerStatus != nil {
		counts, err := h.ledgerStatus.Status(c.Request.Context())
		if err != nil {
			h.log.Warn("Failed to get ledger status", "error", err)
		} else {
			out["ledger"] = counts
		}
	}

	c.JSON(http.StatusOK, out)
}

// GetSessionState reports the request state of one view of a session
func (h *APIHandler) GetSessionState(c *gin.Context) {
	id := strings.TrimSpace(c.Param("sessionId"))
	view := models.View(c.DefaultQuery("view", string(models.ViewCart)))

	current, last, err := h.recommendationService.SessionState(id, view)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"view":       view,
		"state":      current,
		"last":       last,
	})
}

// Health reports liveness and, when configured, database health
func (h *APIHandler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Health(c.Request.Context()); err != nil {
			h.log.Warn("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandler) respondError(c *gin.Context, err error) {
	he := apperr.ToHTTP(err)
	if he.Status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(he.Status, gin.H{"error": he.Error(), "code": he.Code})
}

// sessionID returns the caller's session id, minting one when absent.
func sessionID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(SessionHeader))
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(SessionHeader, id)
	return id
}
