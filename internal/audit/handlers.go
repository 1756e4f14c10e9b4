package audit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/crimecast/crimecast/internal/logging"
	"github.com/crimecast/crimecast/internal/pagination"
	"github.com/gin-gonic/gin"
)

// Handler exposes the audit log to administrators.
type Handler struct {
	logger *Logger
}

// NewHandler creates a new audit handler
func NewHandler(logger *Logger) *Handler {
	return &Handler{logger: logger}
}

// RegisterAdminRoutes sets up routes behind the admin capability check
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.List)
}

// List handles GET /audit?limit=N&cursor=C
func (h *Handler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be an integer",
			})
			return
		}
		limit = n
	}

	page, err := h.logger.ListPage(c.Request.Context(), c.Query("cursor"), limit)
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list audit log", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load audit log",
		})
		return
	}
	entries := page.Entries
	if entries == nil {
		entries = []*Entry{}
	}

	resp := gin.H{
		"entries": entries,
		"count":   len(entries),
		"limit":   ClampLimit(limit),
		"hasMore": page.HasMore,
	}
	if page.NextCursor != "" {
		resp["nextCursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}
