package inference

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP handlers for predictions.
type Handler struct {
	adapter *Adapter
}

// NewHandler creates a new prediction handler. A nil adapter makes every
// route answer 503.
func NewHandler(adapter *Adapter) *Handler {
	return &Handler{adapter: adapter}
}

// RegisterProtectedRoutes sets up routes that require a signed-in session.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/predict", h.Predict)
	r.POST("/predict/sweep", h.Sweep)
	r.GET("/model", h.Model)
}

// PredictRequest is the request body for POST /predict.
type PredictRequest struct {
	Features Record `json:"features" binding:"required"`
	Derive   bool   `json:"derive"`
}

// Predict handles POST /predict
func (h *Handler) Predict(c *gin.Context) {
	if h.adapter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "model_unavailable",
			"message": "No model bundle is loaded",
		})
		return
	}

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	rec := req.Features
	if req.Derive {
		rec = rec.WithDerived()
	}

	result, err := h.adapter.Predict(c.Request.Context(), rec)
	if err != nil {
		var ie *InferenceError
		if errors.As(err, &ie) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ie.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Prediction failed",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// SweepRequest is the request body for POST /predict/sweep. Values may be
// omitted for features with a natural range.
type SweepRequest struct {
	Features Record `json:"features" binding:"required"`
	Feature  string `json:"feature" binding:"required"`
	Values   []any  `json:"values"`
	Derive   bool   `json:"derive"`
}

// Sweep handles POST /predict/sweep
func (h *Handler) Sweep(c *gin.Context) {
	if h.adapter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "model_unavailable",
			"message": "No model bundle is loaded",
		})
		return
	}

	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if len(req.Values) > MaxSweepValues {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "too_many_values",
			"message": fmt.Sprintf("At most %d values can be swept", MaxSweepValues),
		})
		return
	}

	rec := req.Features
	if req.Derive {
		rec = rec.WithDerived()
	}

	result, err := h.adapter.Sweep(c.Request.Context(), rec, req.Feature, req.Values)
	if err != nil {
		var ie *InferenceError
		switch {
		case errors.Is(err, ErrUnknownFeature), errors.Is(err, ErrNoSweepValues):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_feature",
				"message": err.Error(),
			})
		case errors.As(err, &ie):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ie.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Sweep failed",
			})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// Model handles GET /model
func (h *Handler) Model(c *gin.Context) {
	if h.adapter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "model_unavailable",
			"message": "No model bundle is loaded",
		})
		return
	}
	meta, ok := h.adapter.Metadata()
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"featureOrder": FeatureOrder(),
			"thresholds":   h.adapter.Thresholds(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model":      meta,
		"thresholds": h.adapter.Thresholds(),
	})
}
