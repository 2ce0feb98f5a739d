// SiteSmith API handlers: website generation, scoped edits and document
// ingestion over REST.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitesmith/internal/ai"
	"sitesmith/internal/parse"
	"sitesmith/internal/pipeline"
)

// Engine is the generation surface the handlers drive.
type Engine interface {
	Generate(ctx context.Context, req pipeline.GenerateRequest) (*pipeline.BuildState, error)
	ApplyEdit(ctx context.Context, req pipeline.EditRequest) (*pipeline.BuildState, error)
	Resume(ctx context.Context, threadID string) (*pipeline.BuildState, error)
}

// Ingester accepts raw document text for the retrieval store.
type Ingester interface {
	IngestDocument(ctx context.Context, filename, text string) []string
}

// Handler contains all the dependencies for API handlers.
type Handler struct {
	Engine   Engine
	Ingester Ingester
}

// NewHandler creates a new handler instance.
func NewHandler(engine Engine, ingester Ingester) *Handler {
	return &Handler{Engine: engine, Ingester: ingester}
}

// StandardResponse represents a standard API response.
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// RegisterRoutes mounts all endpoints on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/generate", h.Generate)
		v1.POST("/edit", h.Edit)
		v1.GET("/threads/:thread_id", h.GetThread)
		v1.POST("/documents", h.IngestDocument)
	}
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "sitesmith"})
}

// GenerateRequest is the generation API payload.
type GenerateRequest struct {
	Prompt         string            `json:"prompt" binding:"required"`
	Options        map[string]string `json:"options,omitempty"`
	GenerateImages bool              `json:"generate_images,omitempty"`
	ThreadID       string            `json:"thread_id,omitempty"`
}

// SiteResponse is the payload shared by generate and edit responses. Code
// always carries the authoritative (active) code; ModifiedCode is set only
// after an edit pass so callers can tell the two apart.
type SiteResponse struct {
	ThreadID     string                `json:"thread_id"`
	Plan         string                `json:"plan,omitempty"`
	Requirements pipeline.Requirements `json:"requirements"`
	Code         parse.Code            `json:"code"`
	ModifiedCode *parse.Code           `json:"modified_code,omitempty"`
	Selectors    []string              `json:"selectors"`
	Images       []pipeline.ImageAsset `json:"images,omitempty"`
}

// Generate runs the full build pipeline for a prompt.
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, StandardResponse{
			Success: false,
			Error:   "Invalid request format",
			Code:    "INVALID_REQUEST",
		})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, StandardResponse{
			Success: false,
			Error:   "Prompt cannot be empty",
			Code:    "EMPTY_PROMPT",
		})
		return
	}

	state, err := h.Engine.Generate(c.Request.Context(), pipeline.GenerateRequest{
		Prompt:         req.Prompt,
		Options:        req.Options,
		GenerateImages: req.GenerateImages,
		ThreadID:       req.ThreadID,
	})
	if err != nil {
		h.renderPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: siteResponse(state)})
}

// EditRequest is the scoped-edit API payload.
type EditRequest struct {
	Code           parse.Code        `json:"code"`
	ChangeRequest  string            `json:"change_request" binding:"required"`
	TargetSelector string            `json:"target_selector,omitempty"`
	ThreadID       string            `json:"thread_id,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
}

// Edit applies a change request to previously generated code.
func (h *Handler) Edit(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, StandardResponse{
			Success: false,
			Error:   "Invalid request format",
			Code:    "INVALID_REQUEST",
		})
		return
	}

	state, err := h.Engine.ApplyEdit(c.Request.Context(), pipeline.EditRequest{
		Code:           req.Code,
		ChangeRequest:  req.ChangeRequest,
		TargetSelector: req.TargetSelector,
		ThreadID:       req.ThreadID,
		Options:        req.Options,
	})
	if err != nil {
		h.renderPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: siteResponse(state)})
}

// GetThread returns the last checkpointed state for a thread.
func (h *Handler) GetThread(c *gin.Context) {
	threadID := c.Param("thread_id")
	state, err := h.Engine.Resume(c.Request.Context(), threadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, StandardResponse{
			Success: false,
			Error:   "Failed to load thread state",
			Code:    "CHECKPOINT_ERROR",
		})
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, StandardResponse{
			Success: false,
			Error:   "No state recorded for thread",
			Code:    "THREAD_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: state})
}

// DocumentRequest is the ingestion API payload.
type DocumentRequest struct {
	Filename string `json:"filename" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

// IngestDocument chunks and indexes document text for retrieval.
func (h *Handler) IngestDocument(c *gin.Context) {
	if h.Ingester == nil {
		c.JSON(http.StatusServiceUnavailable, StandardResponse{
			Success: false,
			Error:   "Document ingestion is not configured",
			Code:    "INGESTION_UNAVAILABLE",
		})
		return
	}

	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, StandardResponse{
			Success: false,
			Error:   "Invalid request format",
			Code:    "INVALID_REQUEST",
		})
		return
	}

	ids := h.Ingester.IngestDocument(c.Request.Context(), req.Filename, req.Text)
	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data: gin.H{
			"filename": req.Filename,
			"chunks":   len(ids),
			"ids":      ids,
		},
	})
}

func siteResponse(state *pipeline.BuildState) SiteResponse {
	resp := SiteResponse{
		ThreadID:     state.ThreadID,
		Plan:         state.Plan,
		Requirements: state.Requirements,
		ModifiedCode: state.ModifiedCode,
		Selectors:    state.Selectors,
		Images:       state.Images,
	}
	if code := state.ActiveCode(); code != nil {
		resp.Code = *code
	}
	return resp
}

// renderPipelineError maps model gateway failures to 502 and everything
// else to 500; bad input from the pipeline's own validation stays 400.
func (h *Handler) renderPipelineError(c *gin.Context, err error) {
	var me *ai.ModelError
	if errors.As(err, &me) {
		c.JSON(http.StatusBadGateway, StandardResponse{
			Success: false,
			Error:   err.Error(),
			Code:    "MODEL_" + strings.ToUpper(string(me.Kind)),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, StandardResponse{
		Success: false,
		Error:   err.Error(),
		Code:    "PIPELINE_ERROR",
	})
}
