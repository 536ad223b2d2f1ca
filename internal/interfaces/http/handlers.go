package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/application/service"
	"github.com/garyjia/permit-approvals/internal/application/workflow"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/reconcile"
	domainwf "github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/garyjia/permit-approvals/internal/interfaces/auth"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine workflow.Engine
	subs   service.SubscriptionService
	status func() map[string]bool
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine workflow.Engine,
	subs service.SubscriptionService,
	status func() map[string]bool,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine: engine,
		subs:   subs,
		status: status,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string          `json:"status"`
	Timestamp  string          `json:"timestamp"`
	Version    string          `json:"version"`
	Components map[string]bool `json:"components,omitempty"`
}

// TransitionRequest is the body of advance and reject
type TransitionRequest struct {
	Role   string `json:"role"`
	Reason string `json:"reason,omitempty"`
}

// FinalizeRequest is the body of finalize; Delivered is aligned by index
// with the document line items
type FinalizeRequest struct {
	Role      string                `json:"role"`
	Delivered []reconcile.Delivered `json:"delivered"`
}

// SubscriptionRequest is the body of subscription registration
type SubscriptionRequest struct {
	Channel  string `json:"channel"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh,omitempty"`
	Auth     string `json:"auth,omitempty"`
	Role     string `json:"role"`
}

// ListDocumentsRequest represents query parameters for listing documents
type ListDocumentsRequest struct {
	Type      string `form:"type"`
	CompanyID string `form:"company_id"`
	Stage     string `form:"stage"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	code := http.StatusOK
	if h.status != nil {
		response.Components = h.status()
		for _, up := range response.Components {
			if !up {
				response.Status = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}
	}

	c.JSON(code, Response{
		Success: code == http.StatusOK,
		Data:    response,
	})
}

// SubmitDocument handles POST /api/documents
func (h *Handlers) SubmitDocument(c *gin.Context) {
	p := mustPrincipal(c)

	var req workflow.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	req.CreatedBy = p.Name

	doc, err := h.engine.Submit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Failed to submit document", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: doc})
}

// GetDocument handles GET /api/documents/:id
func (h *Handlers) GetDocument(c *gin.Context) {
	doc, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get document", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// ListDocuments handles GET /api/documents
func (h *Handlers) ListDocuments(c *gin.Context) {
	var req ListDocumentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	docs, err := h.engine.List(c.Request.Context(), port.DocumentFilter{
		Type:      entity.DocumentType(req.Type),
		CompanyID: req.CompanyID,
		Stage:     domainwf.Stage(req.Stage),
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		h.writeError(c, "Failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []*entity.Document{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: docs})
}

// EditDocument handles PUT /api/documents/:id
func (h *Handlers) EditDocument(c *gin.Context) {
	p := mustPrincipal(c)

	var patch entity.DocumentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	doc, err := h.engine.Edit(c.Request.Context(), c.Param("id"), p.Name, patch)
	if err != nil {
		h.writeError(c, "Failed to edit document", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// AdvanceDocument handles POST /api/documents/:id/advance
func (h *Handlers) AdvanceDocument(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	p, ok := h.authorizeRole(c, req.Role)
	if !ok {
		return
	}

	doc, err := h.engine.Advance(c.Request.Context(), c.Param("id"), domainwf.Role(req.Role), p.Name)
	if err != nil {
		h.writeError(c, "Failed to advance document", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// RejectDocument handles POST /api/documents/:id/reject
func (h *Handlers) RejectDocument(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	p, ok := h.authorizeRole(c, req.Role)
	if !ok {
		return
	}

	doc, err := h.engine.Reject(c.Request.Context(), c.Param("id"), domainwf.Role(req.Role), p.Name, req.Reason)
	if err != nil {
		h.writeError(c, "Failed to reject document", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// FinalizeDocument handles POST /api/documents/:id/finalize
func (h *Handlers) FinalizeDocument(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	p, ok := h.authorizeRole(c, req.Role)
	if !ok {
		return
	}

	doc, err := h.engine.Finalize(c.Request.Context(), c.Param("id"), domainwf.Role(req.Role), p.Name, req.Delivered)
	if err != nil {
		h.writeError(c, "Failed to finalize document", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// RegisterSubscription handles POST /api/subscriptions
func (h *Handlers) RegisterSubscription(c *gin.Context) {
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	p, ok := h.authorizeRole(c, req.Role)
	if !ok {
		return
	}

	sub, err := h.subs.Register(c.Request.Context(), service.RegisterRequest{
		OwnerID:     p.UserID,
		DisplayName: p.Name,
		Channel:     req.Channel,
		Endpoint:    req.Endpoint,
		P256dh:      req.P256dh,
		Auth:        req.Auth,
		Role:        req.Role,
	})
	if err != nil {
		h.writeError(c, "Failed to register subscription", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: sub})
}

// UnregisterSubscription handles DELETE /api/subscriptions/:channel
func (h *Handlers) UnregisterSubscription(c *gin.Context) {
	p := mustPrincipal(c)

	if err := h.subs.Unregister(c.Request.Context(), p.UserID, c.Param("channel")); err != nil {
		h.writeError(c, "Failed to unregister subscription", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// ListSubscriptions handles GET /api/subscriptions. With ?role= it lists the
// role's subscriptions, otherwise the caller's own.
func (h *Handlers) ListSubscriptions(c *gin.Context) {
	var (
		subs []*entity.Subscription
		err  error
	)

	if role := c.Query("role"); role != "" {
		if _, ok := h.authorizeRole(c, role); !ok {
			return
		}
		subs, err = h.subs.ListByRole(c.Request.Context(), role)
	} else {
		subs, err = h.subs.ListByOwner(c.Request.Context(), mustPrincipal(c).UserID)
	}
	if err != nil {
		h.writeError(c, "Failed to list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []*entity.Subscription{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: subs})
}

// authorizeRole checks that the caller holds role and writes 400/403
// otherwise
func (h *Handlers) authorizeRole(c *gin.Context, role string) (*auth.Principal, bool) {
	p := mustPrincipal(c)
	if role == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "role is required"})
		return nil, false
	}
	if !p.HasRole(role) {
		h.logger.Info("Role not granted", "user_id", p.UserID, "role", role)
		c.JSON(http.StatusForbidden, Response{Success: false, Error: "role " + role + " is not granted"})
		return nil, false
	}
	return p, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Invalid request", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// writeError maps the workflow error taxonomy to status codes
func (h *Handlers) writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrStageMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// mustPrincipal returns the caller set by the auth middleware
func mustPrincipal(c *gin.Context) *auth.Principal {
	p, ok := auth.FromContext(c)
	if !ok {
		return &auth.Principal{}
	}
	return p
}
