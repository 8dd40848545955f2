package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/service"
)

const defaultRetentionDays = 30

// AdminHandler handles administrative operations
type AdminHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc *service.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		logger: logger,
	}
}

// ListUsers lists every account
// GET /v1/admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	accounts, err := h.svc.ListAccounts(c.Request.Context())
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	RespondSuccess(c, accounts)
}

// UpdateUserRequest represents a role change
type UpdateUserRequest struct {
	Role string `json:"role"`
}

// UpdateUser changes an account's role
// PUT /v1/admin/users/:id
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := h.svc.UpdateRole(c.Request.Context(), id, models.Role(req.Role))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondSuccess(c, account)
}

// DeleteUser permanently deletes an account
// DELETE /v1/admin/users/:id
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteAccount(c.Request.Context(), id); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondMessage(c, http.StatusOK, "User deleted successfully")
}

// UnlockUser clears an account's lock and failure counter
// POST /v1/admin/users/:id/unlock
func (h *AdminHandler) UnlockUser(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	account, err := h.svc.Unlock(c.Request.Context(), id, requestMeta(c))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondSuccess(c, account)
}

// UserEnrollment returns an account's TOTP enrollment QR code
// GET /v1/admin/users/:id/enrollment.png
func (h *AdminHandler) UserEnrollment(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	png, err := h.svc.EnrollmentPNG(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// ListLogs lists audit events newest first, optionally filtered by
// user_id, event and limit query parameters
// GET /v1/admin/logs
func (h *AdminHandler) ListLogs(c *gin.Context) {
	var accountID *int64
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid user_id")
			return
		}
		accountID = &id
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid limit")
			return
		}
		limit = n
	}

	events, err := h.svc.ListEvents(c.Request.Context(), accountID, models.EventKind(c.Query("event")), limit)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.AuthEvent{}
	}
	RespondSuccess(c, events)
}

// CleanLogsRequest represents a purge request
type CleanLogsRequest struct {
	Days *int `json:"days"`
}

// CleanLogs deletes audit events older than days (default 30)
// POST /v1/admin/clean_logs
func (h *AdminHandler) CleanLogs(c *gin.Context) {
	var req CleanLogsRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	days := defaultRetentionDays
	if req.Days != nil {
		days = *req.Days
	}

	n, err := h.svc.PurgeEvents(c.Request.Context(), days)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{
		"message": "Old logs cleaned",
		"deleted": n,
	})
}

func (h *AdminHandler) accountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondAppError(c, h.logger, apperr.Wrap(apperr.ErrInvalidInput, errors.New("invalid user id")))
		return 0, false
	}
	return id, true
}
