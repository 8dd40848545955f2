package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/api/middleware"
	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/service"
)

// AuthHandler handles the self-service authentication endpoints
type AuthHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *service.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger,
	}
}

// RegisterRequest represents an account registration request
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// RegisterResponse represents an account registration response
type RegisterResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

// Register creates an account. Admin only.
// POST /v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	actor, _ := middleware.IdentityFrom(c)
	account, err := h.svc.Register(c.Request.Context(), actor, service.RegisterRequest{
		Handle:   req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.Role(req.Role),
	}, requestMeta(c))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		Message: "User registered successfully",
		UserID:  account.ID,
	})
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries either a token pair or a pending two-factor token
type LoginResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	MFAToken     string `json:"mfa_token,omitempty"`
	TwoFactor    string `json:"two_factor,omitempty"`
	Message      string `json:"message"`
}

// Login checks a username and password
// POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.svc.Login(c.Request.Context(), req.Username, req.Password, requestMeta(c))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}

	if res.Tokens != nil {
		RespondSuccess(c, LoginResponse{
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
			Message:      "Login successful",
		})
		return
	}

	RespondSuccess(c, LoginResponse{
		MFAToken:  res.PendingToken,
		TwoFactor: res.TwoFactor,
		Message:   "OTP code required",
	})
}

// OTPRequest represents a primary OTP verification request
type OTPRequest struct {
	OTP string `json:"otp"`
}

// VerifyOTP completes a pending login
// POST /v1/auth/verify_otp
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req OTPRequest
	if !bindJSON(c, &req) {
		return
	}

	id, _ := middleware.IdentityFrom(c)
	pair, err := h.svc.VerifyOTP(c.Request.Context(), id, req.OTP, requestMeta(c))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondSuccess(c, pair)
}

// EmailRequest names an account by email
type EmailRequest struct {
	Email string `json:"email"`
}

// RequestFallbackOTP mails a single-use code
// POST /v1/auth/request_fallback_otp
func (h *AuthHandler) RequestFallbackOTP(c *gin.Context) {
	var req EmailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.svc.RequestFallbackOTP(c.Request.Context(), req.Email, requestMeta(c)); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondMessage(c, http.StatusOK, "Fallback OTP code sent")
}

// FallbackOTPRequest represents a fallback code verification request
type FallbackOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyFallbackOTP completes a login with the mailed code
// POST /v1/auth/verify_fallback_otp
func (h *AuthHandler) VerifyFallbackOTP(c *gin.Context) {
	var req FallbackOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.svc.VerifyFallbackOTP(c.Request.Context(), req.Email, req.OTP, requestMeta(c))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondSuccess(c, pair)
}

// Refresh mints a new access token
// POST /v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	access, err := h.svc.Refresh(c.Request.Context(), id, requestMeta(c))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"access_token": access})
}

// Me returns the caller's account
// GET /v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	account, err := h.svc.Me(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondSuccess(c, account)
}

// Enrollment returns the caller's TOTP enrollment QR code
// GET /v1/auth/enrollment.png
func (h *AuthHandler) Enrollment(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	png, err := h.svc.EnrollmentPNG(c.Request.Context(), id.AccountID)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// RequestPasswordReset mails a reset link
// POST /v1/auth/password_reset_request
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req EmailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email, requestMeta(c)); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondMessage(c, http.StatusOK, "Password reset email sent")
}

// ResetPasswordRequest represents a reset confirmation
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword sets a new password. The token may come from the body or
// the query string of the mailed link.
// POST /v1/auth/reset_password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}
	if req.Token == "" {
		RespondAppError(c, h.logger, apperr.ErrInvalidToken)
		return
	}

	if err := h.svc.ConfirmPasswordReset(c.Request.Context(), req.Token, req.Password, requestMeta(c)); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondMessage(c, http.StatusOK, "Password reset successfully")
}

// RequestUnlock mails an unlock link for a locked account
// POST /v1/auth/request_unlock
func (h *AuthHandler) RequestUnlock(c *gin.Context) {
	var req EmailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.svc.RequestUnlock(c.Request.Context(), req.Email, requestMeta(c)); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondMessage(c, http.StatusOK, "Unlock email sent")
}

// UnlockRequest carries an unlock token
type UnlockRequest struct {
	Token string `json:"token"`
}

// UnlockAccount unlocks the account named by an unlock token
// POST /v1/auth/unlock_account
func (h *AuthHandler) UnlockAccount(c *gin.Context) {
	var req UnlockRequest
	// the mailed link carries the token in the query string with no body
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}
	if req.Token == "" {
		RespondAppError(c, h.logger, apperr.ErrInvalidToken)
		return
	}

	if _, err := h.svc.ConfirmUnlock(c.Request.Context(), req.Token, requestMeta(c)); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	RespondMessage(c, http.StatusOK, "Account unlocked successfully")
}
