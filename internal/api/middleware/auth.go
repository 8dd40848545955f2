package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/service"
	"github.com/adamscao/ticketauth/internal/token"
)

var errMissingBearer = errors.New("missing bearer token")

const (
	identityKey = "ticketauth.identity"
	claimsKey   = "ticketauth.claims"
)

// TokenVerifier verifies signed tokens of a given kind
type TokenVerifier interface {
	Verify(tokenStr string, kind token.Kind) (*token.Claims, error)
}

// Identify attaches the caller's identity when a valid access token is
// presented. It never rejects; anonymous callers pass through.
func Identify(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearer(c); raw != "" {
			if claims, err := tokens.Verify(raw, token.KindAccess); err == nil {
				setIdentity(c, claims)
			}
		}
		c.Next()
	}
}

// RequireToken rejects requests without a valid bearer token of kind
func RequireToken(tokens TokenVerifier, kind token.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if raw == "" {
			Abort(c, apperr.Wrap(apperr.ErrInvalidToken, errMissingBearer))
			return
		}

		claims, err := tokens.Verify(raw, kind)
		if err != nil {
			Abort(c, err)
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// RequireRole rejects authenticated callers that do not hold role
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			Abort(c, apperr.ErrInvalidToken)
			return
		}
		if id.Role != role {
			Abort(c, apperr.ErrRoleForbidden)
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity attached by Identify or RequireToken
func IdentityFrom(c *gin.Context) (service.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return service.Identity{}, false
	}
	id, ok := v.(service.Identity)
	return id, ok
}

// ClaimsFrom returns the verified token claims of the request
func ClaimsFrom(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok
}

// Abort ends the request with the status and body derived from err
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
		"error":   apperr.Code(err),
		"message": apperr.Message(err),
	})
}

func setIdentity(c *gin.Context, claims *token.Claims) {
	c.Set(claimsKey, claims)
	c.Set(identityKey, service.Identity{AccountID: claims.AccountID, Role: claims.Role})
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
