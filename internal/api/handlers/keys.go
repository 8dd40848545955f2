package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/ticketauth/internal/keys"
)

// KeysHandler publishes the token verification key
type KeysHandler struct {
	keyPair *keys.KeyPair
}

// NewKeysHandler creates a new keys handler. kp is nil for shared-secret signing.
func NewKeysHandler(kp *keys.KeyPair) *KeysHandler {
	return &KeysHandler{
		keyPair: kp,
	}
}

// GetSigningKey returns the public key that verifies issued tokens
// GET /v1/auth/signing_key
func (h *KeysHandler) GetSigningKey(c *gin.Context) {
	if h.keyPair == nil {
		RespondError(c, http.StatusNotFound, "not_found", "Tokens are signed with a shared secret")
		return
	}

	c.Header("X-Key-ID", h.keyPair.KeyID)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", h.keyPair.AuthorizedKey())
}
