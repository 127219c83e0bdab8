package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
)

// Handler serves token endpoints. Issuing is only enabled for development.
type Handler struct {
	tokens      *HMACTokens
	revocations *Revocations
	allowIssue  bool
}

func NewHandler(tokens *HMACTokens, revocations *Revocations, allowIssue bool) *Handler {
	return &Handler{tokens: tokens, revocations: revocations, allowIssue: allowIssue}
}

// Register mounts the public routes under /auth.
func (h *Handler) Register(rg *gin.RouterGroup) {
	if h.allowIssue && h.tokens != nil {
		rg.POST("/auth/token", h.Issue)
	}
}

// RegisterAuthenticated mounts routes that need a verified caller.
func (h *Handler) RegisterAuthenticated(rg *gin.RouterGroup) {
	rg.POST("/auth/logout", h.Logout)
}

// Issue mints an access token for an arbitrary subject (development only).
func (h *Handler) Issue(c *gin.Context) {
	var req struct {
		Sub   string `json:"sub" binding:"required"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := h.tokens.Issue(req.Sub, req.Name, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": tok, "expiresIn": int(h.tokens.ttl.Seconds())})
}

// Logout blacklists the caller's access token for its remaining lifetime.
func (h *Handler) Logout(c *gin.Context) {
	if h.revocations == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "token revocation requires redis"})
		return
	}
	at, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || at == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing bearer token"})
		return
	}
	exp, err := tokenExpiry(at)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token has no usable exp claim"})
		return
	}
	if ttl := time.Until(exp); ttl > 0 {
		if err := h.revocations.Revoke(c.Request.Context(), at, ttl); err != nil {
			logger.Errorf("logout: revoke token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to blacklist access token"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// tokenExpiry decodes the JWT payload and returns the `exp` claim as time.Time.
// This performs payload-only parsing (no signature verification) and is suitable
// for computing remaining TTLs for blacklisting purposes.
func tokenExpiry(tok string) (time.Time, error) {
	parts := strings.Split(tok, ".")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid token")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, err
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(b, &claims); err != nil {
		return time.Time{}, err
	}
	v, ok := claims["exp"]
	if !ok {
		return time.Time{}, fmt.Errorf("exp claim not present")
	}
	switch vv := v.(type) {
	case float64:
		return time.Unix(int64(vv), 0), nil
	case string:
		i64, err := json.Number(vv).Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(i64, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported exp type %T", v)
	}
}
