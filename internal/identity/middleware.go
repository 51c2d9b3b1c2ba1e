package identity

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxOwnerClaims = "sslgen_owner_claims"

func bearer(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), true
}

// RequireOwner returns a Gin middleware that enforces a valid owner Bearer
// token and injects its claims into the context.
func RequireOwner(tokens *OwnerTokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
			return
		}
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxOwnerClaims, claims)
		c.Next()
	}
}

// OwnerFromCtx returns the claims injected by RequireOwner, or nil.
func OwnerFromCtx(c *gin.Context) *OwnerClaims {
	v, _ := c.Get(ctxOwnerClaims)
	claims, _ := v.(*OwnerClaims)
	return claims
}

// RequireSecret returns a Gin middleware that compares the Bearer token with
// a static secret. An empty secret rejects every request.
func RequireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided, ok := bearer(c)
		if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
