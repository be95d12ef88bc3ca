package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const CtxClaimsKey = "auth_claims"

// AuthMiddleware rejects requests without a valid bearer token (401) and
// those whose token lacks one of roles (403). No roles means any valid token.
func AuthMiddleware(tokens TokenService, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		raw := strings.TrimSpace(h[len("Bearer "):])
		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
