package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const CtxClaimsKey = "auth_claims"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticate checks an "Authorization: Bearer ..." value. The token's
// version must still match the stored one; logout and password changes bump it.
func Authenticate(ctx context.Context, tokens TokenService, repo *Repo, header string) (*Claims, error) {
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, ErrMissingToken
	}
	raw := strings.TrimSpace(header[len("Bearer "):])
	claims, err := tokens.Parse(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if repo != nil {
		currentVersion, err := repo.GetTokenVersion(ctx, claims.AdminID)
		if err != nil || currentVersion != claims.TokenVersion {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// AuthMiddleware requires an admin bearer token.
func AuthMiddleware(tokens TokenService, repo *Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := Authenticate(c.Request.Context(), tokens, repo, c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// MustGetClaims returns the claims AuthMiddleware stored, or nil.
func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
