package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "attendance_session"

const claimsKey = "claims"

// TokenFrom returns the bearer token, falling back to the session cookie.
func TokenFrom(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// Required enforces a valid HS256 session token. When roles are given the
// token's role must be one of them.
func Required(signingKey, issuer string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := TokenFrom(c)
		if tokenStr == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "login required")
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if errors.Is(err, ErrTokenExpired) {
			abort(c, http.StatusUnauthorized, "session_expired", "session expired, please login again")
			return
		}
		if err != nil {
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			abort(c, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Required.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

// SetSessionCookie stores tok in an HttpOnly cookie expiring with the token.
func SetSessionCookie(c *gin.Context, tok Token, secure bool) {
	maxAge := int(time.Until(tok.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, tok.Value, maxAge, "/", "", secure, true)
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", secure, true)
}

func hasRole(role string, roles []string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": code, "message": msg})
}
