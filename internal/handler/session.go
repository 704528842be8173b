package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
)

type adminLoginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// AdminLogin verifies the administrator and starts a session.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "username and password required")
		return
	}
	if h.creds == nil {
		h.fail(c, auth.ErrInvalidCredentials)
		return
	}
	if err := h.creds.Verify(req.Username, req.Password); err != nil {
		h.log.Warn("admin login failed", zap.String("username", req.Username), zap.String("ip", c.ClientIP()))
		h.fail(c, err)
		return
	}
	h.startSession(c, req.Username, auth.RoleAdmin, gin.H{})
}

type studentLoginRequest struct {
	StudentID string `json:"student_id" form:"student_id" binding:"required"`
}

// StudentLogin starts a session for an enrolled, unblocked student.
func (h *Handler) StudentLogin(c *gin.Context) {
	var req studentLoginRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "student_id required")
		return
	}
	st, err := h.svc.Login(c.Request.Context(), req.StudentID)
	if errors.Is(err, attendance.ErrStudentNotFound) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid_credentials", "message": "Invalid Student ID"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.startSession(c, st.ID, auth.RoleStudent, gin.H{"student": st})
}

func (h *Handler) startSession(c *gin.Context, subject, role string, body gin.H) {
	tok, err := auth.Issue(subject, role, h.cfg.Issuer, h.cfg.SigningKey, h.cfg.SessionTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	auth.SetSessionCookie(c, tok, h.cfg.CookieSecure)
	h.log.Info("session started", zap.String("user_type", role), zap.String("subject", subject))

	body["success"] = true
	body["user_type"] = role
	body["token"] = tok.Value
	body["expires_at"] = tok.ExpiresAt
	c.JSON(http.StatusOK, body)
}

// Logout clears the session cookie. Tokens are stateless, so bearer clients
// simply discard theirs.
func (h *Handler) Logout(c *gin.Context) {
	auth.ClearSessionCookie(c, h.cfg.CookieSecure)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Session reports whether the caller's session is still valid.
func (h *Handler) Session(c *gin.Context) {
	tokenStr := auth.TokenFrom(c)
	if tokenStr == "" {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	claims, err := auth.Parse(tokenStr, h.cfg.SigningKey, h.cfg.Issuer)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			auth.ClearSessionCookie(c, h.cfg.CookieSecure)
		}
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	remaining := claims.Remaining(time.Now())
	c.JSON(http.StatusOK, gin.H{
		"valid":             true,
		"user_type":         claims.Role,
		"subject":           claims.Subject,
		"remaining_minutes": int(remaining.Minutes()),
	})
}
