// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/export"
	"faceattend/internal/face"
	"faceattend/internal/httpmiddleware"
)

// BlockedMessage is shown to students whose account is blocked.
const BlockedMessage = "Your account has been blocked. Please contact administrator."

// Check is a named readiness probe reported by /healthz.
type Check struct {
	Name    string
	Healthy func(ctx context.Context) bool
}

// Config carries the HTTP-facing settings.
type Config struct {
	SigningKey      string
	Issuer          string
	SessionTTL      time.Duration
	CookieSecure    bool
	MaxUploadBytes  int64
	RateLimitPerMin int
	CORSOrigins     []string
	// AllowAnyOrigin echoes every origin when CORSOrigins is empty. Dev only.
	AllowAnyOrigin  bool
	Checks          []Check
}

// Handler serves the attendance API.
type Handler struct {
	svc   *attendance.Service
	creds *auth.Credentials
	log   *zap.Logger
	cfg   Config
}

// New creates a handler.
func New(svc *attendance.Service, creds *auth.Credentials, log *zap.Logger, cfg Config) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Handler{svc: svc, creds: creds, log: log, cfg: cfg}
}

var errImageRequired = errors.New("image required")

// apiError maps err onto a status, a stable code and a message.
func apiError(err error) (int, string, string) {
	switch {
	case errors.Is(err, face.ErrNoFace):
		return http.StatusUnprocessableEntity, "no_face", "No face detected in the image"
	case errors.Is(err, face.ErrMultipleFaces):
		return http.StatusUnprocessableEntity, "multiple_faces", "Multiple faces detected. Please provide an image with only one face"
	case errors.Is(err, face.ErrNoMatch):
		return http.StatusNotFound, "not_recognized", "Face not recognized"
	case errors.Is(err, face.ErrDecode):
		return http.StatusBadRequest, "invalid_image", "Invalid image data"
	case errors.Is(err, attendance.ErrStudentBlocked):
		return http.StatusForbidden, "blocked", BlockedMessage
	case errors.Is(err, attendance.ErrStudentExists):
		return http.StatusConflict, "student_exists", "Student ID already exists"
	case errors.Is(err, attendance.ErrStudentNotFound):
		return http.StatusNotFound, "student_not_found", "Student not found"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"
	case httpmiddleware.IsBodyTooLarge(err):
		return http.StatusRequestEntityTooLarge, "too_large", "Request body too large"
	case errors.Is(err, attendance.ErrInvalidStudent),
		errors.Is(err, attendance.ErrInvalidReport),
		errors.Is(err, export.ErrFormat),
		errors.Is(err, errImageRequired):
		return http.StatusBadRequest, "invalid_request", err.Error()
	default:
		return http.StatusInternalServerError, "internal", "Internal server error"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code, msg := apiError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(httpmiddleware.RequestIDKey)),
			zap.Error(err))
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": code, "message": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request", "message": msg})
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// formImage reads the first present file field.
func formImage(c *gin.Context, fields ...string) ([]byte, error) {
	for _, field := range fields {
		fh, err := c.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		return data, err
	}
	return nil, errImageRequired
}

// dataURLImage decodes the base64 image sent in JSON bodies.
func dataURLImage(s string) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errImageRequired
	}
	return face.DecodeDataURL(s)
}
