package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/auth"
	"faceattend/internal/httpmiddleware"
)

// Router builds the gin engine with middleware and every route.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(h.log, "/healthz", "/metrics", "/v1/ping"))
	r.Use(cors.New(h.corsConfig()))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(h.cfg.RateLimitPerMin, h.cfg.RateLimitPerMin).GinMiddleware())
	r.Use(httpmiddleware.BodyLimit(h.cfg.MaxUploadBytes))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)
	r.GET("/coffee", h.Coffee)

	v1 := r.Group("/v1")
	v1.GET("/ping", h.Ping)
	v1.GET("/session", h.Session)
	v1.POST("/admin/login", h.AdminLogin)
	v1.POST("/admin/logout", h.Logout)
	v1.POST("/student/login", h.StudentLogin)
	v1.POST("/student/logout", h.Logout)
	v1.POST("/attendance/mark", h.MarkAttendance)

	admin := v1.Group("/admin", auth.Required(h.cfg.SigningKey, h.cfg.Issuer, auth.RoleAdmin))
	admin.GET("/dashboard", h.AdminDashboard)
	admin.GET("/students", h.ListStudents)
	admin.POST("/students", h.EnrollStudent)
	admin.GET("/students/:id", h.GetStudent)
	admin.POST("/students/:id/block", h.ToggleBlock)
	admin.POST("/students/:id/semester", h.MigrateSemester)
	admin.GET("/attendance", h.ListAttendance)
	admin.GET("/attendance/export", h.ExportAttendance)

	student := v1.Group("/student", auth.Required(h.cfg.SigningKey, h.cfg.Issuer, auth.RoleStudent))
	student.GET("/dashboard", h.StudentDashboard)

	return r
}

func (h *Handler) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	switch {
	case len(h.cfg.CORSOrigins) > 0:
		cfg.AllowOrigins = h.cfg.CORSOrigins
	case h.cfg.AllowAnyOrigin:
		cfg.AllowOriginFunc = func(string) bool { return true }
	default:
		// Same-origin requests bypass the check, everything else is refused.
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cfg
}

// Healthz runs every readiness check.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, check := range h.cfg.Checks {
		ok := check.Healthy(c.Request.Context())
		body[check.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// Ping is a liveness probe for the frontend.
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Coffee refuses to brew.
func (h *Handler) Coffee(c *gin.Context) {
	c.JSON(http.StatusTeapot, gin.H{"success": false, "error": "teapot", "message": "I'm a teapot"})
}
