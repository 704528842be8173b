package handler

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/export"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type markRequest struct {
	Image string `json:"image"`
}

// MarkAttendance identifies the face in the submitted image and records
// attendance for the matched student.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var (
		img []byte
		err error
	)
	if isMultipart(c) {
		img, err = formImage(c, "photo", "image")
	} else {
		var req markRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.bindFailed(c, err)
			return
		}
		img, err = dataURLImage(req.Image)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.svc.MarkAttendance(c.Request.Context(), img)
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := "Attendance marked for " + res.Student.Name
	if res.Duplicate {
		msg = "Attendance already marked for " + res.Student.Name
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    msg,
		"student_id": res.Student.ID,
		"name":       res.Student.Name,
		"department": res.Student.Department,
		"semester":   res.Student.Semester,
		"score":      res.Score,
		"duplicate":  res.Duplicate,
		"record":     res.Record,
	})
}

// StudentDashboard returns the logged-in student's summary.
func (h *Handler) StudentDashboard(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sum, err := h.svc.StudentSummary(c.Request.Context(), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	if sum.Student.Blocked {
		auth.ClearSessionCookie(c, h.cfg.CookieSecure)
		h.fail(c, attendance.ErrStudentBlocked)
		return
	}
	if sum.Recent == nil {
		sum.Recent = []attendance.Record{}
	}
	c.JSON(http.StatusOK, sum)
}

// ListAttendance pages through records, newest first.
func (h *Handler) ListAttendance(c *gin.Context) {
	f := attendance.RecordFilter{
		StudentID: c.Query("student_id"),
		Date:      c.Query("date"),
		DateFrom:  c.Query("from"),
		DateTo:    c.Query("to"),
		Newest:    true,
		Limit:     defaultListLimit,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return
		}
		f.Offset = n
	}
	records, err := h.svc.Records(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records), "limit": f.Limit, "offset": f.Offset})
}

// ExportAttendance streams a daily or semester report as xlsx or csv.
func (h *Handler) ExportAttendance(c *gin.Context) {
	format := c.DefaultQuery("format", export.FormatXLSX)
	if format != export.FormatXLSX && format != export.FormatCSV {
		h.fail(c, export.ErrFormat)
		return
	}
	q := attendance.ReportQuery{
		Kind:       c.DefaultQuery("type", attendance.ReportDaily),
		Date:       c.Query("date"),
		Semester:   c.Query("semester"),
		Department: c.Query("department"),
	}
	if q.Kind == attendance.ReportSemester && (q.Semester == "" || q.Department == "") {
		badRequest(c, "semester and department required")
		return
	}
	rep, err := h.svc.Report(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, rep, format); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(rep, format)+`"`)
	c.Data(http.StatusOK, export.ContentType(format), buf.Bytes())
}
