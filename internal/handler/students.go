package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/httpmiddleware"
)

type enrollRequest struct {
	StudentID  string `json:"student_id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Semester   string `json:"semester"`
	Image      string `json:"image"`
}

// EnrollStudent accepts either JSON with a base64 data URL in "image" or a
// multipart form with a "photo" file.
func (h *Handler) EnrollStudent(c *gin.Context) {
	var (
		e   attendance.Enrollment
		err error
	)
	if isMultipart(c) {
		e = attendance.Enrollment{
			StudentID:  c.PostForm("student_id"),
			Name:       c.PostForm("name"),
			Department: c.PostForm("department"),
			Semester:   c.PostForm("semester"),
		}
		e.Image, err = formImage(c, "photo", "image")
	} else {
		var req enrollRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.bindFailed(c, err)
			return
		}
		e = attendance.Enrollment{
			StudentID:  req.StudentID,
			Name:       req.Name,
			Department: req.Department,
			Semester:   req.Semester,
		}
		e.Image, err = dataURLImage(req.Image)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if claims, ok := auth.ClaimsFrom(c); ok {
		e.EnrolledBy = claims.Subject
	}

	st, err := h.svc.Enroll(c.Request.Context(), e)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Student " + st.Name + " registered successfully",
		"student": st,
	})
}

// ListStudents returns every student ordered by id.
func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.svc.Students(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if students == nil {
		students = []attendance.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

// GetStudent returns one student.
func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.svc.Student(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

// ToggleBlock flips the student's blocked flag.
func (h *Handler) ToggleBlock(c *gin.Context) {
	st, err := h.svc.ToggleBlock(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	status := "unblocked"
	if st.Blocked {
		status = "blocked"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"student_id": st.ID,
		"blocked":    st.Blocked,
		"message":    "Student " + st.ID + " has been " + status,
	})
}

type semesterRequest struct {
	NewSemester string `json:"new_semester" form:"new_semester" binding:"required"`
}

// MigrateSemester moves the student to another semester.
func (h *Handler) MigrateSemester(c *gin.Context) {
	var req semesterRequest
	if err := c.ShouldBind(&req); err != nil {
		h.bindFailed(c, err)
		return
	}
	st, err := h.svc.MigrateSemester(c.Request.Context(), c.Param("id"), req.NewSemester)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"student": st,
		"message": "Student " + st.ID + " migrated to semester " + st.Semester,
	})
}

// AdminDashboard returns headline counts.
func (h *Handler) AdminDashboard(c *gin.Context) {
	d, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) bindFailed(c *gin.Context, err error) {
	if httpmiddleware.IsBodyTooLarge(err) {
		h.fail(c, err)
		return
	}
	badRequest(c, "malformed request body")
}
