package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/face"
	"faceattend/internal/store/filestore"
)

// frameDetector reads the top-left pixel: 10 is an empty frame, 20 holds two
// faces, anything else is one face covering the frame.
type frameDetector struct{}

func (frameDetector) Detect(_ context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	b := gray.Bounds()
	switch gray.GrayAt(0, 0).Y {
	case 10:
		return nil, nil
	case 20:
		return []image.Rectangle{image.Rect(0, 0, b.Dx()/2, b.Dy()), image.Rect(b.Dx()/2, 0, b.Dx(), b.Dy())}, nil
	}
	return []image.Rectangle{b}, nil
}

func pngBytes(t *testing.T, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 80, 80))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func dataURL(t *testing.T, v uint8) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, v))
}

const (
	testKey    = "handler-test-key"
	testIssuer = "faceattend-test"
)

type server struct {
	t      *testing.T
	router *gin.Engine
	admin  string
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWith(t, nil)
}

func newServerWith(t *testing.T, configure func(*Config)) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := filestore.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	svc := attendance.NewService(repo, face.NewMatcher(frameDetector{}, 0), nil, attendance.Options{DedupWindow: time.Minute})
	creds, err := auth.NewCredentials("admin", "", "admin123")
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{SigningKey: testKey, Issuer: testIssuer, SessionTTL: 2 * time.Hour}
	if configure != nil {
		configure(&cfg)
	}
	h := New(svc, creds, nil, cfg)
	s := &server{t: t, router: h.Router()}

	w := s.do(http.MethodPost, "/v1/admin/login", "", map[string]string{"username": "admin", "password": "admin123"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin login: %d %s", w.Code, w.Body.String())
	}
	s.admin = decode(t, w)["token"].(string)
	return s
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) enroll(id string, v uint8) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/v1/admin/students", s.admin, map[string]string{
		"student_id": id,
		"name":       "Student " + id,
		"department": "CSE",
		"semester":   "3",
		"image":      dataURL(s.t, v),
	})
}

func (s *server) mark(v uint8) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/v1/attendance/mark", "", map[string]string{"image": dataURL(s.t, v)})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d %s", status, w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != false || body["error"] != code {
		t.Fatalf("expected error %q, got %v", code, body)
	}
}

func TestPublicEndpoints(t *testing.T) {
	s := newServer(t)

	if w := s.do(http.MethodGet, "/coffee", "", nil); w.Code != http.StatusTeapot {
		t.Fatalf("coffee: %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/v1/ping", "", nil); w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Fatalf("ping: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/v1/session", "", nil); decode(t, w)["valid"] != false {
		t.Fatalf("anonymous session must be invalid: %s", w.Body.String())
	}
}

func TestCORSOrigins(t *testing.T) {
	preflight := func(s *server, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	strict := newServer(t)
	w := preflight(strict, "https://evil.test")
	if w.Code != http.StatusForbidden || w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must be refused by default: %d %v", w.Code, w.Header())
	}
	// httptest requests target example.com.
	if w := preflight(strict, "http://example.com"); w.Code != http.StatusOK {
		t.Fatalf("same origin: %d", w.Code)
	}

	listed := newServerWith(t, func(c *Config) { c.CORSOrigins = []string{"https://app.test"} })
	if w := preflight(listed, "https://app.test"); w.Header().Get("Access-Control-Allow-Origin") != "https://app.test" {
		t.Fatalf("listed origin: %v", w.Header())
	}
	if w := preflight(listed, "https://evil.test"); w.Code != http.StatusForbidden {
		t.Fatalf("unlisted origin: %d", w.Code)
	}

	dev := newServerWith(t, func(c *Config) { c.AllowAnyOrigin = true })
	if w := preflight(dev, "https://evil.test"); w.Header().Get("Access-Control-Allow-Origin") != "https://evil.test" {
		t.Fatalf("dev mode should echo any origin: %v", w.Header())
	}
}

func TestMarkRejectsOversizedImage(t *testing.T) {
	s := newServer(t)

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], 16000)
	binary.BigEndian.PutUint32(ihdr[4:8], 16000)
	ihdr[8] = 8
	chunk := append([]byte("IHDR"), ihdr...)
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))

	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	w := s.do(http.MethodPost, "/v1/attendance/mark", "", map[string]string{"image": img})
	expectError(t, w, http.StatusBadRequest, "invalid_image")
}

func TestAdminAuth(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/v1/admin/login", "", map[string]string{"username": "admin", "password": "nope"})
	expectError(t, w, http.StatusUnauthorized, "invalid_credentials")

	expectError(t, s.do(http.MethodGet, "/v1/admin/students", "", nil), http.StatusUnauthorized, "unauthorized")

	w = s.do(http.MethodGet, "/v1/session", s.admin, nil)
	body := decode(t, w)
	if body["valid"] != true || body["user_type"] != auth.RoleAdmin {
		t.Fatalf("session: %v", body)
	}
	if mins := body["remaining_minutes"].(float64); mins < 119 || mins > 120 {
		t.Fatalf("remaining_minutes %v", mins)
	}

	w = s.do(http.MethodPost, "/v1/admin/logout", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("logout should expire the cookie: %v", w.Header())
	}
}

func TestEnrollAndMark(t *testing.T) {
	s := newServer(t)

	if w := s.enroll("S1", 100); w.Code != http.StatusCreated {
		t.Fatalf("enroll: %d %s", w.Code, w.Body.String())
	}
	expectError(t, s.enroll("S1", 100), http.StatusConflict, "student_exists")
	expectError(t, s.enroll("S2", 10), http.StatusUnprocessableEntity, "no_face")
	expectError(t, s.enroll("S3", 20), http.StatusUnprocessableEntity, "multiple_faces")

	w := s.do(http.MethodPost, "/v1/admin/students", s.admin, map[string]string{"student_id": "S4", "name": "X", "image": "data:image/png;base64,@@@"})
	expectError(t, w, http.StatusBadRequest, "invalid_image")
	w = s.do(http.MethodPost, "/v1/admin/students", s.admin, map[string]string{"student_id": "S4", "name": "X"})
	expectError(t, w, http.StatusBadRequest, "invalid_request")

	w = s.mark(100)
	if w.Code != http.StatusOK {
		t.Fatalf("mark: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["student_id"] != "S1" || body["department"] != "CSE" || body["score"].(float64) != 0 || body["duplicate"] != false {
		t.Fatalf("unexpected mark response %v", body)
	}
	if again := decode(t, s.mark(100)); again["duplicate"] != true {
		t.Fatalf("second mark inside the window must be a duplicate: %v", again)
	}

	expectError(t, s.mark(200), http.StatusNotFound, "not_recognized")
	expectError(t, s.mark(10), http.StatusUnprocessableEntity, "no_face")
	expectError(t, s.mark(20), http.StatusUnprocessableEntity, "multiple_faces")

	w = s.do(http.MethodGet, "/v1/admin/dashboard", s.admin, nil)
	dash := decode(t, w)
	if dash["total_students"].(float64) != 1 || dash["present_today"].(float64) != 1 {
		t.Fatalf("dashboard %v", dash)
	}

	w = s.do(http.MethodGet, "/v1/admin/attendance?student_id=S1&limit=5", s.admin, nil)
	if list := decode(t, w); list["count"].(float64) != 1 {
		t.Fatalf("listing %v", list)
	}
	expectError(t, s.do(http.MethodGet, "/v1/admin/attendance?limit=-1", s.admin, nil), http.StatusBadRequest, "invalid_request")
}

func TestEnrollMultipart(t *testing.T) {
	s := newServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("student_id", "M1")
	_ = mw.WriteField("name", "Multi Part")
	_ = mw.WriteField("semester", "1")
	fw, err := mw.CreateFormFile("photo", "face.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(pngBytes(t, 90))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/students", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.admin)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("multipart enroll: %d %s", w.Code, w.Body.String())
	}
	st := decode(t, w)["student"].(map[string]any)
	if st["student_id"] != "M1" || st["enrolled_by"] != "admin" {
		t.Fatalf("student %v", st)
	}
}

func TestBlockedStudent(t *testing.T) {
	s := newServer(t)
	if w := s.enroll("S1", 100); w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}

	w := s.do(http.MethodPost, "/v1/student/login", "", map[string]string{"student_id": "S1"})
	if w.Code != http.StatusOK {
		t.Fatalf("student login: %d %s", w.Code, w.Body.String())
	}
	studentToken := decode(t, w)["token"].(string)
	expectError(t, s.do(http.MethodGet, "/v1/admin/students", studentToken, nil), http.StatusForbidden, "forbidden")

	w = s.do(http.MethodPost, "/v1/admin/students/S1/block", s.admin, nil)
	if decode(t, w)["blocked"] != true {
		t.Fatalf("block: %s", w.Body.String())
	}

	w = s.mark(100)
	expectError(t, w, http.StatusForbidden, "blocked")
	if !strings.Contains(w.Body.String(), BlockedMessage) {
		t.Fatalf("blocked message missing: %s", w.Body.String())
	}
	expectError(t, s.do(http.MethodPost, "/v1/student/login", "", map[string]string{"student_id": "S1"}), http.StatusForbidden, "blocked")
	expectError(t, s.do(http.MethodGet, "/v1/student/dashboard", studentToken, nil), http.StatusForbidden, "blocked")

	w = s.do(http.MethodPost, "/v1/admin/students/S1/block", s.admin, nil)
	if decode(t, w)["blocked"] != false {
		t.Fatalf("unblock: %s", w.Body.String())
	}
	if w := s.mark(100); w.Code != http.StatusOK {
		t.Fatalf("unblocked mark: %d %s", w.Code, w.Body.String())
	}

	expectError(t, s.do(http.MethodPost, "/v1/admin/students/nope/block", s.admin, nil), http.StatusNotFound, "student_not_found")
	expectError(t, s.do(http.MethodPost, "/v1/student/login", "", map[string]string{"student_id": "nope"}), http.StatusUnauthorized, "invalid_credentials")
}

func TestStudentDashboard(t *testing.T) {
	s := newServer(t)
	s.enroll("S1", 100)
	s.mark(100)

	w := s.do(http.MethodPost, "/v1/student/login", "", map[string]string{"student_id": "S1"})
	token := decode(t, w)["token"].(string)

	w = s.do(http.MethodGet, "/v1/student/dashboard", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["today_present"] != true || body["total_attendance"].(float64) != 1 || body["month_percentage"].(float64) != 5 {
		t.Fatalf("summary %v", body)
	}
	if recent := body["recent"].([]any); len(recent) != 1 {
		t.Fatalf("recent %v", recent)
	}
}

func TestSemesterAndExport(t *testing.T) {
	s := newServer(t)
	s.enroll("S1", 100)
	s.mark(100)

	w := s.do(http.MethodPost, "/v1/admin/students/S1/semester", s.admin, map[string]string{"new_semester": "4"})
	if w.Code != http.StatusOK {
		t.Fatalf("migrate: %d %s", w.Code, w.Body.String())
	}
	expectError(t, s.do(http.MethodPost, "/v1/admin/students/S1/semester", s.admin, map[string]string{}), http.StatusBadRequest, "invalid_request")

	w = s.do(http.MethodGet, "/v1/admin/attendance/export?type=semester&semester=4&department=CSE&format=csv", s.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attendance_4_CSE.csv") {
		t.Fatalf("content disposition %q", cd)
	}
	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][0] != "Student ID" || rows[1][0] != "S1" || rows[1][3] != "4" {
		t.Fatalf("rows %v", rows)
	}

	w = s.do(http.MethodGet, "/v1/admin/attendance/export", s.admin, nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "application/vnd.openxmlformats") {
		t.Fatalf("daily xlsx export: %d %v", w.Code, w.Header())
	}

	expectError(t, s.do(http.MethodGet, "/v1/admin/attendance/export?format=pdf", s.admin, nil), http.StatusBadRequest, "invalid_request")
	expectError(t, s.do(http.MethodGet, "/v1/admin/attendance/export?date=yesterday", s.admin, nil), http.StatusBadRequest, "invalid_request")
	expectError(t, s.do(http.MethodGet, "/v1/admin/attendance/export?type=semester&semester=4", s.admin, nil), http.StatusBadRequest, "invalid_request")
}
