package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-key"
	testIssuer = "faceattend-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("S1", RoleStudent, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(tok.Value, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "S1" || claims.Role != RoleStudent {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if rem := claims.Remaining(time.Now()); rem <= 59*time.Minute || rem > time.Hour {
		t.Fatalf("remaining %s", rem)
	}

	if _, err := Parse(tok.Value, "other-key", testIssuer); err == nil {
		t.Fatal("expected signature failure")
	}
	if _, err := Parse(tok.Value, testKey, "someone-else"); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestParseExpired(t *testing.T) {
	tok, err := Issue("admin", RoleAdmin, testIssuer, testKey, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(tok.Value, testKey, testIssuer); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCredentials(t *testing.T) {
	creds, err := NewCredentials("admin", "", "admin123")
	if err != nil {
		t.Fatal(err)
	}
	if err := creds.Verify("admin", "admin123"); err != nil {
		t.Fatalf("valid login rejected: %v", err)
	}
	for _, tc := range []struct{ user, pass string }{
		{"admin", "wrong"},
		{"root", "admin123"},
		{"", ""},
	} {
		if err := creds.Verify(tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%q/%q: expected ErrInvalidCredentials, got %v", tc.user, tc.pass, err)
		}
	}

	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	fromHash, err := NewCredentials("admin", hash, "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if err := fromHash.Verify("admin", "s3cret"); err != nil {
		t.Fatalf("hash login rejected: %v", err)
	}
	if _, err := NewCredentials("admin", "not-a-hash", ""); err == nil {
		t.Fatal("expected malformed hash error")
	}
}

func TestRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Required(testKey, testIssuer, RoleAdmin), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	admin, _ := Issue("admin", RoleAdmin, testIssuer, testKey, time.Hour)
	student, _ := Issue("S1", RoleStudent, testIssuer, testKey, time.Hour)
	expired, _ := Issue("admin", RoleAdmin, testIssuer, testKey, -time.Minute)

	cases := []struct {
		name   string
		header string
		cookie string
		status int
		body   string
	}{
		{name: "missing", status: http.StatusUnauthorized, body: "unauthorized"},
		{name: "bearer", header: "Bearer " + admin.Value, status: http.StatusOK, body: "admin"},
		{name: "cookie", cookie: admin.Value, status: http.StatusOK, body: "admin"},
		{name: "wrong role", header: "Bearer " + student.Value, status: http.StatusForbidden, body: "forbidden"},
		{name: "expired", header: "Bearer " + expired.Value, status: http.StatusUnauthorized, body: "session_expired"},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized, body: "invalid token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tc.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status || !strings.Contains(w.Body.String(), tc.body) {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSessionCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SetSessionCookie(c, Token{Value: "abc", ExpiresAt: time.Now().Add(time.Hour)}, true)

	set := w.Header().Get("Set-Cookie")
	for _, want := range []string{SessionCookie + "=abc", "HttpOnly", "Secure", "SameSite=Lax"} {
		if !strings.Contains(set, want) {
			t.Fatalf("cookie %q missing %q", set, want)
		}
	}
}
