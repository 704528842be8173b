package cloudinary

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignExcludesKeyAndFile(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{
		"timestamp": "100",
		"public_id": "S1",
		"api_key":   "key",
		"file":      "ignored",
		"folder":    "",
	})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=S1&timestamp=100secret")))
	if got != want {
		t.Fatalf("signature %s, want %s", got, want)
	}
}

func TestUpload(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/upload" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		_ = json.NewEncoder(w).Encode(UploadResult{PublicID: "students/S1", SecureURL: "https://cdn/S1.jpg", Bytes: len(data)})
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "students")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.Upload(context.Background(), []byte("jpegdata"), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if res.SecureURL != "https://cdn/S1.jpg" || res.Bytes != 8 {
		t.Fatalf("result %+v", res)
	}
	if form["public_id"] != "S1" || form["folder"] != "students" || form["timestamp"] != "1700000000" || form["signature"] == "" {
		t.Fatalf("form %v", form)
	}
}

func TestUploadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	if _, err := c.Upload(context.Background(), []byte("x"), "S1"); err == nil {
		t.Fatal("expected error on 401")
	}
	if _, err := c.Upload(context.Background(), nil, "S1"); err == nil {
		t.Fatal("expected error on empty data")
	}
}
