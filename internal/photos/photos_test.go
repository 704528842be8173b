package photos

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"faceattend/internal/cloudinary"
	"faceattend/internal/face"
	"faceattend/internal/queue"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStoreSaveLoad(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("S1", pngBytes(t)); err != nil {
		t.Fatal(err)
	}
	data, err := s.Load("S1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("stored photo is not a jpeg: %v", err)
	}
	if _, err := s.Load("S2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing photo: %v", err)
	}
	for _, bad := range []string{"", "../S1", "a/b", ".hidden"} {
		if err := s.Save(bad, pngBytes(t)); err == nil {
			t.Fatalf("expected error for id %q", bad)
		}
	}

	// 16x16 is over a 100 pixel budget.
	if err := s.WithMaxPixels(100).Save("S3", pngBytes(t)); !errors.Is(err, face.ErrTooLarge) {
		t.Fatalf("oversized photo: got %v", err)
	}
	if _, err := s.Load("S3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected photo was stored: %v", err)
	}
}

type fakeUploader struct {
	got map[string]int
	err error
}

func (f *fakeUploader) Upload(_ context.Context, data []byte, id string) (*cloudinary.UploadResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got[id] = len(data)
	return &cloudinary.UploadResult{SecureURL: "https://cdn/" + id + ".jpg"}, nil
}

type urlMap map[string]string

func (m urlMap) SetPhotoURL(_ context.Context, id, url string) error {
	m[id] = url
	return nil
}

type urlChan chan string

func (c urlChan) SetPhotoURL(_ context.Context, id, url string) error {
	c <- id + "=" + url
	return nil
}

func TestPublishAndArchive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	q := queue.NewInMemory(4)
	pub := NewPublisher(s, q, nil)
	if err := pub.StorePhoto(ctx, "S1", pngBytes(t)); err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{got: map[string]int{}}
	urls := make(urlChan, 1)
	arch := NewArchiver(s, up, urls, nil)

	done := make(chan struct{})
	go func() {
		_ = arch.Run(ctx, q)
		close(done)
	}()

	select {
	case got := <-urls:
		if got != "S1=https://cdn/S1.jpg" {
			t.Fatalf("recorded %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("photo was not archived")
	}
	cancel()
	<-done

	if up.got["S1"] == 0 {
		t.Fatalf("uploads=%v", up.got)
	}
}

func TestStorePhotoDoesNotBlockOnFullQueue(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zap.WarnLevel)
	pub := NewPublisher(s, queue.NewInMemory(1), zap.New(core))
	pub.timeout = 20 * time.Millisecond

	if err := pub.StorePhoto(context.Background(), "S1", pngBytes(t)); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := pub.StorePhoto(context.Background(), "S2", pngBytes(t)); err != nil {
		t.Fatalf("full queue must not fail enrollment: %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("StorePhoto blocked for %s", waited)
	}
	if _, err := s.Load("S2"); err != nil {
		t.Fatalf("photo must be kept on disk: %v", err)
	}
	dropped := logs.FilterMessage("archive job dropped").All()
	if len(dropped) != 1 || dropped[0].ContextMap()["student_id"] != "S2" {
		t.Fatalf("expected one dropped job for S2, got %v", logs.All())
	}
}

func TestHandleFailures(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	arch := NewArchiver(s, &fakeUploader{got: map[string]int{}, err: errors.New("down")}, urlMap{}, nil)
	if err := arch.Handle(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing photo: %v", err)
	}
	if err := s.Save("S1", pngBytes(t)); err != nil {
		t.Fatal(err)
	}
	if err := arch.Handle(context.Background(), "S1"); err == nil {
		t.Fatal("expected upload error")
	}
}
