package photos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"faceattend/internal/cloudinary"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
)

// TypeArchive is the queue message type of a photo archive job. The body is the student id.
const TypeArchive = "photo.archive"

// PublishTimeout bounds how long StorePhoto waits on a full queue.
const PublishTimeout = 250 * time.Millisecond

// Publisher saves enrollment photos and schedules their archival.
type Publisher struct {
	store   *Store
	queue   queue.Queue
	log     *zap.Logger
	timeout time.Duration
}

// NewPublisher returns a Publisher. A nil queue only saves to disk.
func NewPublisher(store *Store, q queue.Queue, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{store: store, queue: q, log: log, timeout: PublishTimeout}
}

// StorePhoto writes the photo and enqueues an archive job. A job that cannot
// be queued within the publish timeout is dropped and logged; the photo stays
// on disk.
func (p *Publisher) StorePhoto(ctx context.Context, studentID string, image []byte) error {
	if err := p.store.Save(studentID, image); err != nil {
		return err
	}
	if p.queue == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.queue.Publish(pctx, queue.Message{Type: TypeArchive, Body: []byte(studentID)}); err != nil {
		metrics.PhotoArchives.WithLabelValues("dropped").Inc()
		p.log.Warn("archive job dropped", zap.String("student_id", studentID), zap.Error(err))
	}
	return nil
}

// Uploader sends a photo to off-site storage.
type Uploader interface {
	Upload(ctx context.Context, data []byte, publicID string) (*cloudinary.UploadResult, error)
}

// URLRecorder remembers where a student's photo was archived.
type URLRecorder interface {
	SetPhotoURL(ctx context.Context, studentID, url string) error
}

// Archiver uploads stored photos and records their URLs.
type Archiver struct {
	store    *Store
	uploader Uploader
	urls     URLRecorder
	log      *zap.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(store *Store, uploader Uploader, urls URLRecorder, log *zap.Logger) *Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archiver{store: store, uploader: uploader, urls: urls, log: log}
}

// Run handles archive jobs until the queue's channel closes.
func (a *Archiver) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	a.log.Info("photo archiver started")
	for msg := range messages {
		if msg.Type != TypeArchive {
			a.log.Debug("skipping message", zap.String("type", msg.Type))
			continue
		}
		if err := a.Handle(ctx, string(msg.Body)); err != nil {
			a.log.Warn("archive photo failed", zap.String("student_id", string(msg.Body)), zap.Error(err))
		}
	}
	a.log.Info("photo archiver stopped")
	return nil
}

// Handle archives the photo of one student.
func (a *Archiver) Handle(ctx context.Context, studentID string) error {
	data, err := a.store.Load(studentID)
	if err != nil {
		metrics.PhotoArchives.WithLabelValues("missing").Inc()
		return err
	}
	if a.uploader == nil {
		metrics.PhotoArchives.WithLabelValues("skipped").Inc()
		return errors.New("no uploader configured")
	}
	res, err := a.uploader.Upload(ctx, data, studentID)
	if err != nil {
		metrics.PhotoArchives.WithLabelValues("failed").Inc()
		return err
	}
	if err := a.urls.SetPhotoURL(ctx, studentID, res.SecureURL); err != nil {
		metrics.PhotoArchives.WithLabelValues("failed").Inc()
		return fmt.Errorf("record photo url: %w", err)
	}
	metrics.PhotoArchives.WithLabelValues("archived").Inc()
	a.log.Info("photo archived", zap.String("student_id", studentID), zap.String("url", res.SecureURL))
	return nil
}
