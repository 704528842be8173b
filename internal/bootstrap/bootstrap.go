// Package bootstrap assembles the storage, queue and face-matching stack
// shared by the API, the worker and the admin CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/face"
	"faceattend/internal/face/haar"
	"faceattend/internal/faceclient"
	"faceattend/internal/handler"
	"faceattend/internal/photos"
	"faceattend/internal/queue"
	"faceattend/internal/store"
	"faceattend/internal/store/filestore"
	"faceattend/internal/store/sqlite"
)

const memoryQueueSize = 64

// ErrDetectionDisabled is returned by processes opened without a detector.
var ErrDetectionDisabled = errors.New("face detection is not enabled in this process")

// Options selects optional parts of the stack.
type Options struct {
	// Detector loads the configured face detector.
	Detector bool
}

// Stack is the wired application core.
type Stack struct {
	Config  config.App
	Log     *zap.Logger
	Repo    attendance.Repository
	Service *attendance.Service
	Matcher *face.Matcher
	Photos  *photos.Store
	Queue   queue.Queue
	Checks  []handler.Check

	closers []func() error
}

// Open builds the stack described by cfg.
func Open(ctx context.Context, cfg config.App, log *zap.Logger, opts Options) (*Stack, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stack{Config: cfg, Log: log}
	if err := s.open(ctx, opts); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) open(ctx context.Context, opts Options) error {
	cfg := s.Config
	if err := s.openRepository(ctx); err != nil {
		return err
	}
	s.openQueue()

	ps, err := photos.NewStore(cfg.PhotoDir)
	if err != nil {
		return fmt.Errorf("photo store: %w", err)
	}
	s.Photos = ps.WithMaxPixels(cfg.MaxImagePixels)

	var det face.Detector = disabledDetector{}
	if opts.Detector {
		det, err = s.openDetector()
		if err != nil {
			return err
		}
	}
	s.Matcher = face.NewMatcher(det, cfg.MatchThreshold).WithMaxPixels(cfg.MaxImagePixels)

	// Without a consumer there is nobody to archive photos, so only keep them on disk.
	archiveQueue := s.Queue
	if cfg.QueueBackend == "memory" && !cfg.CloudinaryEnabled() {
		archiveQueue = nil
	}
	s.Service = attendance.NewService(s.Repo, s.Matcher, s.Log, attendance.Options{
		DedupWindow:         cfg.DedupWindow,
		WorkingDaysPerMonth: cfg.WorkingDaysPerMonth,
		Photos:              photos.NewPublisher(ps, archiveQueue, s.Log),
	})
	return nil
}

func (s *Stack) openRepository(ctx context.Context) error {
	cfg := s.Config
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if cfg.AutoMigrate {
			if err := store.RunMigrations(db.Client, s.Log); err != nil {
				return err
			}
		}
		s.Repo = store.NewRepository(db.Client)
		s.Checks = append(s.Checks, handler.Check{Name: "db", Healthy: db.Healthy})
		s.Log.Info("using postgres repository")
	case "sqlite":
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, db.Close)
		s.Repo = db
		s.Checks = append(s.Checks, handler.Check{Name: "db", Healthy: db.Healthy})
		s.Log.Info("using sqlite repository", zap.String("path", cfg.SQLitePath))
	default:
		fs, err := filestore.Open(cfg.DataDir, s.Log)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, fs.Close)
		s.Repo = fs
		s.Log.Info("using file repository", zap.String("dir", cfg.DataDir))
	}
	return nil
}

func (s *Stack) openQueue() {
	cfg := s.Config
	if cfg.QueueBackend != "redis" {
		s.Queue = queue.NewInMemory(memoryQueueSize)
		return
	}
	rdb := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	s.closers = append(s.closers, rdb.Close)
	s.Queue = queue.NewRedisQueue(rdb.Client, cfg.QueueKey, func(err error) {
		s.Log.Warn("redis queue error", zap.Error(err))
	})
	s.Checks = append(s.Checks, handler.Check{Name: "redis", Healthy: rdb.Healthy})
}

func (s *Stack) openDetector() (face.Detector, error) {
	cfg := s.Config
	switch cfg.FaceDetector {
	case "remote":
		client := faceclient.New(cfg.FaceServiceURL, false)
		s.Checks = append(s.Checks, handler.Check{Name: "face_service", Healthy: func(ctx context.Context) bool {
			return client.Health(ctx) == nil
		}})
		s.Log.Info("using remote face detector", zap.String("url", cfg.FaceServiceURL))
		return client, nil
	case "skip":
		s.Log.Warn("face detection skipped, every image is treated as one face")
		return faceclient.New("", true), nil
	default:
		det, err := haar.New(cfg.FaceCascadePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, det.Close)
		s.Log.Info("using haar cascade face detector")
		return det, nil
	}
}

// Archiver returns a photo archiver. Without Cloudinary credentials every
// job is counted as skipped.
func (s *Stack) Archiver() *photos.Archiver {
	var up photos.Uploader
	if cfg := s.Config; cfg.CloudinaryEnabled() {
		up = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}
	return photos.NewArchiver(s.Photos, up, s.Service, s.Log)
}

// Close releases everything Open acquired, newest first.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

type disabledDetector struct{}

func (disabledDetector) Detect(context.Context, *image.Gray) ([]image.Rectangle, error) {
	return nil, ErrDetectionDisabled
}
