// Package filestore keeps students, face templates and attendance records in
// JSON snapshot files under one directory.
//
// Every operation re-reads the snapshots it needs, so several processes can
// share a directory. Writers hold a process mutex plus an exclusive file lock
// and replace snapshots atomically.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/face"
)

const (
	studentsFile   = "students.json"
	facesFile      = "faces.json"
	attendanceFile = "attendance.json"
	lockFile       = ".lock"

	lockRetry = 25 * time.Millisecond
)

// Store is a file-backed attendance.Repository.
type Store struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
	log  *zap.Logger

	persist func(name string, v any) error
}

// Open prepares dir for use.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
		log:  log,
	}
	s.persist = s.save
	return s, nil
}

// Close releases the file lock handle.
func (s *Store) Close() error {
	return s.lock.Close()
}

func (s *Store) write(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return errors.New("acquire store lock: not acquired")
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("release store lock failed", zap.Error(err))
		}
	}()
	return fn()
}

// read takes a shared file lock. The process mutex is still exclusive because
// a flock.Flock tracks one lock state per handle.
func (s *Store) read(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.lock.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return errors.New("acquire store lock: not acquired")
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("release store lock failed", zap.Error(err))
		}
	}()
	return fn()
}

// CreateStudent stores a new student with its template. When the template
// cannot be written the previous students snapshot is put back.
func (s *Store) CreateStudent(ctx context.Context, st attendance.Student, tpl face.Template) error {
	return s.write(ctx, func() error {
		students, err := s.loadStudents()
		if err != nil {
			return err
		}
		for _, existing := range students {
			if existing.ID == st.ID {
				return attendance.ErrStudentExists
			}
		}
		templates, err := s.loadTemplates()
		if err != nil {
			return err
		}
		next := append(slices.Clone(students), st)
		sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
		if err := s.persist(studentsFile, next); err != nil {
			return err
		}
		tpl.StudentID = st.ID
		if err := s.persist(facesFile, append(templates, tpl)); err != nil {
			if rerr := s.persist(studentsFile, students); rerr != nil {
				s.log.Error("restore students snapshot failed", zap.String("student_id", st.ID), zap.Error(rerr))
				return errors.Join(err, rerr)
			}
			return err
		}
		return nil
	})
}

// GetStudent returns the student with id.
func (s *Store) GetStudent(ctx context.Context, id string) (attendance.Student, error) {
	var out attendance.Student
	err := s.read(ctx, func() error {
		students, err := s.loadStudents()
		if err != nil {
			return err
		}
		for _, st := range students {
			if st.ID == id {
				out = st
				return nil
			}
		}
		return attendance.ErrStudentNotFound
	})
	return out, err
}

// ListStudents returns all students ordered by id.
func (s *Store) ListStudents(ctx context.Context) ([]attendance.Student, error) {
	var out []attendance.Student
	err := s.read(ctx, func() error {
		var err error
		out, err = s.loadStudents()
		return err
	})
	return out, err
}

// UpdateStudent applies fn to the stored student and persists the result.
func (s *Store) UpdateStudent(ctx context.Context, id string, fn func(*attendance.Student) error) (attendance.Student, error) {
	var out attendance.Student
	err := s.write(ctx, func() error {
		students, err := s.loadStudents()
		if err != nil {
			return err
		}
		for i := range students {
			if students[i].ID != id {
				continue
			}
			if err := fn(&students[i]); err != nil {
				return err
			}
			students[i].ID = id
			out = students[i]
			return s.persist(studentsFile, students)
		}
		return attendance.ErrStudentNotFound
	})
	return out, err
}

// Templates returns templates in enrollment order.
func (s *Store) Templates(ctx context.Context) ([]face.Template, error) {
	var out []face.Template
	err := s.read(ctx, func() error {
		var err error
		out, err = s.loadTemplates()
		return err
	})
	return out, err
}

// AppendRecord appends rec unless the student has a record created at or after since.
func (s *Store) AppendRecord(ctx context.Context, rec attendance.Record, since time.Time) (attendance.Record, bool, error) {
	var (
		out attendance.Record
		dup bool
	)
	err := s.write(ctx, func() error {
		records, err := s.loadRecords()
		if err != nil {
			return err
		}
		if !since.IsZero() {
			for i := len(records) - 1; i >= 0; i-- {
				r := records[i]
				if r.StudentID == rec.StudentID && !r.CreatedAt.Before(since) {
					out, dup = r, true
					return nil
				}
			}
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		if err := s.persist(attendanceFile, append(records, rec)); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, dup, err
}

// ListRecords returns records matching f in append order, or newest first when f.Newest is set.
func (s *Store) ListRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	var out []attendance.Record
	err := s.read(ctx, func() error {
		records, err := s.loadRecords()
		if err != nil {
			return err
		}
		for _, r := range records {
			if f.Matches(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if f.Newest {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return page(out, f.Limit, f.Offset), nil
}

func page(records []attendance.Record, limit, offset int) []attendance.Record {
	if offset > 0 {
		if offset >= len(records) {
			return nil
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func (s *Store) loadStudents() ([]attendance.Student, error) {
	var out []attendance.Student
	if err := s.load(studentsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadTemplates() ([]face.Template, error) {
	var out []face.Template
	if err := s.load(facesFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadRecords() ([]attendance.Record, error) {
	var out []attendance.Record
	if err := s.load(attendanceFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// save replaces name atomically via a synced temp file.
func (s *Store) save(name string, v any) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
