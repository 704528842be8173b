// Package sqlite is a single-file attendance.Repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"faceattend/internal/attendance"
	"faceattend/internal/face"
)

//go:embed schema.sql
var schema string

// Store persists attendance data in one SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and applies the schema.
// Write transactions start IMMEDIATE so concurrent appends serialise.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Healthy pings the database.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

const studentColumns = `student_id, name, department, semester, enrolled_date, enrolled_by, blocked, photo_url, last_modified, created_at`

const recordColumns = `id, student_id, day, clock, method, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (attendance.Student, error) {
	var (
		st       attendance.Student
		modified sql.NullInt64
		created  int64
	)
	if err := row.Scan(&st.ID, &st.Name, &st.Department, &st.Semester, &st.EnrolledDate,
		&st.EnrolledBy, &st.Blocked, &st.PhotoURL, &modified, &created); err != nil {
		return attendance.Student{}, err
	}
	st.CreatedAt = time.Unix(0, created)
	if modified.Valid {
		t := time.Unix(0, modified.Int64)
		st.LastModified = &t
	}
	return st, nil
}

func scanRecord(row rowScanner) (attendance.Record, error) {
	var (
		rec     attendance.Record
		created int64
	)
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.Time, &rec.Method, &created); err != nil {
		return attendance.Record{}, err
	}
	rec.CreatedAt = time.Unix(0, created)
	return rec, nil
}

// -------- Students --------

func (s *Store) CreateStudent(ctx context.Context, st attendance.Student, tpl face.Template) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO students (student_id, name, department, semester, enrolled_date, enrolled_by, blocked, photo_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO NOTHING`,
		st.ID, st.Name, st.Department, st.Semester, st.EnrolledDate, st.EnrolledBy, st.Blocked, st.PhotoURL, st.CreatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return attendance.ErrStudentExists
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO face_templates (student_id, vector) VALUES (?, ?)`,
		st.ID, []byte(tpl.Vector)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetStudent(ctx context.Context, id string) (attendance.Student, error) {
	st, err := scanStudent(s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE student_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Student{}, attendance.ErrStudentNotFound
	}
	return st, err
}

func (s *Store) ListStudents(ctx context.Context) ([]attendance.Student, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY student_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []attendance.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *Store) UpdateStudent(ctx context.Context, id string, fn func(*attendance.Student) error) (attendance.Student, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Student{}, err
	}
	defer tx.Rollback()

	st, err := scanStudent(tx.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE student_id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Student{}, attendance.ErrStudentNotFound
		}
		return attendance.Student{}, err
	}
	if err := fn(&st); err != nil {
		return attendance.Student{}, err
	}
	st.ID = id

	var modified any
	if st.LastModified != nil {
		modified = st.LastModified.UnixNano()
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE students
		SET name = ?, department = ?, semester = ?, blocked = ?, photo_url = ?, last_modified = ?
		WHERE student_id = ?`,
		st.Name, st.Department, st.Semester, st.Blocked, st.PhotoURL, modified, st.ID); err != nil {
		return attendance.Student{}, err
	}
	return st, tx.Commit()
}

// -------- Templates --------

func (s *Store) Templates(ctx context.Context) ([]face.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT student_id, vector FROM face_templates ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []face.Template
	for rows.Next() {
		var (
			tpl face.Template
			vec []byte
		)
		if err := rows.Scan(&tpl.StudentID, &vec); err != nil {
			return nil, err
		}
		tpl.Vector = face.Vector(vec)
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// -------- Attendance --------

func (s *Store) AppendRecord(ctx context.Context, rec attendance.Record, since time.Time) (attendance.Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, false, err
	}
	defer tx.Rollback()

	if !since.IsZero() {
		existing, err := scanRecord(tx.QueryRowContext(ctx, `
			SELECT `+recordColumns+` FROM attendance
			WHERE student_id = ? AND created_at >= ?
			ORDER BY created_at DESC, seq DESC
			LIMIT 1`, rec.StudentID, since.UnixNano()))
		if err == nil {
			return existing, true, tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return attendance.Record{}, false, err
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Method == "" {
		rec.Method = attendance.MethodFaceRecognition
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (id, student_id, day, clock, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StudentID, rec.Date, rec.Time, rec.Method, rec.CreatedAt.UnixNano()); err != nil {
		return attendance.Record{}, false, err
	}
	return rec, false, tx.Commit()
}

func (s *Store) ListRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	var (
		clauses []string
		args    []any
	)
	if f.StudentID != "" {
		clauses = append(clauses, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.Date != "" {
		clauses = append(clauses, "day = ?")
		args = append(args, f.Date)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "day >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "day <= ?")
		args = append(args, f.DateTo)
	}

	query := `SELECT ` + recordColumns + ` FROM attendance`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.Newest {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq"
	}
	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(f.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
