package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"faceattend/internal/attendance"
	"faceattend/internal/face"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentColumns = `student_id, name, department, semester, to_char(enrolled_date, 'YYYY-MM-DD'),
	enrolled_by, blocked, photo_url, last_modified, created_at`

const recordColumns = `id, student_id, to_char(day, 'YYYY-MM-DD'), to_char(clock, 'HH24:MI:SS'), method, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (attendance.Student, error) {
	var (
		st       attendance.Student
		modified sql.NullTime
	)
	if err := row.Scan(&st.ID, &st.Name, &st.Department, &st.Semester, &st.EnrolledDate,
		&st.EnrolledBy, &st.Blocked, &st.PhotoURL, &modified, &st.CreatedAt); err != nil {
		return attendance.Student{}, err
	}
	if modified.Valid {
		t := modified.Time
		st.LastModified = &t
	}
	return st, nil
}

func scanRecord(row rowScanner) (attendance.Record, error) {
	var rec attendance.Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.Time, &rec.Method, &rec.CreatedAt)
	return rec, err
}

// CreateStudent inserts the student and its template in one transaction.
func (r *Repository) CreateStudent(ctx context.Context, st attendance.Student, tpl face.Template) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO students (student_id, name, department, semester, enrolled_date, enrolled_by, blocked, photo_url, created_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9)
		ON CONFLICT (student_id) DO NOTHING
	`, st.ID, st.Name, st.Department, st.Semester, st.EnrolledDate, st.EnrolledBy, st.Blocked, st.PhotoURL, st.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return attendance.ErrStudentExists
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO face_templates (student_id, embedding, created_at) VALUES ($1, $2, $3)
	`, st.ID, pgvector.NewVector(toFloats(tpl.Vector)), st.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// GetStudent returns a single student by id.
func (r *Repository) GetStudent(ctx context.Context, id string) (attendance.Student, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE student_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Student{}, attendance.ErrStudentNotFound
	}
	return st, err
}

// ListStudents returns all students.
func (r *Repository) ListStudents(ctx context.Context) ([]attendance.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY student_id`)
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

// UpdateStudent locks the row, applies fn and writes the mutable fields back.
func (r *Repository) UpdateStudent(ctx context.Context, id string, fn func(*attendance.Student) error) (attendance.Student, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Student{}, err
	}
	defer tx.Rollback()

	st, err := scanStudent(tx.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE student_id = $1 FOR UPDATE`, id))
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
		modified = *st.LastModified
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE students
		SET name = $2, department = $3, semester = $4, blocked = $5, photo_url = $6, last_modified = $7
		WHERE student_id = $1
	`, st.ID, st.Name, st.Department, st.Semester, st.Blocked, st.PhotoURL, modified); err != nil {
		return attendance.Student{}, err
	}
	return st, tx.Commit()
}

// Templates returns every template in enrollment order.
func (r *Repository) Templates(ctx context.Context) ([]face.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT student_id, embedding FROM face_templates ORDER BY created_at, student_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []face.Template
	for rows.Next() {
		var (
			tpl face.Template
			vec pgvector.Vector
		)
		if err := rows.Scan(&tpl.StudentID, &vec); err != nil {
			return nil, err
		}
		tpl.Vector = fromFloats(vec.Slice())
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// AppendRecord writes a new record unless the student already has one since the cut-off.
// Concurrent appends for one student are serialised with a transaction-scoped advisory lock.
func (r *Repository) AppendRecord(ctx context.Context, rec attendance.Record, since time.Time) (attendance.Record, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.StudentID); err != nil {
		return attendance.Record{}, false, err
	}

	if !since.IsZero() {
		existing, err := scanRecord(tx.QueryRowContext(ctx, `
			SELECT `+recordColumns+` FROM attendance_records
			WHERE student_id = $1 AND created_at >= $2
			ORDER BY created_at DESC
			LIMIT 1
		`, rec.StudentID, since))
		if err == nil {
			return existing, true, tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return attendance.Record{}, false, err
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Method == "" {
		rec.Method = attendance.MethodFaceRecognition
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, day, clock, method, created_at)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
	`, rec.ID, rec.StudentID, rec.Date, rec.Time, rec.Method, rec.CreatedAt); err != nil {
		return attendance.Record{}, false, err
	}
	return rec, false, tx.Commit()
}

// ListRecords returns records with basic filters.
func (r *Repository) ListRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, f.StudentID)
	}
	if f.Date != "" {
		clauses = append(clauses, "day = $"+itoa(len(args)+1)+"::date")
		args = append(args, f.Date)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "day >= $"+itoa(len(args)+1)+"::date")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "day <= $"+itoa(len(args)+1)+"::date")
		args = append(args, f.DateTo)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	if f.Newest {
		query += " ORDER BY created_at DESC, id"
	} else {
		query += " ORDER BY created_at, id"
	}
	if f.Limit > 0 {
		query += " LIMIT $" + itoa(len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET $" + itoa(len(args)+1)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}

func toFloats(v face.Vector) []float32 {
	out := make([]float32, len(v))
	for i, b := range v {
		out[i] = float32(b)
	}
	return out
}

func fromFloats(f []float32) face.Vector {
	out := make(face.Vector, len(f))
	for i, x := range f {
		out[i] = uint8(math.Max(0, math.Min(255, math.Round(float64(x)))))
	}
	return out
}
