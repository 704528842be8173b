package attendance

import (
	"context"
	"errors"
	"time"

	"faceattend/internal/face"
)

// MethodFaceRecognition tags records created by a face match.
const MethodFaceRecognition = "face_recognition"

// Date and time layouts used on records.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

var (
	ErrStudentExists   = errors.New("student id already exists")
	ErrStudentNotFound = errors.New("student not found")
	ErrStudentBlocked  = errors.New("student is blocked")
	ErrInvalidStudent  = errors.New("invalid student")
)

// Student is an enrolled student.
type Student struct {
	ID           string     `json:"student_id"`
	Name         string     `json:"name"`
	Department   string     `json:"department"`
	Semester     string     `json:"semester"`
	EnrolledDate string     `json:"enrolled_date"`
	EnrolledBy   string     `json:"enrolled_by"`
	Blocked      bool       `json:"blocked"`
	PhotoURL     string     `json:"photo_url,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Record is one attendance entry. Records are append-only.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordFilter narrows ListRecords. Empty fields match everything.
// DateFrom and DateTo are inclusive YYYY-MM-DD bounds.
type RecordFilter struct {
	StudentID string
	Date      string
	DateFrom  string
	DateTo    string
	Newest    bool
	Limit     int
	Offset    int
}

// Repository persists students, their face templates and attendance records.
//
// CreateStudent stores the student and template together or not at all.
// UpdateStudent applies fn to the current row under the repository's write
// lock. AppendRecord appends rec unless the student already has a record
// created at or after since; in that case it returns the existing record and
// true. A zero since disables that check.
type Repository interface {
	CreateStudent(ctx context.Context, st Student, tpl face.Template) error
	GetStudent(ctx context.Context, id string) (Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	UpdateStudent(ctx context.Context, id string, fn func(*Student) error) (Student, error)
	Templates(ctx context.Context) ([]face.Template, error)
	AppendRecord(ctx context.Context, rec Record, since time.Time) (Record, bool, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)
}

// PhotoSink receives the enrollment photo once the student is stored.
type PhotoSink interface {
	StorePhoto(ctx context.Context, studentID string, image []byte) error
}

// Matches reports whether rec passes f, ignoring paging and order.
func (f RecordFilter) Matches(rec Record) bool {
	if f.StudentID != "" && rec.StudentID != f.StudentID {
		return false
	}
	if f.Date != "" && rec.Date != f.Date {
		return false
	}
	if f.DateFrom != "" && rec.Date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && rec.Date > f.DateTo {
		return false
	}
	return true
}
