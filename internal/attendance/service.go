// Package attendance enrolls students, marks attendance from face matches and
// summarises the resulting records.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"faceattend/internal/face"
	"faceattend/internal/metrics"
)

var (
	studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
	unsafeNameChars  = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Options tunes the service. Zero values select defaults.
type Options struct {
	// DedupWindow suppresses a repeat match for the same student. Zero allows every match.
	DedupWindow time.Duration
	// WorkingDaysPerMonth is the denominator of the monthly percentage.
	WorkingDaysPerMonth int
	// Now returns the wall clock used to stamp records.
	Now func() time.Time
	// Photos receives enrollment images.
	Photos PhotoSink
}

// Service coordinates enrollment, recognition and reporting.
type Service struct {
	repo        Repository
	matcher     *face.Matcher
	log         *zap.Logger
	dedupWindow time.Duration
	workingDays int
	now         func() time.Time
	photos      PhotoSink
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, matcher *face.Matcher, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DedupWindow < 0 {
		opts.DedupWindow = 0
	}
	if opts.WorkingDaysPerMonth <= 0 {
		opts.WorkingDaysPerMonth = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:        repo,
		matcher:     matcher,
		log:         log,
		dedupWindow: opts.DedupWindow,
		workingDays: opts.WorkingDaysPerMonth,
		now:         opts.Now,
		photos:      opts.Photos,
	}
}

// Enrollment is the input to Enroll.
type Enrollment struct {
	StudentID  string
	Name       string
	Department string
	Semester   string
	EnrolledBy string
	Image      []byte
}

// Enroll extracts the face template from e.Image and stores the student.
func (s *Service) Enroll(ctx context.Context, e Enrollment) (Student, error) {
	e.StudentID = strings.TrimSpace(e.StudentID)
	e.Name = strings.TrimSpace(e.Name)
	if !studentIDPattern.MatchString(e.StudentID) {
		metrics.Enrollments.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return Student{}, fmt.Errorf("%w: id must be 1-64 letters, digits, '.', '_' or '-'", ErrInvalidStudent)
	}
	if e.Name == "" {
		metrics.Enrollments.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return Student{}, fmt.Errorf("%w: name required", ErrInvalidStudent)
	}
	if _, err := s.repo.GetStudent(ctx, e.StudentID); err == nil {
		metrics.Enrollments.WithLabelValues(metrics.OutcomeExists).Inc()
		return Student{}, ErrStudentExists
	} else if !errors.Is(err, ErrStudentNotFound) {
		metrics.Enrollments.WithLabelValues(metrics.OutcomeError).Inc()
		return Student{}, err
	}

	vec, err := s.matcher.ExtractBytes(ctx, e.Image)
	if err != nil {
		metrics.Enrollments.WithLabelValues(outcomeFor(err)).Inc()
		return Student{}, err
	}

	now := s.now()
	if e.EnrolledBy == "" {
		e.EnrolledBy = "admin"
	}
	st := Student{
		ID:           e.StudentID,
		Name:         e.Name,
		Department:   strings.TrimSpace(e.Department),
		Semester:     strings.TrimSpace(e.Semester),
		EnrolledDate: now.Format(DateLayout),
		EnrolledBy:   e.EnrolledBy,
		CreatedAt:    now,
	}
	if err := s.repo.CreateStudent(ctx, st, face.Template{StudentID: st.ID, Vector: vec}); err != nil {
		if errors.Is(err, ErrStudentExists) {
			metrics.Enrollments.WithLabelValues(metrics.OutcomeExists).Inc()
		} else {
			metrics.Enrollments.WithLabelValues(metrics.OutcomeError).Inc()
		}
		return Student{}, err
	}
	metrics.Enrollments.WithLabelValues(metrics.OutcomeEnrolled).Inc()
	s.log.Info("student enrolled", zap.String("student_id", st.ID), zap.String("department", st.Department), zap.String("semester", st.Semester))

	if s.photos != nil {
		if err := s.photos.StorePhoto(ctx, st.ID, e.Image); err != nil {
			s.log.Warn("store enrollment photo failed", zap.String("student_id", st.ID), zap.Error(err))
		}
	}
	return st, nil
}

// Identify extracts the face in image and returns the closest enrolled student.
func (s *Service) Identify(ctx context.Context, image []byte) (face.Match, error) {
	start := time.Now()
	defer func() { metrics.IdentifyDuration.Observe(time.Since(start).Seconds()) }()

	vec, err := s.matcher.ExtractBytes(ctx, image)
	if err != nil {
		return face.Match{}, err
	}
	templates, err := s.repo.Templates(ctx)
	if err != nil {
		return face.Match{}, fmt.Errorf("load templates: %w", err)
	}
	metrics.EnrolledTemplates.Set(float64(len(templates)))
	return s.matcher.Identify(vec, templates)
}

// MarkResult is the outcome of a successful MarkAttendance.
type MarkResult struct {
	Student   Student `json:"student"`
	Record    Record  `json:"record"`
	Score     float64 `json:"score"`
	Duplicate bool    `json:"duplicate"`
}

// MarkAttendance identifies the face in image and appends a record for the
// matched student. Blocked students are refused without a record.
func (s *Service) MarkAttendance(ctx context.Context, image []byte) (MarkResult, error) {
	match, err := s.Identify(ctx, image)
	if err != nil {
		outcome := outcomeFor(err)
		metrics.Recognitions.WithLabelValues(outcome).Inc()
		s.log.Info("attendance rejected", zap.String("outcome", outcome), zap.Error(err))
		return MarkResult{}, err
	}

	st, err := s.repo.GetStudent(ctx, match.StudentID)
	if err != nil {
		metrics.Recognitions.WithLabelValues(metrics.OutcomeError).Inc()
		return MarkResult{}, fmt.Errorf("load matched student %s: %w", match.StudentID, err)
	}
	if st.Blocked {
		metrics.Recognitions.WithLabelValues(metrics.OutcomeBlocked).Inc()
		s.log.Info("attendance rejected", zap.String("outcome", metrics.OutcomeBlocked), zap.String("student_id", st.ID), zap.Float64("score", match.Score))
		return MarkResult{}, ErrStudentBlocked
	}

	now := s.now()
	var since time.Time
	if s.dedupWindow > 0 {
		since = now.Add(-s.dedupWindow)
	}
	rec, dup, err := s.repo.AppendRecord(ctx, Record{
		StudentID: st.ID,
		Date:      now.Format(DateLayout),
		Time:      now.Format(TimeLayout),
		Method:    MethodFaceRecognition,
		CreatedAt: now,
	}, since)
	if err != nil {
		metrics.Recognitions.WithLabelValues(metrics.OutcomeError).Inc()
		return MarkResult{}, fmt.Errorf("append record: %w", err)
	}

	outcome := metrics.OutcomeMatched
	if dup {
		outcome = metrics.OutcomeDuplicate
	}
	metrics.Recognitions.WithLabelValues(outcome).Inc()
	s.log.Info("attendance marked", zap.String("outcome", outcome), zap.String("student_id", st.ID), zap.Float64("score", match.Score))
	return MarkResult{Student: st, Record: rec, Score: match.Score, Duplicate: dup}, nil
}

// Login returns the student for a student-session login.
func (s *Service) Login(ctx context.Context, id string) (Student, error) {
	st, err := s.repo.GetStudent(ctx, strings.TrimSpace(id))
	if err != nil {
		return Student{}, err
	}
	if st.Blocked {
		return Student{}, ErrStudentBlocked
	}
	return st, nil
}

// Student returns one student.
func (s *Service) Student(ctx context.Context, id string) (Student, error) {
	return s.repo.GetStudent(ctx, id)
}

// Students returns every student ordered by id.
func (s *Service) Students(ctx context.Context) ([]Student, error) {
	return s.repo.ListStudents(ctx)
}

// ToggleBlock flips the blocked flag.
func (s *Service) ToggleBlock(ctx context.Context, id string) (Student, error) {
	st, err := s.repo.UpdateStudent(ctx, id, func(st *Student) error {
		st.Blocked = !st.Blocked
		now := s.now()
		st.LastModified = &now
		return nil
	})
	if err != nil {
		return Student{}, err
	}
	s.log.Info("student block toggled", zap.String("student_id", st.ID), zap.Bool("blocked", st.Blocked))
	return st, nil
}

// MigrateSemester moves the student to semester.
func (s *Service) MigrateSemester(ctx context.Context, id, semester string) (Student, error) {
	semester = strings.TrimSpace(semester)
	if semester == "" {
		return Student{}, fmt.Errorf("%w: semester required", ErrInvalidStudent)
	}
	st, err := s.repo.UpdateStudent(ctx, id, func(st *Student) error {
		st.Semester = semester
		now := s.now()
		st.LastModified = &now
		return nil
	})
	if err != nil {
		return Student{}, err
	}
	s.log.Info("student semester migrated", zap.String("student_id", st.ID), zap.String("semester", semester))
	return st, nil
}

// SetPhotoURL records where the archived enrollment photo lives.
func (s *Service) SetPhotoURL(ctx context.Context, id, url string) error {
	_, err := s.repo.UpdateStudent(ctx, id, func(st *Student) error {
		st.PhotoURL = url
		return nil
	})
	return err
}

// Records lists records matching f.
func (s *Service) Records(ctx context.Context, f RecordFilter) ([]Record, error) {
	return s.repo.ListRecords(ctx, f)
}

// Dashboard is the administrator overview.
type Dashboard struct {
	Date           string `json:"date"`
	TotalStudents  int    `json:"total_students"`
	ActiveStudents int    `json:"active_students"`
	PresentToday   int    `json:"present_today"`
}

// Dashboard counts students and today's distinct attendees.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	today := s.now().Format(DateLayout)
	records, err := s.repo.ListRecords(ctx, RecordFilter{Date: today})
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{Date: today, TotalStudents: len(students)}
	for _, st := range students {
		if !st.Blocked {
			d.ActiveStudents++
		}
	}
	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[r.StudentID] = struct{}{}
	}
	d.PresentToday = len(present)
	return d, nil
}

// Summary is a student's own attendance overview.
type Summary struct {
	Student         Student  `json:"student"`
	TodayPresent    bool     `json:"today_present"`
	MonthCount      int      `json:"month_attendance"`
	TotalCount      int      `json:"total_attendance"`
	MonthPercentage float64  `json:"month_percentage"`
	Recent          []Record `json:"recent"`
}

const recentRecords = 10

// StudentSummary builds the dashboard of one student.
func (s *Service) StudentSummary(ctx context.Context, id string) (Summary, error) {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.repo.ListRecords(ctx, RecordFilter{StudentID: id})
	if err != nil {
		return Summary{}, err
	}

	now := s.now()
	today := now.Format(DateLayout)
	month := now.Format("2006-01")

	sum := Summary{Student: st, TotalCount: len(records)}
	for _, r := range records {
		if r.Date == today {
			sum.TodayPresent = true
		}
		if strings.HasPrefix(r.Date, month) {
			sum.MonthCount++
		}
	}
	if sum.MonthCount > 0 {
		pct := float64(sum.MonthCount) / float64(s.workingDays) * 100
		sum.MonthPercentage = math.Round(pct*10) / 10
	}
	tail := records
	if len(tail) > recentRecords {
		tail = tail[len(tail)-recentRecords:]
	}
	sum.Recent = append([]Record(nil), tail...)
	return sum, nil
}

// Report kinds.
const (
	ReportDaily    = "daily"
	ReportSemester = "semester"
)

// ReportQuery selects the records of an export.
type ReportQuery struct {
	Kind       string
	Date       string
	Semester   string
	Department string
}

// Report is a filtered set of records plus the students they reference.
type Report struct {
	Name     string
	Records  []Record
	Students map[string]Student
}

// Report collects the records for an export. Daily reports default to today.
// Semester reports match on the student's current semester and department.
func (s *Service) Report(ctx context.Context, q ReportQuery) (Report, error) {
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return Report{}, err
	}
	byID := make(map[string]Student, len(students))
	for _, st := range students {
		byID[st.ID] = st
	}

	var (
		rep     = Report{Students: byID}
		records []Record
	)
	switch q.Kind {
	case "", ReportDaily:
		date := q.Date
		if date == "" {
			date = s.now().Format(DateLayout)
		}
		if _, err := time.Parse(DateLayout, date); err != nil {
			return Report{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidReport)
		}
		records, err = s.repo.ListRecords(ctx, RecordFilter{Date: date})
		if err != nil {
			return Report{}, err
		}
		rep.Name = "attendance_" + date
	case ReportSemester:
		all, err := s.repo.ListRecords(ctx, RecordFilter{})
		if err != nil {
			return Report{}, err
		}
		for _, r := range all {
			st, ok := byID[r.StudentID]
			if ok && st.Semester == q.Semester && st.Department == q.Department {
				records = append(records, r)
			}
		}
		rep.Name = "attendance_" + safeName(q.Semester) + "_" + safeName(q.Department)
	default:
		return Report{}, fmt.Errorf("%w: unknown report type %q", ErrInvalidReport, q.Kind)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].Time < records[j].Time
	})
	rep.Records = records
	return rep, nil
}

// ErrInvalidReport reports a malformed export query.
var ErrInvalidReport = errors.New("invalid report query")

// safeName keeps report names usable as file names.
func safeName(s string) string {
	return unsafeNameChars.ReplaceAllString(s, "-")
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, face.ErrNoFace):
		return metrics.OutcomeNoFace
	case errors.Is(err, face.ErrMultipleFaces):
		return metrics.OutcomeMultipleFaces
	case errors.Is(err, face.ErrNoMatch):
		return metrics.OutcomeNotRecognized
	case errors.Is(err, face.ErrDecode):
		return metrics.OutcomeInvalidImage
	default:
		return metrics.OutcomeError
	}
}
