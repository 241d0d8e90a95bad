package classroom

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/trezcool/darasa/core"
)

const (
	MinMarks = 0
	MaxMarks = 100
)

var (
	errInvalidMarks    = errors.New("invalid marks input")
	errMarksOutOfRange = errors.New("marks must be between 0 and 100")
)

type Class struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	OwnerName   string    `json:"owner_name"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (c Class) IsOwnedBy(userID string) bool {
	return userID != "" && c.OwnerID == userID
}

// Enrollment links a student to a class. There is at most one per (student, class) pair.
type Enrollment struct {
	StudentID string    `json:"student_id"`
	ClassID   string    `json:"class_id"`
	JoinedAt  time.Time `json:"joined_at"` // UTC
}

type Assignment struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"class_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     string    `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"` // UTC
}

// Submission is one uploaded file. A student may upload several files for the same assignment;
// marks are graded per (student, assignment) pair and written to all of them.
type Submission struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	StudentID    string    `json:"student_id"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"-"`
	Marks        *int      `json:"marks"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

// MarksOrZero returns the submission's marks, or 0 when it has not been graded.
func (s Submission) MarksOrZero() int {
	if s.Marks == nil {
		return 0
	}
	return *s.Marks
}

// Cascade lists the child records removed together with a class or an assignment.
type Cascade struct {
	Assignments int          `json:"assignments"`
	Enrollments int          `json:"enrollments"`
	Submissions []Submission `json:"-"`
}

type NewClass struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

type UpdateClass NewClass

func (uc *UpdateClass) Validate(validate *validator.Validate) error {
	return (*NewClass)(uc).Validate(validate)
}

type JoinClass struct {
	ClassCode string `json:"class_code" validate:"required"`
}

func (jc *JoinClass) Validate(validate *validator.Validate) error {
	jc.ClassCode = core.CleanString(jc.ClassCode)
	return validate.Struct(jc)
}

type NewAssignment struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	DueDate     string `json:"due_date" validate:"max=50"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.DueDate = core.CleanString(na.DueDate)
	return validate.Struct(na)
}

type UpdateAssignment NewAssignment

func (ua *UpdateAssignment) Validate(validate *validator.Validate) error {
	return (*NewAssignment)(ua).Validate(validate)
}

// Upload is a file received for an assignment.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// MarksUpdate carries the marks given to a student for an assignment.
// Marks may be sent as a number or as a numeric string.
type MarksUpdate struct {
	Marks interface{} `json:"marks"`
}

// Value validates and returns the marks.
func (mu MarksUpdate) Value() (int, error) {
	if mu.Marks == nil {
		return 0, core.NewValidationError(errInvalidMarks, core.FieldError{Field: "marks", Error: "this field is required"})
	}
	raw := mu.Marks
	if s, ok := raw.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return 0, core.NewValidationError(errInvalidMarks, core.FieldError{Field: "marks", Error: "this field is required"})
		}
		// base 10 only: "010" is 10, "0x10" is rejected
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, core.NewValidationError(errInvalidMarks, core.FieldError{Field: "marks", Error: errInvalidMarks.Error()})
		}
		raw = n
	}
	if _, ok := raw.(bool); ok {
		return 0, core.NewValidationError(errInvalidMarks, core.FieldError{Field: "marks", Error: errInvalidMarks.Error()})
	}
	if f, ok := raw.(float64); ok && f != float64(int(f)) {
		return 0, core.NewValidationError(errInvalidMarks, core.FieldError{Field: "marks", Error: errInvalidMarks.Error()})
	}
	marks, err := cast.ToIntE(raw)
	if err != nil {
		return 0, core.NewValidationError(errInvalidMarks, core.FieldError{Field: "marks", Error: errInvalidMarks.Error()})
	}
	if marks < MinMarks || marks > MaxMarks {
		return 0, core.NewValidationError(errMarksOutOfRange, core.FieldError{Field: "marks", Error: errMarksOutOfRange.Error()})
	}
	return marks, nil
}

type ClassFilter struct {
	IDs     []string
	OwnerID string
}

type EnrollmentFilter struct {
	ClassID   string
	StudentID string
}

// SubmissionFilter matches submissions by any of the given IDs; empty fields match everything.
type SubmissionFilter struct {
	AssignmentIDs []string
	StudentIDs    []string
}

// StudentSubmissions groups the files a student uploaded for one assignment.
type StudentSubmissions struct {
	StudentID   string   `json:"student_id"`
	StudentName string   `json:"student_name"`
	Files       []string `json:"files"`
	Marks       *int     `json:"marks"`
}
