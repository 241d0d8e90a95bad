// Package progress computes completion and marks reports from a snapshot of
// assignments, submissions and class members. Its functions are pure: they never
// fail and never write.
package progress

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

// Statuses
const (
	StatusExcellent        = "Excellent"
	StatusGood             = "Good"
	StatusModerate         = "Moderate"
	StatusNeedsImprovement = "Needs Improvement"
)

// Colors
const (
	ColorSuccess = "success"
	ColorPrimary = "primary"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

var thresholds = []struct {
	min    float64
	status string
	color  string
}{
	{85, StatusExcellent, ColorSuccess},
	{70, StatusGood, ColorPrimary},
	{50, StatusModerate, ColorWarning},
}

type (
	Report struct {
		Total           int     `json:"total"`
		Completed       int     `json:"completed"`
		Incomplete      int     `json:"incomplete"`
		ProgressPercent float64 `json:"progress_percent"`
		AverageMarks    float64 `json:"average_marks"`
		Status          string  `json:"status"`
		Color           string  `json:"color"`
	}

	// Member is a student of a class.
	Member struct {
		ID       string    `json:"id"`
		Username string    `json:"username"`
		Avatar   string    `json:"avatar"`
		JoinedAt time.Time `json:"joined_at"` // zero for members without an enrollment record
	}

	// Row is the progress of one class member.
	Row struct {
		StudentID string `json:"student_id"`
		Name      string `json:"name"`
		Avatar    string `json:"avatar"`
		Report
	}

	ChartEntry struct {
		AssignmentID string `json:"assignment_id"`
		Title        string `json:"title"`
		Marks        int    `json:"marks"`
		Submitted    bool   `json:"submitted"`
	}
)

// Classify maps a completion percentage to a status and its display color.
// Every view uses it, so a fully completed workload is Excellent whatever the marks.
func Classify(progressPercent float64) (string, string) {
	for _, t := range thresholds {
		if progressPercent >= t.min {
			return t.status, t.color
		}
	}
	return StatusNeedsImprovement, ColorDanger
}

// ResolveMarks folds submissions in order and returns the marks of the last submission
// seen for each assignment. Ungraded submissions resolve to 0.
func ResolveMarks(subs []classroom.Submission) map[string]int {
	marks := make(map[string]int, len(subs))
	for _, sub := range subs {
		marks[sub.AssignmentID] = sub.MarksOrZero()
	}
	return marks
}

// ComputeStudentProgress reports a student's progress over assignments given the student's submissions.
// Submissions for assignments that are not listed are ignored.
func ComputeStudentProgress(assignments []classroom.Assignment, subs []classroom.Submission) Report {
	rep := Report{Total: len(assignments)}

	resolved := ResolveMarks(subs)
	var sum int
	for _, asgmt := range assignments {
		if m, ok := resolved[asgmt.ID]; ok {
			rep.Completed++
			sum += m
		}
	}
	rep.Incomplete = rep.Total - rep.Completed

	if rep.Total > 0 {
		rep.ProgressPercent = round(float64(rep.Completed)/float64(rep.Total)*100, 1)
	}
	if rep.Completed > 0 {
		rep.AverageMarks = round(float64(sum)/float64(rep.Completed), 2)
	}
	rep.Status, rep.Color = Classify(rep.ProgressPercent)
	return rep
}

// ComputeClassProgress reports the progress of every member of the roster, in roster order.
func ComputeClassProgress(assignments []classroom.Assignment, roster []Member, subs []classroom.Submission) []Row {
	byStudent := lo.GroupBy(subs, func(s classroom.Submission) string { return s.StudentID })

	rows := make([]Row, 0, len(roster))
	for _, m := range roster {
		rows = append(rows, Row{
			StudentID: m.ID,
			Name:      m.Username,
			Avatar:    m.Avatar,
			Report:    ComputeStudentProgress(assignments, byStudent[m.ID]),
		})
	}
	return rows
}

// BuildRoster returns the students of a class: those enrolled in it and those whose joined
// classes list it. Each student appears once. Members are ordered by join time, then username,
// then ID; members without an enrollment come after enrolled ones.
func BuildRoster(classID string, enrollments []classroom.Enrollment, candidates []user.User) []Member {
	joinedAt := make(map[string]time.Time, len(enrollments))
	for _, enr := range enrollments {
		if enr.ClassID != classID {
			continue
		}
		if t, ok := joinedAt[enr.StudentID]; !ok || enr.JoinedAt.Before(t) {
			joinedAt[enr.StudentID] = enr.JoinedAt
		}
	}

	students := lo.UniqBy(candidates, func(u user.User) string { return u.ID })
	roster := make([]Member, 0, len(students))
	for _, usr := range students {
		if !usr.IsStudent() {
			continue
		}
		t, enrolled := joinedAt[usr.ID]
		if !enrolled && !usr.InClass(classID) {
			continue
		}
		roster = append(roster, Member{
			ID:       usr.ID,
			Username: usr.Username,
			Avatar:   usr.AvatarURL(),
			JoinedAt: t,
		})
	}

	sort.SliceStable(roster, func(i, j int) bool {
		a, b := roster[i], roster[j]
		if a.JoinedAt.IsZero() != b.JoinedAt.IsZero() {
			return !a.JoinedAt.IsZero()
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.ID < b.ID
	})
	return roster
}

// Chart returns one entry per assignment, oldest first, with the student's resolved marks.
func Chart(assignments []classroom.Assignment, subs []classroom.Submission) []ChartEntry {
	sorted := make([]classroom.Assignment, len(assignments))
	copy(sorted, assignments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	resolved := ResolveMarks(subs)
	return lo.Map(sorted, func(asgmt classroom.Assignment, _ int) ChartEntry {
		m, ok := resolved[asgmt.ID]
		return ChartEntry{AssignmentID: asgmt.ID, Title: asgmt.Title, Marks: m, Submitted: ok}
	})
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
