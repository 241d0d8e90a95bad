package progress

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

var ErrNotMember = core.NewNotFoundError("class member")

type (
	classReader interface {
		ViewClass(ctx context.Context, caller user.Identity, id string) (classroom.Class, error)
		ListAssignments(ctx context.Context, classID string) ([]classroom.Assignment, error)
		Enrollments(ctx context.Context, classID string) ([]classroom.Enrollment, error)
		Submissions(ctx context.Context, filter classroom.SubmissionFilter) ([]classroom.Submission, error)
	}

	userReader interface {
		GetMany(ctx context.Context, ids ...string) ([]user.User, error)
		Query(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error)
	}

	// StudentPage is the progress of one student in a class, with per-assignment chart data.
	StudentPage struct {
		Class   classroom.Class `json:"class"`
		Student Member          `json:"student"`
		Report  Report          `json:"report"`
		Chart   []ChartEntry    `json:"chart"`
	}

	// ClassDetail is what a caller sees of a class. Admins get every member's progress;
	// students get their own report.
	ClassDetail struct {
		Class       classroom.Class        `json:"class"`
		Assignments []classroom.Assignment `json:"assignments"`
		Members     []Member               `json:"members"`
		Progress    []Row                  `json:"progress,omitempty"`
		MyProgress  *Report                `json:"my_progress,omitempty"`
	}

	// snapshot holds what a class report is computed from.
	snapshot struct {
		class       classroom.Class
		assignments []classroom.Assignment
		roster      []Member
		submissions []classroom.Submission
	}

	Service struct {
		classes classReader
		users   userReader
	}
)

func NewService(classes classReader, users userReader) *Service {
	return &Service{classes: classes, users: users}
}

// Roster returns the students of a class, ordered by join time.
func (svc *Service) Roster(ctx context.Context, classID string) ([]Member, error) {
	enrs, err := svc.classes.Enrollments(ctx, classID)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrolled, err := svc.users.GetMany(ctx, lo.Map(enrs, func(e classroom.Enrollment, _ int) string { return e.StudentID })...)
	if err != nil {
		return nil, errors.Wrap(err, "fetching enrolled students")
	}
	legacy, err := svc.users.Query(ctx, &user.QueryFilter{Role: user.RoleStudent, JoinedClass: classID}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying class members")
	}
	return BuildRoster(classID, enrs, append(enrolled, legacy...)), nil
}

// ClassProgress returns the progress of every student of a class. Admins only.
func (svc *Service) ClassProgress(ctx context.Context, caller user.Identity, classID string) ([]Row, error) {
	if !caller.IsAdmin() {
		return nil, classroom.ErrAdminOnly
	}
	snap, err := svc.snapshot(ctx, caller, classID, true)
	if err != nil {
		return nil, err
	}
	return ComputeClassProgress(snap.assignments, snap.roster, snap.submissions), nil
}

// StudentProgress returns a student's progress page. The caller must be an admin or the student.
func (svc *Service) StudentProgress(ctx context.Context, caller user.Identity, classID, studentID string) (StudentPage, error) {
	if !caller.CanView(studentID) {
		return StudentPage{}, core.ErrForbidden
	}
	snap, err := svc.snapshot(ctx, caller, classID, false)
	if err != nil {
		return StudentPage{}, err
	}

	member, ok := lo.Find(snap.roster, func(m Member) bool { return m.ID == studentID })
	if !ok {
		return StudentPage{}, ErrNotMember
	}
	subs, err := svc.studentSubmissions(ctx, snap.assignments, studentID)
	if err != nil {
		return StudentPage{}, err
	}

	return StudentPage{
		Class:   snap.class,
		Student: member,
		Report:  ComputeStudentProgress(snap.assignments, subs),
		Chart:   Chart(snap.assignments, subs),
	}, nil
}

// ClassDetail returns the class with its assignments and members, plus the progress the caller may see.
func (svc *Service) ClassDetail(ctx context.Context, caller user.Identity, classID string) (ClassDetail, error) {
	snap, err := svc.snapshot(ctx, caller, classID, caller.IsAdmin())
	if err != nil {
		return ClassDetail{}, err
	}

	detail := ClassDetail{
		Class:       snap.class,
		Assignments: snap.assignments,
		Members:     snap.roster,
	}
	if caller.IsAdmin() {
		detail.Progress = ComputeClassProgress(snap.assignments, snap.roster, snap.submissions)
		return detail, nil
	}

	subs, err := svc.studentSubmissions(ctx, snap.assignments, caller.UserID)
	if err != nil {
		return ClassDetail{}, err
	}
	rep := ComputeStudentProgress(snap.assignments, subs)
	detail.MyProgress = &rep
	return detail, nil
}

func (svc *Service) snapshot(ctx context.Context, caller user.Identity, classID string, withSubmissions bool) (snapshot, error) {
	cls, err := svc.classes.ViewClass(ctx, caller, classID)
	if err != nil {
		return snapshot{}, err
	}
	asgmts, err := svc.classes.ListAssignments(ctx, cls.ID)
	if err != nil {
		return snapshot{}, errors.Wrap(err, "querying assignments")
	}
	roster, err := svc.Roster(ctx, cls.ID)
	if err != nil {
		return snapshot{}, err
	}

	snap := snapshot{class: cls, assignments: asgmts, roster: roster}
	if withSubmissions && len(asgmts) > 0 && len(roster) > 0 {
		snap.submissions, err = svc.classes.Submissions(ctx, classroom.SubmissionFilter{
			AssignmentIDs: assignmentIDs(asgmts),
			StudentIDs:    lo.Map(roster, func(m Member, _ int) string { return m.ID }),
		})
		if err != nil {
			return snapshot{}, errors.Wrap(err, "querying submissions")
		}
	}
	return snap, nil
}

func (svc *Service) studentSubmissions(ctx context.Context, asgmts []classroom.Assignment, studentID string) ([]classroom.Submission, error) {
	if len(asgmts) == 0 {
		return nil, nil
	}
	subs, err := svc.classes.Submissions(ctx, classroom.SubmissionFilter{
		AssignmentIDs: assignmentIDs(asgmts),
		StudentIDs:    []string{studentID},
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	return subs, nil
}

func assignmentIDs(asgmts []classroom.Assignment) []string {
	return lo.Map(asgmts, func(a classroom.Assignment, _ int) string { return a.ID })
}
