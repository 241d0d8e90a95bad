package classroom

import (
	"context"
	"fmt"
	"io"
	"net/mail"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrClassNotFound      = core.NewNotFoundError("class")
	ErrAssignmentNotFound = core.NewNotFoundError("assignment")
	ErrSubmissionNotFound = core.NewNotFoundError("submission")
	ErrEnrollmentNotFound = core.NewNotFoundError("enrollment")

	ErrAdminOnly   = errors.WithMessage(core.ErrForbidden, "admins only")
	ErrStudentOnly = errors.WithMessage(core.ErrForbidden, "students only")
	ErrNotOwner    = errors.WithMessage(core.ErrForbidden, "class belongs to another admin")
	ErrNotEnrolled = errors.WithMessage(core.ErrForbidden, "not enrolled in this class")
)

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		// QueryClasses applies AND operation on available ClassFilter fields, newest first.
		QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error)
		UpdateClass(ctx context.Context, cls Class) (Class, error)
		// DeleteClass removes the class with its assignments, enrollments and submissions.
		DeleteClass(ctx context.Context, id string) (Cascade, error)

		// UpsertEnrollment stores enr unless the pair already exists, in which case the stored one is returned.
		UpsertEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, classID, studentID string) (Enrollment, error)
		// QueryEnrollments returns the matching enrollments ordered by join time.
		QueryEnrollments(ctx context.Context, filter EnrollmentFilter) ([]Enrollment, error)

		CreateAssignment(ctx context.Context, asgmt Assignment) (Assignment, error)
		GetAssignment(ctx context.Context, id string) (Assignment, error)
		// QueryAssignments returns the assignments of a class, newest first.
		QueryAssignments(ctx context.Context, classID string) ([]Assignment, error)
		UpdateAssignment(ctx context.Context, asgmt Assignment) (Assignment, error)
		// DeleteAssignment removes the assignment with its submissions.
		DeleteAssignment(ctx context.Context, id string) (Cascade, error)

		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, id string) (Submission, error)
		// QuerySubmissions returns the matching submissions in insertion order.
		QuerySubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error)
		// SetMarks writes marks to every submission of the (assignment, student) pair
		// and returns the number of submissions updated.
		SetMarks(ctx context.Context, assignmentID, studentID string, marks int) (int, error)
	}

	userFinder interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		GetMany(ctx context.Context, ids ...string) ([]user.User, error)
	}

	Service struct {
		repo     Repository
		users    userFinder
		blobs    core.BlobStore
		mailSvc  core.EmailService
		logger   core.Logger
		validate *validator.Validate
		policy   core.UploadPolicy
		appName  string
	}
)

func NewService(
	repo Repository,
	users userFinder,
	blobs core.BlobStore,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
	validate *validator.Validate,
) *Service {
	policy := conf.Upload
	if policy.MaxSize <= 0 || len(policy.AllowedExtensions) == 0 {
		policy = core.DefaultUploadPolicy()
	}
	return &Service{
		repo:     repo,
		users:    users,
		blobs:    blobs,
		mailSvc:  mailSvc,
		logger:   logger,
		validate: validate,
		policy:   policy,
		appName:  conf.AppName,
	}
}

// =========================================================================
// Classes

func (svc *Service) CreateClass(ctx context.Context, caller user.Identity, nc NewClass) (Class, error) {
	if !caller.IsAdmin() {
		return Class{}, ErrAdminOnly
	}
	if err := nc.Validate(svc.validate); err != nil {
		return Class{}, err
	}

	now := core.NowFunc()
	return svc.repo.CreateClass(ctx, Class{
		Name:        nc.Name,
		Description: nc.Description,
		OwnerID:     caller.UserID,
		OwnerName:   caller.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClass(ctx, id)
}

// ViewClass returns the class when the caller is an admin or a student enrolled in it.
func (svc *Service) ViewClass(ctx context.Context, caller user.Identity, id string) (Class, error) {
	cls, err := svc.repo.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if err = svc.checkAccess(ctx, caller, cls.ID); err != nil {
		return Class{}, err
	}
	return cls, nil
}

// ListClasses returns the classes owned by an admin caller or joined by a student caller.
func (svc *Service) ListClasses(ctx context.Context, caller user.Identity) ([]Class, error) {
	switch {
	case caller.IsAdmin():
		return svc.repo.QueryClasses(ctx, ClassFilter{OwnerID: caller.UserID})
	case caller.IsStudent():
		enrs, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{StudentID: caller.UserID})
		if err != nil {
			return nil, errors.Wrap(err, "querying enrollments")
		}
		usr, err := svc.users.GetByID(ctx, caller.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "fetching student")
		}
		ids := lo.Uniq(append(lo.Map(enrs, func(e Enrollment, _ int) string { return e.ClassID }), usr.JoinedClasses...))
		if len(ids) == 0 {
			return []Class{}, nil
		}
		return svc.repo.QueryClasses(ctx, ClassFilter{IDs: ids})
	default:
		return nil, core.ErrForbidden
	}
}

func (svc *Service) UpdateClass(ctx context.Context, caller user.Identity, id string, uc UpdateClass) (Class, error) {
	cls, err := svc.ownedClass(ctx, caller, id)
	if err != nil {
		return Class{}, err
	}
	if err = uc.Validate(svc.validate); err != nil {
		return Class{}, err
	}

	cls.Name = uc.Name
	cls.Description = uc.Description
	cls.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateClass(ctx, cls)
}

// DeleteClass removes the class and everything attached to it, stored files included.
func (svc *Service) DeleteClass(ctx context.Context, caller user.Identity, id string) (Cascade, error) {
	if _, err := svc.ownedClass(ctx, caller, id); err != nil {
		return Cascade{}, err
	}
	cascade, err := svc.repo.DeleteClass(ctx, id)
	if err != nil {
		return Cascade{}, errors.Wrap(err, "deleting class")
	}
	svc.removeFiles(ctx, cascade.Submissions)
	return cascade, nil
}

// JoinClass enrolls a student in the class identified by the class code.
// Joining a class twice keeps the first enrollment.
func (svc *Service) JoinClass(ctx context.Context, caller user.Identity, jc JoinClass) (Class, Enrollment, error) {
	if !caller.IsStudent() {
		return Class{}, Enrollment{}, ErrStudentOnly
	}
	if err := jc.Validate(svc.validate); err != nil {
		return Class{}, Enrollment{}, err
	}

	cls, err := svc.repo.GetClass(ctx, jc.ClassCode)
	if err != nil {
		return Class{}, Enrollment{}, err
	}
	enr, err := svc.repo.UpsertEnrollment(ctx, Enrollment{
		StudentID: caller.UserID,
		ClassID:   cls.ID,
		JoinedAt:  core.NowFunc(),
	})
	if err != nil {
		return Class{}, Enrollment{}, errors.Wrap(err, "enrolling student")
	}
	return cls, enr, nil
}

// IsEnrolled reports whether the student is a member of the class, through an enrollment
// or a legacy joined classes entry.
func (svc *Service) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	_, err := svc.repo.GetEnrollment(ctx, classID, studentID)
	if err == nil {
		return true, nil
	}
	if !core.IsNotFound(err) {
		return false, err
	}

	usr, err := svc.users.GetByID(ctx, studentID)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return usr.InClass(classID), nil
}

// Enrollments returns the enrollments of a class ordered by join time.
func (svc *Service) Enrollments(ctx context.Context, classID string) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, EnrollmentFilter{ClassID: classID})
}

// =========================================================================
// Assignments

func (svc *Service) ListAssignments(ctx context.Context, classID string) ([]Assignment, error) {
	return svc.repo.QueryAssignments(ctx, classID)
}

func (svc *Service) CreateAssignment(ctx context.Context, caller user.Identity, classID string, na NewAssignment) (Assignment, error) {
	cls, err := svc.ownedClass(ctx, caller, classID)
	if err != nil {
		return Assignment{}, err
	}
	if err = na.Validate(svc.validate); err != nil {
		return Assignment{}, err
	}

	return svc.repo.CreateAssignment(ctx, Assignment{
		ClassID:     cls.ID,
		Title:       na.Title,
		Description: na.Description,
		DueDate:     na.DueDate,
		CreatedAt:   core.NowFunc(),
	})
}

// ViewAssignment returns the assignment and its class when the caller may access the class.
func (svc *Service) ViewAssignment(ctx context.Context, caller user.Identity, id string) (Assignment, Class, error) {
	asgmt, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, Class{}, err
	}
	cls, err := svc.ViewClass(ctx, caller, asgmt.ClassID)
	if err != nil {
		return Assignment{}, Class{}, err
	}
	return asgmt, cls, nil
}

func (svc *Service) UpdateAssignment(ctx context.Context, caller user.Identity, classID, id string, ua UpdateAssignment) (Assignment, error) {
	asgmt, err := svc.ownedAssignment(ctx, caller, classID, id)
	if err != nil {
		return Assignment{}, err
	}
	if err = ua.Validate(svc.validate); err != nil {
		return Assignment{}, err
	}

	asgmt.Title = ua.Title
	asgmt.Description = ua.Description
	asgmt.DueDate = ua.DueDate
	return svc.repo.UpdateAssignment(ctx, asgmt)
}

func (svc *Service) DeleteAssignment(ctx context.Context, caller user.Identity, classID, id string) (Cascade, error) {
	if _, err := svc.ownedAssignment(ctx, caller, classID, id); err != nil {
		return Cascade{}, err
	}
	cascade, err := svc.repo.DeleteAssignment(ctx, id)
	if err != nil {
		return Cascade{}, errors.Wrap(err, "deleting assignment")
	}
	svc.removeFiles(ctx, cascade.Submissions)
	return cascade, nil
}

// =========================================================================
// Submissions

// Submit stores an uploaded file for the assignment. The upload is checked against the
// upload policy before anything is written.
func (svc *Service) Submit(ctx context.Context, caller user.Identity, assignmentID string, up Upload) (Submission, error) {
	if !caller.IsStudent() {
		return Submission{}, ErrStudentOnly
	}
	asgmt, err := svc.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Submission{}, err
	}
	if err = svc.checkAccess(ctx, caller, asgmt.ClassID); err != nil {
		return Submission{}, err
	}

	if err = svc.policy.Check(up.Filename, up.Size); err != nil {
		return Submission{}, err
	}
	filename, err := core.SubmissionFilename(asgmt.ID, up.Filename)
	if err != nil {
		return Submission{}, core.NewValidationError(err, core.FieldError{Field: "file", Error: err.Error()})
	}

	path, err := svc.blobs.Put(ctx, core.SubmissionBlobKey(caller.UserID, filename), up.Content, up.Size)
	if err != nil {
		return Submission{}, errors.Wrap(err, "storing file")
	}

	sub, err := svc.repo.CreateSubmission(ctx, Submission{
		AssignmentID: asgmt.ID,
		StudentID:    caller.UserID,
		Filename:     filename,
		FilePath:     path,
		CreatedAt:    core.NowFunc(),
	})
	if err != nil {
		svc.removeFiles(ctx, []Submission{{FilePath: path}})
		return Submission{}, errors.Wrap(err, "creating submission")
	}
	return sub, nil
}

// Submissions returns the matching submissions in insertion order.
func (svc *Service) Submissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error) {
	return svc.repo.QuerySubmissions(ctx, filter)
}

// AssignmentSubmissions groups the submissions of an assignment by student, in order of first submission.
// The marks of a group are those of its last submission.
func (svc *Service) AssignmentSubmissions(ctx context.Context, caller user.Identity, classID, assignmentID string) ([]StudentSubmissions, error) {
	asgmt, err := svc.adminAssignment(ctx, caller, classID, assignmentID)
	if err != nil {
		return nil, err
	}
	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{AssignmentIDs: []string{asgmt.ID}})
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}

	studentIDs := lo.Uniq(lo.Map(subs, func(s Submission, _ int) string { return s.StudentID }))
	students, err := svc.users.GetMany(ctx, studentIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "fetching students")
	}
	byID := lo.KeyBy(students, func(u user.User) string { return u.ID })
	groups := lo.GroupBy(subs, func(s Submission) string { return s.StudentID })

	res := make([]StudentSubmissions, 0, len(studentIDs))
	for _, sid := range studentIDs {
		usr, ok := byID[sid]
		if !ok {
			continue // deleted student
		}
		group := groups[sid]
		res = append(res, StudentSubmissions{
			StudentID:   sid,
			StudentName: usr.Username,
			Files:       lo.Map(group, func(s Submission, _ int) string { return s.Filename }),
			Marks:       group[len(group)-1].Marks,
		})
	}
	return res, nil
}

// StudentFiles returns the files a student submitted for an assignment.
func (svc *Service) StudentFiles(ctx context.Context, caller user.Identity, classID, assignmentID, studentID string) ([]Submission, error) {
	asgmt, err := svc.adminAssignment(ctx, caller, classID, assignmentID)
	if err != nil {
		return nil, err
	}
	return svc.repo.QuerySubmissions(ctx, SubmissionFilter{
		AssignmentIDs: []string{asgmt.ID},
		StudentIDs:    []string{studentID},
	})
}

// SetMarks grades every submission of a student for an assignment and returns the number of submissions updated.
// The student is notified by email when they have an address.
func (svc *Service) SetMarks(ctx context.Context, caller user.Identity, classID, assignmentID, studentID string, mu MarksUpdate) (int, error) {
	asgmt, err := svc.ownedAssignment(ctx, caller, classID, assignmentID)
	if err != nil {
		return 0, err
	}
	marks, err := mu.Value()
	if err != nil {
		return 0, err
	}

	n, err := svc.repo.SetMarks(ctx, asgmt.ID, studentID, marks)
	if err != nil {
		return 0, errors.Wrap(err, "setting marks")
	}
	if n == 0 {
		return 0, ErrSubmissionNotFound
	}

	svc.notifyMarks(ctx, asgmt, studentID, marks)
	return n, nil
}

// OpenSubmissionFile opens the stored file of a submission for an admin or the student who uploaded it.
// The caller must close the returned reader.
func (svc *Service) OpenSubmissionFile(ctx context.Context, caller user.Identity, id string) (Submission, io.ReadCloser, error) {
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, nil, err
	}
	if !caller.CanView(sub.StudentID) {
		return Submission{}, nil, core.ErrForbidden
	}
	rc, err := svc.blobs.Open(ctx, sub.FilePath)
	if err != nil {
		return Submission{}, nil, err
	}
	return sub, rc, nil
}

// =========================================================================
// Helpers

func (svc *Service) checkAccess(ctx context.Context, caller user.Identity, classID string) error {
	switch {
	case caller.IsAdmin():
		return nil
	case caller.IsStudent():
		ok, err := svc.IsEnrolled(ctx, classID, caller.UserID)
		if err != nil {
			return errors.Wrap(err, "checking enrollment")
		}
		if !ok {
			return ErrNotEnrolled
		}
		return nil
	default:
		return core.ErrForbidden
	}
}

func (svc *Service) ownedClass(ctx context.Context, caller user.Identity, id string) (Class, error) {
	if !caller.IsAdmin() {
		return Class{}, ErrAdminOnly
	}
	cls, err := svc.repo.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if !cls.IsOwnedBy(caller.UserID) {
		return Class{}, ErrNotOwner
	}
	return cls, nil
}

func (svc *Service) ownedAssignment(ctx context.Context, caller user.Identity, classID, id string) (Assignment, error) {
	cls, err := svc.ownedClass(ctx, caller, classID)
	if err != nil {
		return Assignment{}, err
	}
	return svc.classAssignment(ctx, cls.ID, id)
}

func (svc *Service) adminAssignment(ctx context.Context, caller user.Identity, classID, id string) (Assignment, error) {
	if !caller.IsAdmin() {
		return Assignment{}, ErrAdminOnly
	}
	cls, err := svc.repo.GetClass(ctx, classID)
	if err != nil {
		return Assignment{}, err
	}
	return svc.classAssignment(ctx, cls.ID, id)
}

func (svc *Service) classAssignment(ctx context.Context, classID, id string) (Assignment, error) {
	asgmt, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if asgmt.ClassID != classID {
		return Assignment{}, ErrAssignmentNotFound
	}
	return asgmt, nil
}

// removeFiles deletes stored files; failures are logged and otherwise ignored.
func (svc *Service) removeFiles(ctx context.Context, subs []Submission) {
	for _, sub := range subs {
		if sub.FilePath == "" {
			continue
		}
		if err := svc.blobs.Delete(ctx, sub.FilePath); err != nil && !core.IsNotFound(err) && svc.logger != nil {
			svc.logger.Error(fmt.Sprintf("deleting file %q: %v", sub.FilePath, err), err)
		}
	}
}

func (svc *Service) notifyMarks(ctx context.Context, asgmt Assignment, studentID string, marks int) {
	if svc.mailSvc == nil {
		return
	}
	usr, err := svc.users.GetByID(ctx, studentID)
	if err != nil {
		if svc.logger != nil && !core.IsNotFound(err) {
			svc.logger.Error(fmt.Sprintf("fetching student %q: %v", studentID, err), err)
		}
		return
	}
	if usr.Email == "" {
		return
	}

	msg := &core.EmailMessage{
		To:       []mail.Address{{Name: usr.Username, Address: usr.Email}},
		Subject:  fmt.Sprintf("Marks for %q", asgmt.Title),
		Category: "marks",
		BodyStr:  fmt.Sprintf(
			"Hi %s,\n\nYour submission for %q has been graded: %d/%d.\n\nThe %s team",
			usr.Username, asgmt.Title, marks, MaxMarks, svc.appName,
		),
	}
	svc.mailSvc.SendMessages(msg)
}
