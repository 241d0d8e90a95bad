package classroom_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/testutil"
)

func isForbidden(err error) bool {
	return errors.Cause(err) == core.ErrForbidden
}

func TestService_classes(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.Tick(t, time.Now(), time.Second)

	admin := env.CreateAdmin(t, "admin")
	other := env.CreateAdmin(t, "other")
	student := env.CreateStudent(t, "alice")

	t.Run("create requires admin", func(t *testing.T) {
		_, err := env.ClassSvc.CreateClass(ctx, student.Identity(), classroom.NewClass{Name: "Maths"})
		assert.True(t, isForbidden(err))
	})

	t.Run("create validates", func(t *testing.T) {
		_, err := env.ClassSvc.CreateClass(ctx, admin.Identity(), classroom.NewClass{Name: "   "})
		assert.Error(t, err)
	})

	maths := env.CreateClass(t, admin, " Maths ")
	physics := env.CreateClass(t, admin, "Physics")
	env.CreateClass(t, other, "History")
	assert.Equal(t, "Maths", maths.Name)
	assert.Equal(t, admin.ID, maths.OwnerID)
	assert.Equal(t, "admin", maths.OwnerName)

	t.Run("admin lists own classes, newest first", func(t *testing.T) {
		classes, err := env.ClassSvc.ListClasses(ctx, admin.Identity())
		require.NoError(t, err)
		assert.Equal(t, []classroom.Class{physics, maths}, classes)
	})

	t.Run("student lists joined classes", func(t *testing.T) {
		classes, err := env.ClassSvc.ListClasses(ctx, student.Identity())
		require.NoError(t, err)
		assert.Empty(t, classes)

		env.Join(t, student, maths)
		classes, err = env.ClassSvc.ListClasses(ctx, student.Identity())
		require.NoError(t, err)
		assert.Equal(t, []classroom.Class{maths}, classes)
	})

	t.Run("view", func(t *testing.T) {
		_, err := env.ClassSvc.ViewClass(ctx, student.Identity(), physics.ID)
		assert.Equal(t, classroom.ErrNotEnrolled, err)

		cls, err := env.ClassSvc.ViewClass(ctx, student.Identity(), maths.ID)
		require.NoError(t, err)
		assert.Equal(t, maths, cls)

		cls, err = env.ClassSvc.ViewClass(ctx, other.Identity(), maths.ID)
		require.NoError(t, err, "any admin may view")
		assert.Equal(t, maths, cls)

		_, err = env.ClassSvc.ViewClass(ctx, admin.Identity(), "unknown")
		assert.Equal(t, classroom.ErrClassNotFound, err)
	})

	t.Run("update requires owner", func(t *testing.T) {
		_, err := env.ClassSvc.UpdateClass(ctx, other.Identity(), maths.ID, classroom.UpdateClass{Name: "Algebra"})
		assert.Equal(t, classroom.ErrNotOwner, err)
		_, err = env.ClassSvc.UpdateClass(ctx, student.Identity(), maths.ID, classroom.UpdateClass{Name: "Algebra"})
		assert.True(t, isForbidden(err))

		cls, err := env.ClassSvc.UpdateClass(ctx, admin.Identity(), maths.ID, classroom.UpdateClass{Name: "Algebra", Description: "x"})
		require.NoError(t, err)
		assert.Equal(t, "Algebra", cls.Name)
		assert.Equal(t, "x", cls.Description)
		assert.True(t, cls.UpdatedAt.After(maths.UpdatedAt))
	})
}

func TestService_JoinClass(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.Tick(t, time.Now(), time.Second)

	admin := env.CreateAdmin(t, "admin")
	student := env.CreateStudent(t, "alice")
	cls := env.CreateClass(t, admin, "Maths")

	_, _, err := env.ClassSvc.JoinClass(ctx, admin.Identity(), classroom.JoinClass{ClassCode: cls.ID})
	assert.Equal(t, classroom.ErrStudentOnly, err)

	_, _, err = env.ClassSvc.JoinClass(ctx, student.Identity(), classroom.JoinClass{ClassCode: "  "})
	assert.Error(t, err)

	_, _, err = env.ClassSvc.JoinClass(ctx, student.Identity(), classroom.JoinClass{ClassCode: "unknown"})
	assert.True(t, core.IsNotFound(err))

	first := env.Join(t, student, cls)
	again := env.Join(t, student, cls)
	assert.Equal(t, first, again, "joining twice keeps the first enrollment")

	enrs, err := env.ClassSvc.Enrollments(ctx, cls.ID)
	require.NoError(t, err)
	assert.Len(t, enrs, 1)

	usr, err := env.UserSvc.GetByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{cls.ID}, usr.JoinedClasses)
}

func TestService_assignments(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.Tick(t, time.Now(), time.Second)

	admin := env.CreateAdmin(t, "admin")
	other := env.CreateAdmin(t, "other")
	student := env.CreateStudent(t, "alice")
	outsider := env.CreateStudent(t, "bob")
	cls := env.CreateClass(t, admin, "Maths")
	otherCls := env.CreateClass(t, other, "History")
	env.Join(t, student, cls)

	_, err := env.ClassSvc.CreateAssignment(ctx, other.Identity(), cls.ID, classroom.NewAssignment{Title: "HW1"})
	assert.Equal(t, classroom.ErrNotOwner, err)
	_, err = env.ClassSvc.CreateAssignment(ctx, admin.Identity(), cls.ID, classroom.NewAssignment{})
	assert.Error(t, err)

	hw1 := env.CreateAssignment(t, admin, cls, "HW1")
	hw2 := env.CreateAssignment(t, admin, cls, "HW2")

	asgmts, err := env.ClassSvc.ListAssignments(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, []classroom.Assignment{hw2, hw1}, asgmts)

	t.Run("view", func(t *testing.T) {
		asgmt, c, err := env.ClassSvc.ViewAssignment(ctx, student.Identity(), hw1.ID)
		require.NoError(t, err)
		assert.Equal(t, hw1, asgmt)
		assert.Equal(t, cls.ID, c.ID)

		_, _, err = env.ClassSvc.ViewAssignment(ctx, outsider.Identity(), hw1.ID)
		assert.Equal(t, classroom.ErrNotEnrolled, err)
	})

	t.Run("update", func(t *testing.T) {
		_, err := env.ClassSvc.UpdateAssignment(ctx, other.Identity(), otherCls.ID, hw1.ID, classroom.UpdateAssignment{Title: "x"})
		assert.Equal(t, classroom.ErrAssignmentNotFound, err, "assignment of another class")

		asgmt, err := env.ClassSvc.UpdateAssignment(ctx, admin.Identity(), cls.ID, hw1.ID, classroom.UpdateAssignment{
			Title: "Homework 1", DueDate: "Friday",
		})
		require.NoError(t, err)
		assert.Equal(t, "Homework 1", asgmt.Title)
		assert.Equal(t, "Friday", asgmt.DueDate)
	})

	t.Run("delete removes submissions and files", func(t *testing.T) {
		sub := env.Submit(t, student, hw2, "answers.txt", "42")

		cascade, err := env.ClassSvc.DeleteAssignment(ctx, admin.Identity(), cls.ID, hw2.ID)
		require.NoError(t, err)
		assert.Len(t, cascade.Submissions, 1)

		_, err = env.ClassRepo.GetSubmission(ctx, sub.ID)
		assert.Equal(t, classroom.ErrSubmissionNotFound, err)
		_, err = env.Blobs.Open(ctx, sub.FilePath)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_Submit(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := env.CreateAdmin(t, "admin")
	student := env.CreateStudent(t, "alice")
	outsider := env.CreateStudent(t, "bob")
	cls := env.CreateClass(t, admin, "Maths")
	asgmt := env.CreateAssignment(t, admin, cls, "HW1")
	env.Join(t, student, cls)

	upload := func(name string, size int64) classroom.Upload {
		return classroom.Upload{Filename: name, Size: size, Content: strings.NewReader("content")}
	}

	tests := []struct {
		name    string
		caller  user.User
		asgmtID string
		up      classroom.Upload
		check   func(t *testing.T, err error)
	}{
		{
			name: "admin", caller: admin, asgmtID: asgmt.ID, up: upload("a.pdf", 7),
			check: func(t *testing.T, err error) { assert.Equal(t, classroom.ErrStudentOnly, err) },
		},
		{
			name: "not enrolled", caller: outsider, asgmtID: asgmt.ID, up: upload("a.pdf", 7),
			check: func(t *testing.T, err error) { assert.Equal(t, classroom.ErrNotEnrolled, err) },
		},
		{
			name: "unknown assignment", caller: student, asgmtID: "unknown", up: upload("a.pdf", 7),
			check: func(t *testing.T, err error) { assert.Equal(t, classroom.ErrAssignmentNotFound, err) },
		},
		{
			name: "no file", caller: student, asgmtID: asgmt.ID, up: upload("", 0),
			check: func(t *testing.T, err error) { assertValidation(t, err, core.ErrNoFile) },
		},
		{
			name: "bad extension", caller: student, asgmtID: asgmt.ID, up: upload("virus.exe", 7),
			check: func(t *testing.T, err error) { assertValidation(t, err, core.ErrInvalidFileType) },
		},
		{
			name: "too large", caller: student, asgmtID: asgmt.ID, up: upload("big.zip", core.DefaultMaxUploadSize+1),
			check: func(t *testing.T, err error) {
				assertValidation(t, err, core.ErrFileTooLarge)
				var vErr *core.ValidationError
				require.True(t, errors.As(err, &vErr))
				assert.Equal(t, "file too large! limit is 5MB", vErr.Fields[0].Error)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ClassSvc.Submit(ctx, tt.caller.Identity(), tt.asgmtID, tt.up)
			tt.check(t, err)
		})
	}

	subs, err := env.ClassSvc.Submissions(ctx, classroom.SubmissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, subs, "rejected uploads create no submission")

	t.Run("success", func(t *testing.T) {
		sub := env.Submit(t, student, asgmt, "../../My Report.PDF", "report")
		assert.Equal(t, asgmt.ID+"_My Report.PDF", sub.Filename)
		assert.Equal(t, student.ID+"/"+asgmt.ID+"_My Report.PDF", sub.FilePath)
		assert.Nil(t, sub.Marks)

		got, rc, err := env.ClassSvc.OpenSubmissionFile(ctx, student.Identity(), sub.ID)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "report", string(data))
		assert.Equal(t, sub, got)

		_, _, err = env.ClassSvc.OpenSubmissionFile(ctx, outsider.Identity(), sub.ID)
		assert.True(t, isForbidden(err))

		_, rc, err = env.ClassSvc.OpenSubmissionFile(ctx, admin.Identity(), sub.ID)
		require.NoError(t, err)
		_ = rc.Close()
	})
}

func TestService_SetMarks(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.Tick(t, time.Now(), time.Second)

	admin := env.CreateAdmin(t, "admin")
	other := env.CreateAdmin(t, "other")
	alice := env.CreateStudent(t, "alice")
	bob := testutil.CreateUser(t, env.UserRepo, "bob", "", user.RoleStudent) // no email
	cls := env.CreateClass(t, admin, "Maths")
	asgmt := env.CreateAssignment(t, admin, cls, "HW1")
	env.Join(t, alice, cls)
	env.Join(t, bob, cls)

	env.Submit(t, alice, asgmt, "a.txt", "1")
	env.Submit(t, alice, asgmt, "b.txt", "2")
	env.Submit(t, bob, asgmt, "c.txt", "3")

	setMarks := func(caller user.User, studentID string, marks interface{}) (int, error) {
		return env.ClassSvc.SetMarks(ctx, caller.Identity(), cls.ID, asgmt.ID, studentID, classroom.MarksUpdate{Marks: marks})
	}

	for _, marks := range []interface{}{nil, -1, 101, "abc", 12.5, ""} {
		_, err := setMarks(admin, alice.ID, marks)
		var vErr *core.ValidationError
		assert.True(t, errors.As(err, &vErr), "marks %v", marks)
	}

	_, err := setMarks(other, alice.ID, 50)
	assert.Equal(t, classroom.ErrNotOwner, err)

	_, err = setMarks(admin, "nobody", 50)
	assert.Equal(t, classroom.ErrSubmissionNotFound, err)

	n, err := setMarks(admin, alice.ID, " 75 ")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "every submission of the pair is graded")

	n, err = setMarks(admin, bob.ID, float64(60))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	subs, err := env.ClassSvc.Submissions(ctx, classroom.SubmissionFilter{StudentIDs: []string{alice.ID}})
	require.NoError(t, err)
	for _, s := range subs {
		require.NotNil(t, s.Marks)
		assert.Equal(t, 75, *s.Marks)
	}

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1, "only students with an email are notified")
	assert.Equal(t, "alice@test.cd", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "75/100")
	assert.Contains(t, sent[0].HTMLContent, "<p>")
	assert.Equal(t, "marks", sent[0].Category)

	t.Run("grouped submissions", func(t *testing.T) {
		_, err := env.ClassSvc.AssignmentSubmissions(ctx, alice.Identity(), cls.ID, asgmt.ID)
		assert.True(t, isForbidden(err))

		groups, err := env.ClassSvc.AssignmentSubmissions(ctx, other.Identity(), cls.ID, asgmt.ID)
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, alice.ID, groups[0].StudentID)
		assert.Equal(t, "alice", groups[0].StudentName)
		assert.Equal(t, []string{asgmt.ID + "_a.txt", asgmt.ID + "_b.txt"}, groups[0].Files)
		assert.Equal(t, 75, *groups[0].Marks)
		assert.Equal(t, bob.ID, groups[1].StudentID)
		assert.Equal(t, 60, *groups[1].Marks)
	})

	t.Run("student files", func(t *testing.T) {
		files, err := env.ClassSvc.StudentFiles(ctx, admin.Identity(), cls.ID, asgmt.ID, alice.ID)
		require.NoError(t, err)
		assert.Len(t, files, 2)

		_, err = env.ClassSvc.StudentFiles(ctx, admin.Identity(), "unknown", asgmt.ID, alice.ID)
		assert.Equal(t, classroom.ErrClassNotFound, err)
	})
}

func TestService_DeleteClass(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := env.CreateAdmin(t, "admin")
	other := env.CreateAdmin(t, "other")
	alice := env.CreateStudent(t, "alice")
	cls := env.CreateClass(t, admin, "Maths")
	keep := env.CreateClass(t, admin, "Physics")
	legacy := env.CreateStudent(t, "bob", cls.ID)

	hw1 := env.CreateAssignment(t, admin, cls, "HW1")
	kept := env.CreateAssignment(t, admin, keep, "Lab")
	env.Join(t, alice, cls)
	env.Join(t, alice, keep)
	sub := env.Submit(t, alice, hw1, "a.txt", "1")
	keptSub := env.Submit(t, alice, kept, "b.txt", "2")

	_, err := env.ClassSvc.DeleteClass(ctx, other.Identity(), cls.ID)
	assert.Equal(t, classroom.ErrNotOwner, err)

	cascade, err := env.ClassSvc.DeleteClass(ctx, admin.Identity(), cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cascade.Assignments)
	assert.Equal(t, 1, cascade.Enrollments)
	require.Len(t, cascade.Submissions, 1)
	assert.Equal(t, sub.ID, cascade.Submissions[0].ID)

	_, err = env.ClassSvc.GetClass(ctx, cls.ID)
	assert.Equal(t, classroom.ErrClassNotFound, err)
	_, err = env.ClassRepo.GetAssignment(ctx, hw1.ID)
	assert.Equal(t, classroom.ErrAssignmentNotFound, err)
	_, err = env.Blobs.Open(ctx, sub.FilePath)
	assert.True(t, core.IsNotFound(err))

	// other classes are untouched
	_, err = env.ClassRepo.GetSubmission(ctx, keptSub.ID)
	assert.NoError(t, err)
	rc, err := env.Blobs.Open(ctx, keptSub.FilePath)
	require.NoError(t, err)
	_ = rc.Close()

	usr, err := env.UserSvc.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ID}, usr.JoinedClasses)
	usr, err = env.UserSvc.GetByID(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Empty(t, usr.JoinedClasses)
}

func TestMarksUpdate_Value(t *testing.T) {
	tests := []struct {
		marks   interface{}
		want    int
		wantErr bool
	}{
		{marks: 0, want: 0},
		{marks: 100, want: 100},
		{marks: "85", want: 85},
		{marks: " 7 ", want: 7},
		{marks: float64(90), want: 90},
		{marks: nil, wantErr: true},
		{marks: "", wantErr: true},
		{marks: "ten", wantErr: true},
		{marks: 100.5, wantErr: true},
		{marks: 101, wantErr: true},
		{marks: "-1", wantErr: true},
		{marks: "010", want: 10},
		{marks: "08", want: 8},
		{marks: " 007 ", want: 7},
		{marks: "0x10", wantErr: true},
		{marks: "1e2", wantErr: true},
	}
	for _, tt := range tests {
		got, err := classroom.MarksUpdate{Marks: tt.marks}.Value()
		if tt.wantErr {
			assert.Error(t, err, "marks %#v", tt.marks)
			continue
		}
		assert.NoError(t, err, "marks %#v", tt.marks)
		assert.Equal(t, tt.want, got)
	}
}

func assertValidation(t *testing.T, err error, want error) {
	t.Helper()
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Equal(t, want, vErr.Err)
	require.Len(t, vErr.Fields, 1)
	assert.Equal(t, "file", vErr.Fields[0].Field)
}
