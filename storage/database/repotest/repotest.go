// Package repotest holds the behaviour every storage backend must share.
// Backends run it from their own tests against a fresh, empty store.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/feedback"
	"github.com/trezcool/darasa/core/user"
)

type Repos struct {
	Users    user.Repository
	Classes  classroom.Repository
	Feedback feedback.Repository
}

// Run runs the whole suite. newRepos must return repositories over an empty store.
func Run(t *testing.T, newRepos func(t *testing.T) Repos) {
	t.Run("users", func(t *testing.T) { testUsers(t, newRepos(t)) })
	t.Run("classes", func(t *testing.T) { testClasses(t, newRepos(t)) })
	t.Run("enrollments", func(t *testing.T) { testEnrollments(t, newRepos(t)) })
	t.Run("assignments and submissions", func(t *testing.T) { testSubmissions(t, newRepos(t)) })
	t.Run("cascades", func(t *testing.T) { testCascades(t, newRepos(t)) })
	t.Run("feedback", func(t *testing.T) { testFeedback(t, newRepos(t)) })
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func newUser(t *testing.T, repos Repos, uname, role string, created time.Time, joinedClasses ...string) user.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Qwerty!2024"), bcrypt.MinCost)
	require.NoError(t, err)
	usr, err := repos.Users.CreateUser(context.Background(), user.User{
		Username:      uname,
		Role:          role,
		PasswordHash:  hash,
		CreatedAt:     created,
		UpdatedAt:     created,
		JoinedClasses: joinedClasses,
	})
	require.NoError(t, err)
	return usr
}

func newClass(t *testing.T, repos Repos, owner user.User, name string, created time.Time) classroom.Class {
	t.Helper()
	cls, err := repos.Classes.CreateClass(context.Background(), classroom.Class{
		Name:      name,
		OwnerID:   owner.ID,
		OwnerName: owner.Username,
		CreatedAt: created,
		UpdatedAt: created,
	})
	require.NoError(t, err)
	return cls
}

func newAssignment(t *testing.T, repos Repos, cls classroom.Class, title string, created time.Time) classroom.Assignment {
	t.Helper()
	asgmt, err := repos.Classes.CreateAssignment(context.Background(), classroom.Assignment{
		ClassID:   cls.ID,
		Title:     title,
		CreatedAt: created,
	})
	require.NoError(t, err)
	return asgmt
}

func newSubmission(t *testing.T, repos Repos, asgmt classroom.Assignment, student user.User, filename string) classroom.Submission {
	t.Helper()
	sub, err := repos.Classes.CreateSubmission(context.Background(), classroom.Submission{
		AssignmentID: asgmt.ID,
		StudentID:    student.ID,
		Filename:     filename,
		FilePath:     student.ID + "/" + asgmt.ID + "_" + filename,
		CreatedAt:    base,
	})
	require.NoError(t, err)
	return sub
}

func enroll(t *testing.T, repos Repos, cls classroom.Class, student user.User, joined time.Time) {
	t.Helper()
	_, err := repos.Classes.UpsertEnrollment(context.Background(), classroom.Enrollment{
		StudentID: student.ID, ClassID: cls.ID, JoinedAt: joined,
	})
	require.NoError(t, err)
}

func userIDs(users []user.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func testUsers(t *testing.T, repos Repos) {
	ctx := context.Background()

	admin := newUser(t, repos, "admin", user.RoleAdmin, at(0))
	alice := newUser(t, repos, "alice", user.RoleStudent, at(1))
	bob := newUser(t, repos, "bob", user.RoleStudent, at(2))
	assert.NotEmpty(t, alice.ID)
	assert.Equal(t, at(1), alice.CreatedAt)
	assert.True(t, alice.LastLogin.IsZero())
	assert.Empty(t, alice.JoinedClasses)

	_, err := repos.Users.CreateUser(ctx, user.User{Username: "alice", Role: user.RoleStudent, PasswordHash: []byte("x")})
	assert.Equal(t, user.ErrUsernameExists, errors.Cause(err))

	t.Run("uniqueness", func(t *testing.T) {
		assert.Equal(t, user.ErrUsernameExists, repos.Users.CheckUsernameUniqueness(ctx, "alice"))
		assert.NoError(t, repos.Users.CheckUsernameUniqueness(ctx, "alice", alice))
		assert.NoError(t, repos.Users.CheckUsernameUniqueness(ctx, "carol"))
	})

	t.Run("get", func(t *testing.T) {
		got, err := repos.Users.GetUser(ctx, user.GetFilter{ID: alice.ID})
		require.NoError(t, err)
		assert.Equal(t, alice, got)

		got, err = repos.Users.GetUser(ctx, user.GetFilter{Username: "bob"})
		require.NoError(t, err)
		assert.Equal(t, bob.ID, got.ID)

		_, err = repos.Users.GetUser(ctx, user.GetFilter{Username: "nobody"})
		assert.True(t, core.IsNotFound(err))
		_, err = repos.Users.GetUser(ctx, user.GetFilter{})
		assert.True(t, core.IsNotFound(err))

		many, err := repos.Users.GetUsersByID(ctx, []string{bob.ID, admin.ID, "unknown"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{admin.ID, bob.ID}, userIDs(many))
	})

	t.Run("query", func(t *testing.T) {
		users, err := repos.Users.QueryUsers(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{bob.ID, alice.ID, admin.ID}, userIDs(users))

		users, err = repos.Users.QueryUsers(ctx, &user.QueryFilter{Role: user.RoleStudent}, []core.DBOrdering{{Field: "username", Ascending: true}})
		require.NoError(t, err)
		assert.Equal(t, []string{alice.ID, bob.ID}, userIDs(users))

		users, err = repos.Users.QueryUsers(ctx, &user.QueryFilter{Search: "LI"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{alice.ID}, userIDs(users))

		users, err = repos.Users.QueryUsers(ctx, &user.QueryFilter{CreatedFrom: at(1), CreatedTo: at(1)}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{alice.ID}, userIDs(users))
	})

	t.Run("update", func(t *testing.T) {
		upd := alice
		upd.Username = "alicia"
		upd.Email = "alicia@test.cd"
		upd.PasswordHash = nil
		upd.UpdatedAt = at(10)
		upd.LastLogin = at(10)
		got, err := repos.Users.UpdateUser(ctx, upd)
		require.NoError(t, err)
		assert.Equal(t, "alicia", got.Username)
		assert.Equal(t, "alicia@test.cd", got.Email)
		assert.Equal(t, user.RoleStudent, got.Role)
		assert.Equal(t, at(10), got.LastLogin)
		assert.Equal(t, alice.PasswordHash, got.PasswordHash)

		upd.Username = "bob"
		_, err = repos.Users.UpdateUser(ctx, upd)
		assert.Equal(t, user.ErrUsernameExists, errors.Cause(err))

		_, err = repos.Users.UpdateUser(ctx, user.User{ID: "unknown", Username: "ghost"})
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("delete", func(t *testing.T) {
		n, err := repos.Users.DeleteUsersByID(ctx, []string{bob.ID, "unknown"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = repos.Users.GetUser(ctx, user.GetFilter{ID: bob.ID})
		assert.True(t, core.IsNotFound(err))
	})
}

func testClasses(t *testing.T, repos Repos) {
	ctx := context.Background()
	admin := newUser(t, repos, "admin", user.RoleAdmin, at(0))
	other := newUser(t, repos, "other", user.RoleAdmin, at(0))

	maths := newClass(t, repos, admin, "Maths", at(1))
	physics := newClass(t, repos, admin, "Physics", at(2))
	history := newClass(t, repos, other, "History", at(3))

	got, err := repos.Classes.GetClass(ctx, maths.ID)
	require.NoError(t, err)
	assert.Equal(t, maths, got)

	_, err = repos.Classes.GetClass(ctx, "unknown")
	assert.Equal(t, classroom.ErrClassNotFound, err)

	classes, err := repos.Classes.QueryClasses(ctx, classroom.ClassFilter{OwnerID: admin.ID})
	require.NoError(t, err)
	assert.Equal(t, []classroom.Class{physics, maths}, classes)

	classes, err = repos.Classes.QueryClasses(ctx, classroom.ClassFilter{IDs: []string{history.ID, maths.ID}})
	require.NoError(t, err)
	assert.Equal(t, []classroom.Class{history, maths}, classes)

	classes, err = repos.Classes.QueryClasses(ctx, classroom.ClassFilter{IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, classes)

	maths.Name = "Mathematics"
	maths.Description = "Numbers"
	maths.UpdatedAt = at(10)
	updated, err := repos.Classes.UpdateClass(ctx, maths)
	require.NoError(t, err)
	assert.Equal(t, maths, updated)

	_, err = repos.Classes.UpdateClass(ctx, classroom.Class{ID: "unknown"})
	assert.Equal(t, classroom.ErrClassNotFound, err)

	_, err = repos.Classes.DeleteClass(ctx, "unknown")
	assert.Equal(t, classroom.ErrClassNotFound, errors.Cause(err))
}

func testEnrollments(t *testing.T, repos Repos) {
	ctx := context.Background()
	admin := newUser(t, repos, "admin", user.RoleAdmin, at(0))
	cls := newClass(t, repos, admin, "Maths", at(1))
	alice := newUser(t, repos, "alice", user.RoleStudent, at(2))
	bob := newUser(t, repos, "bob", user.RoleStudent, at(3))

	enroll(t, repos, cls, bob, at(5))
	enroll(t, repos, cls, alice, at(6))

	// joining again keeps the first enrollment
	enr, err := repos.Classes.UpsertEnrollment(ctx, classroom.Enrollment{StudentID: bob.ID, ClassID: cls.ID, JoinedAt: at(9)})
	require.NoError(t, err)
	assert.Equal(t, at(5), enr.JoinedAt)

	_, err = repos.Classes.UpsertEnrollment(ctx, classroom.Enrollment{StudentID: bob.ID, ClassID: "unknown", JoinedAt: at(9)})
	assert.Equal(t, classroom.ErrClassNotFound, errors.Cause(err))

	enr, err = repos.Classes.GetEnrollment(ctx, cls.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, classroom.Enrollment{StudentID: alice.ID, ClassID: cls.ID, JoinedAt: at(6)}, enr)

	_, err = repos.Classes.GetEnrollment(ctx, cls.ID, admin.ID)
	assert.Equal(t, classroom.ErrEnrollmentNotFound, err)

	enrs, err := repos.Classes.QueryEnrollments(ctx, classroom.EnrollmentFilter{ClassID: cls.ID})
	require.NoError(t, err)
	require.Len(t, enrs, 2)
	assert.Equal(t, bob.ID, enrs[0].StudentID)
	assert.Equal(t, alice.ID, enrs[1].StudentID)

	enrs, err = repos.Classes.QueryEnrollments(ctx, classroom.EnrollmentFilter{StudentID: alice.ID})
	require.NoError(t, err)
	assert.Len(t, enrs, 1)

	t.Run("joined classes view", func(t *testing.T) {
		usr, err := repos.Users.GetUser(ctx, user.GetFilter{ID: alice.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{cls.ID}, usr.JoinedClasses)

		members, err := repos.Users.QueryUsers(ctx, &user.QueryFilter{JoinedClass: cls.ID}, []core.DBOrdering{{Field: "username", Ascending: true}})
		require.NoError(t, err)
		assert.Equal(t, []string{alice.ID, bob.ID}, userIDs(members))
	})

	t.Run("joined at creation", func(t *testing.T) {
		carol := newUser(t, repos, "carol", user.RoleStudent, at(20), cls.ID)
		assert.Equal(t, []string{cls.ID}, carol.JoinedClasses)
	})
}

func testSubmissions(t *testing.T, repos Repos) {
	ctx := context.Background()
	admin := newUser(t, repos, "admin", user.RoleAdmin, at(0))
	cls := newClass(t, repos, admin, "Maths", at(1))
	alice := newUser(t, repos, "alice", user.RoleStudent, at(2))
	bob := newUser(t, repos, "bob", user.RoleStudent, at(3))

	a1 := newAssignment(t, repos, cls, "Algebra", at(4))
	a2 := newAssignment(t, repos, cls, "Geometry", at(5))

	_, err := repos.Classes.CreateAssignment(ctx, classroom.Assignment{ClassID: "unknown", Title: "x", CreatedAt: at(6)})
	assert.Equal(t, classroom.ErrClassNotFound, errors.Cause(err))

	asgmts, err := repos.Classes.QueryAssignments(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, []classroom.Assignment{a2, a1}, asgmts)

	a1.Title = "Linear algebra"
	a1.DueDate = "next monday"
	updated, err := repos.Classes.UpdateAssignment(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, a1, updated)

	got, err := repos.Classes.GetAssignment(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, a1, got)

	_, err = repos.Classes.GetAssignment(ctx, "unknown")
	assert.Equal(t, classroom.ErrAssignmentNotFound, err)

	s1 := newSubmission(t, repos, a1, alice, "one.pdf")
	s2 := newSubmission(t, repos, a2, bob, "two.pdf")
	s3 := newSubmission(t, repos, a1, alice, "three.pdf")
	s4 := newSubmission(t, repos, a1, bob, "four.pdf")

	_, err = repos.Classes.CreateSubmission(ctx, classroom.Submission{AssignmentID: "unknown", StudentID: alice.ID, CreatedAt: base})
	assert.Equal(t, classroom.ErrAssignmentNotFound, errors.Cause(err))

	ids := func(subs []classroom.Submission) []string {
		res := make([]string, 0, len(subs))
		for _, s := range subs {
			res = append(res, s.ID)
		}
		return res
	}

	subs, err := repos.Classes.QuerySubmissions(ctx, classroom.SubmissionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{s1.ID, s2.ID, s3.ID, s4.ID}, ids(subs))

	subs, err = repos.Classes.QuerySubmissions(ctx, classroom.SubmissionFilter{AssignmentIDs: []string{a1.ID}, StudentIDs: []string{alice.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{s1.ID, s3.ID}, ids(subs))

	n, err := repos.Classes.SetMarks(ctx, a1.ID, alice.ID, 85)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repos.Classes.SetMarks(ctx, a2.ID, alice.ID, 85)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got1, err := repos.Classes.GetSubmission(ctx, s3.ID)
	require.NoError(t, err)
	require.NotNil(t, got1.Marks)
	assert.Equal(t, 85, *got1.Marks)
	assert.Equal(t, s3.FilePath, got1.FilePath)

	got4, err := repos.Classes.GetSubmission(ctx, s4.ID)
	require.NoError(t, err)
	assert.Nil(t, got4.Marks)

	_, err = repos.Classes.GetSubmission(ctx, "unknown")
	assert.Equal(t, classroom.ErrSubmissionNotFound, err)

	cascade, err := repos.Classes.DeleteAssignment(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cascade.Assignments)
	assert.ElementsMatch(t, []string{s1.ID, s3.ID, s4.ID}, ids(cascade.Submissions))

	subs, err = repos.Classes.QuerySubmissions(ctx, classroom.SubmissionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{s2.ID}, ids(subs))

	_, err = repos.Classes.DeleteAssignment(ctx, a1.ID)
	assert.Equal(t, classroom.ErrAssignmentNotFound, errors.Cause(err))
}

func testCascades(t *testing.T, repos Repos) {
	ctx := context.Background()
	admin := newUser(t, repos, "admin", user.RoleAdmin, at(0))
	maths := newClass(t, repos, admin, "Maths", at(1))
	physics := newClass(t, repos, admin, "Physics", at(2))
	alice := newUser(t, repos, "alice", user.RoleStudent, at(3))
	bob := newUser(t, repos, "bob", user.RoleStudent, at(4))
	enroll(t, repos, maths, alice, at(5))
	enroll(t, repos, maths, bob, at(5))
	enroll(t, repos, physics, alice, at(5))

	a1 := newAssignment(t, repos, maths, "Algebra", at(6))
	a2 := newAssignment(t, repos, maths, "Geometry", at(7))
	kept := newAssignment(t, repos, physics, "Optics", at(8))
	newSubmission(t, repos, a1, alice, "a.pdf")
	newSubmission(t, repos, a2, bob, "b.pdf")
	keptSub := newSubmission(t, repos, kept, alice, "c.pdf")

	cascade, err := repos.Classes.DeleteClass(ctx, maths.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cascade.Assignments)
	assert.Equal(t, 2, cascade.Enrollments)
	assert.Len(t, cascade.Submissions, 2)

	_, err = repos.Classes.GetClass(ctx, maths.ID)
	assert.Equal(t, classroom.ErrClassNotFound, err)
	_, err = repos.Classes.GetAssignment(ctx, a1.ID)
	assert.Equal(t, classroom.ErrAssignmentNotFound, err)
	_, err = repos.Classes.GetEnrollment(ctx, maths.ID, bob.ID)
	assert.Equal(t, classroom.ErrEnrollmentNotFound, err)

	subs, err := repos.Classes.QuerySubmissions(ctx, classroom.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, keptSub.ID, subs[0].ID)

	usr, err := repos.Users.GetUser(ctx, user.GetFilter{ID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{physics.ID}, usr.JoinedClasses)

	t.Run("deleting a student", func(t *testing.T) {
		_, err := repos.Users.DeleteUsersByID(ctx, []string{alice.ID})
		require.NoError(t, err)

		enrs, err := repos.Classes.QueryEnrollments(ctx, classroom.EnrollmentFilter{ClassID: physics.ID})
		require.NoError(t, err)
		assert.Empty(t, enrs)

		subs, err := repos.Classes.QuerySubmissions(ctx, classroom.SubmissionFilter{})
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func testFeedback(t *testing.T, repos Repos) {
	ctx := context.Background()

	first, err := repos.Feedback.CreateFeedback(ctx, feedback.Feedback{
		UserID: "u1", Username: "alice", Rating: 5, Message: "Great", CreatedAt: at(1),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := repos.Feedback.CreateFeedback(ctx, feedback.Feedback{
		UserID: "u2", Username: "bob", Rating: 2, Message: "Meh", CreatedAt: at(2),
	})
	require.NoError(t, err)

	fbs, err := repos.Feedback.QueryFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, []feedback.Feedback{second, first}, fbs)
}
