// Package testutil sets up in-memory services and fixtures for tests.
package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/feedback"
	"github.com/trezcool/darasa/core/progress"
	"github.com/trezcool/darasa/core/user"
	blobsvc "github.com/trezcool/darasa/services/blob"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
)

// Password satisfies the password policy for every fixture username.
const Password = "Qwerty!2024"

type Env struct {
	Conf       *core.Config
	DB         *inmemdb.DB
	Validate   *validator.Validate
	Translator ut.Translator
	Logger     core.Logger
	Blobs      core.BlobStore
	Mail       core.EmailService

	UserRepo     user.Repository
	ClassRepo    classroom.Repository
	FeedbackRepo feedback.Repository

	UserSvc     *user.Service
	ClassSvc    *classroom.Service
	ProgressSvc *progress.Service
	FeedbackSvc *feedback.Service
}

// NewConfig returns a TEST configuration that does not read the environment.
func NewConfig(t *testing.T) *core.Config {
	conf := &core.Config{
		Env:       "TEST",
		Build:     "test",
		AppName:   "Darasa",
		TestMode:  true,
		SecretKey: "secret",
		WorkDir:   t.TempDir(),
		Storage:   core.StorageMemory,
		Upload:    core.DefaultUploadPolicy(),
	}
	conf.Server.Host = "localhost"
	conf.Server.JWTExpirationDelta = 10 * time.Minute
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.Server.ShutdownTimeout = time.Second
	conf.Blob.Driver = core.BlobLocal
	conf.Blob.Dir = filepath.Join(conf.WorkDir, "uploads")
	conf.Email.DefaultFromName = "Darasa"
	conf.Email.DefaultFrom = "noreply@test.cd"
	return conf
}

// NewValidator returns a validator with every custom validation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// NewEnv wires the services over a fresh in-memory database and a temporary upload directory.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	conf := NewConfig(t)
	validate, translator := NewValidator()
	logger := logsvc.NewNopLogger()

	blobs, err := blobsvc.NewStore(context.Background(), conf)
	if err != nil {
		t.Fatalf("blobsvc.NewStore() failed: %v", err)
	}
	emailsvc.ResetSentMessages()
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	db := inmemdb.Open()
	env := &Env{
		Conf:         conf,
		DB:           db,
		Validate:     validate,
		Translator:   translator,
		Logger:       logger,
		Blobs:        blobs,
		Mail:         mailSvc,
		UserRepo:     inmemdb.NewUserRepository(db),
		ClassRepo:    inmemdb.NewClassroomRepository(db),
		FeedbackRepo: inmemdb.NewFeedbackRepository(db),
	}
	env.UserSvc = user.NewService(env.UserRepo, validate)
	env.ClassSvc = classroom.NewService(env.ClassRepo, env.UserSvc, blobs, mailSvc, logger, conf, validate)
	env.ProgressSvc = progress.NewService(env.ClassSvc, env.UserSvc)
	env.FeedbackSvc = feedback.NewService(env.FeedbackRepo, validate)
	return env
}

// CreateUser stores a user with the given role. joinedClasses seeds legacy class memberships.
func CreateUser(t *testing.T, repo user.Repository, uname, email, role string, joinedClasses ...string) user.User {
	t.Helper()

	now := core.NowFunc()
	usr := user.User{
		Username:      uname,
		Email:         email,
		Role:          role,
		CreatedAt:     now,
		UpdatedAt:     now,
		JoinedClasses: joinedClasses,
	}
	if err := usr.SetPassword(Password); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func (env *Env) CreateAdmin(t *testing.T, uname string) user.User {
	return CreateUser(t, env.UserRepo, uname, uname+"@test.cd", user.RoleAdmin)
}

func (env *Env) CreateStudent(t *testing.T, uname string, joinedClasses ...string) user.User {
	return CreateUser(t, env.UserRepo, uname, uname+"@test.cd", user.RoleStudent, joinedClasses...)
}

func (env *Env) CreateClass(t *testing.T, owner user.User, name string) classroom.Class {
	t.Helper()
	cls, err := env.ClassSvc.CreateClass(context.Background(), owner.Identity(), classroom.NewClass{Name: name})
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	return cls
}

func (env *Env) CreateAssignment(t *testing.T, owner user.User, cls classroom.Class, title string) classroom.Assignment {
	t.Helper()
	asgmt, err := env.ClassSvc.CreateAssignment(context.Background(), owner.Identity(), cls.ID, classroom.NewAssignment{Title: title})
	if err != nil {
		t.Fatalf("CreateAssignment() failed: %v", err)
	}
	return asgmt
}

func (env *Env) Join(t *testing.T, student user.User, cls classroom.Class) classroom.Enrollment {
	t.Helper()
	_, enr, err := env.ClassSvc.JoinClass(context.Background(), student.Identity(), classroom.JoinClass{ClassCode: cls.ID})
	if err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	return enr
}

func (env *Env) Submit(t *testing.T, student user.User, asgmt classroom.Assignment, filename, content string) classroom.Submission {
	t.Helper()
	sub, err := env.ClassSvc.Submit(context.Background(), student.Identity(), asgmt.ID, classroom.Upload{
		Filename: filename,
		Size:     int64(len(content)),
		Content:  strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	return sub
}

func (env *Env) SetMarks(t *testing.T, owner user.User, asgmt classroom.Assignment, student user.User, marks int) {
	t.Helper()
	_, err := env.ClassSvc.SetMarks(
		context.Background(), owner.Identity(), asgmt.ClassID, asgmt.ID, student.ID, classroom.MarksUpdate{Marks: marks},
	)
	if err != nil {
		t.Fatalf("SetMarks() failed: %v", err)
	}
}

// Tick advances core.NowFunc by d on every call, so that records get distinct timestamps.
// The original clock is restored when the test ends.
func Tick(t *testing.T, start time.Time, d time.Duration) {
	orig := core.NowFunc
	now := start.UTC()
	core.NowFunc = func() time.Time {
		now = now.Add(d)
		return now
	}
	t.Cleanup(func() { core.NowFunc = orig })
}
