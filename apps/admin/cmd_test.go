package main

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/testutil"
)

type cliTest struct {
	name      string
	args      []string // without program name
	passwords []string
	wantErr   error
	wantMsg   string
}

func setup(t *testing.T) (*testutil.Env, *commandLine) {
	env := testutil.NewEnv(t)
	return env, &commandLine{usrSvc: env.UserSvc}
}

// mockPasswords makes readPasswordFunc return pwds in order, then empty input.
func mockPasswords(t *testing.T, pwds ...string) {
	orig := readPasswordFunc
	t.Cleanup(func() { readPasswordFunc = orig })

	readPasswordFunc = func(fd int) ([]byte, error) {
		if len(pwds) == 0 {
			return nil, nil
		}
		pwd := pwds[0]
		pwds = pwds[1:]
		return []byte(pwd), nil
	}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPasswords(t, tt.passwords...)
			err := cli.run(append([]string{"admin"}, tt.args...))
			if tt.wantMsg != "" {
				assert.EqualError(t, err, tt.wantMsg)
				return
			}
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantErr, errors.Cause(err))
		})
	}
}

func Test_commandLine_help(t *testing.T) {
	_, cli := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"adduser", "-lol"}, wantErr: errHelp},
	})
}

func Test_commandLine_addUser(t *testing.T) {
	env, cli := setup(t)
	env.CreateStudent(t, "taken")

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "root"}, wantErr: errHelp},
		{
			name:      "username taken",
			args:      []string{"adduser", "-username", "Taken"},
			passwords: []string{testutil.Password, testutil.Password},
			wantMsg:   "username already taken",
		},
		{
			name:      "admin",
			args:      []string{"adduser", "-username", "Root", "-email", "root@test.cd", "-admin"},
			passwords: []string{testutil.Password, testutil.Password},
		},
		{
			name:      "student",
			args:      []string{"adduser", "-username", "kid"},
			passwords: []string{testutil.Password, testutil.Password},
		},
	})

	ctx := context.Background()
	root, err := env.UserSvc.GetByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, root.Role)
	assert.Equal(t, "root@test.cd", root.Email)
	assert.NoError(t, root.CheckPassword(testutil.Password))

	kid, err := env.UserSvc.GetByUsername(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, user.RoleStudent, kid.Role)

	t.Run("passwords mismatch", func(t *testing.T) {
		mockPasswords(t, testutil.Password, "Other!2024")
		err := cli.run([]string{"admin", "adduser", "-username", "other"})
		assert.Error(t, err)
		_, err = env.UserSvc.GetByUsername(ctx, "other")
		assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	env, cli := setup(t)
	usr := env.CreateStudent(t, "awe")

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, passwords: []string{"lol"}, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-username", "AWE"}, passwords: []string{"lmao"}},
	})

	refreshed, err := env.UserSvc.GetByID(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.NotEqual(t, usr.PasswordHash, refreshed.PasswordHash)
	assert.NoError(t, refreshed.CheckPassword("lmao"))
}

func Test_commandLine_migrate(t *testing.T) {
	_, cli := setup(t)

	var gotCommand string
	var gotArgs []string
	orig := migrateFunc
	t.Cleanup(func() { migrateFunc = orig })
	migrateFunc = func(db *sqlx.DB, command string, args ...string) error {
		gotCommand, gotArgs = command, args
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "without postgres", args: []string{"migrate", "up"}, wantErr: errNoSQL},
	})

	t.Run("runs the goose command", func(t *testing.T) {
		cli.db = &sqlx.DB{}
		defer func() { cli.db = nil }()

		require.NoError(t, cli.run([]string{"admin", "migrate", "up-to", "2"}))
		assert.Equal(t, "up-to", gotCommand)
		assert.Equal(t, []string{"2"}, gotArgs)
	})
}
