package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/testutil"
)

func TestService_Register(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.CreateUser(t, env.UserRepo, "taken", "", user.RoleStudent)

	tests := []struct {
		name       string
		nu         user.NewUser
		wantFields []string
	}{
		{name: "missing fields", nu: user.NewUser{}, wantFields: []string{"username", "password", "password_confirm"}},
		{
			name:       "username too short",
			nu:         user.NewUser{Username: "ab", Password: testutil.Password, PasswordConfirm: testutil.Password},
			wantFields: []string{"username"},
		},
		{
			name:       "username with spaces",
			nu:         user.NewUser{Username: "jo hn", Password: testutil.Password, PasswordConfirm: testutil.Password},
			wantFields: []string{"username"},
		},
		{
			name:       "passwords mismatch",
			nu:         user.NewUser{Username: "john", Password: testutil.Password, PasswordConfirm: "Other!2024"},
			wantFields: []string{"password_confirm"},
		},
		{
			name:       "password too short",
			nu:         user.NewUser{Username: "john", Password: "Ab!1", PasswordConfirm: "Ab!1"},
			wantFields: []string{"password"},
		},
		{
			name:       "password all numeric",
			nu:         user.NewUser{Username: "john", Password: "12345678", PasswordConfirm: "12345678"},
			wantFields: []string{"password"},
		},
		{
			name:       "password like username",
			nu:         user.NewUser{Username: "johnathan", Password: "johnathan1", PasswordConfirm: "johnathan1"},
			wantFields: []string{"password"},
		},
		{
			name:       "invalid email",
			nu:         user.NewUser{Username: "john", Email: "john", Password: testutil.Password, PasswordConfirm: testutil.Password},
			wantFields: []string{"email"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.UserSvc.Register(ctx, tt.nu)
			require.Error(t, err)
			fields := validationFields(t, err)
			for _, f := range tt.wantFields {
				assert.Contains(t, fields, f)
			}
		})
	}

	t.Run("username taken (case insensitive)", func(t *testing.T) {
		_, err := env.UserSvc.Register(ctx, user.NewUser{Username: " TAKEN ", Password: testutil.Password, PasswordConfirm: testutil.Password})
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, user.ErrUsernameExists, vErr.Err)
	})

	t.Run("success", func(t *testing.T) {
		usr, err := env.UserSvc.Register(ctx, user.NewUser{
			Username:        " John_Doe ",
			Email:           "JOHN@test.cd",
			Password:        testutil.Password,
			PasswordConfirm: testutil.Password,
			Role:            user.RoleAdmin, // ignored
		})
		require.NoError(t, err)
		assert.NotEmpty(t, usr.ID)
		assert.Equal(t, "john_doe", usr.Username)
		assert.Equal(t, "john@test.cd", usr.Email)
		assert.Equal(t, user.RoleStudent, usr.Role)
		assert.NoError(t, usr.CheckPassword(testutil.Password))
		assert.Equal(t, "https://i.pravatar.cc/40?u="+usr.ID, usr.AvatarURL())
	})
}

func TestService_Create(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin, err := env.UserSvc.Create(ctx, user.NewUser{
		Username: "boss", Password: testutil.Password, PasswordConfirm: testutil.Password, Role: user.RoleAdmin,
	})
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	_, err = env.UserSvc.Create(ctx, user.NewUser{
		Username: "other", Password: testutil.Password, PasswordConfirm: testutil.Password, Role: "janitor",
	})
	assert.NotEmpty(t, validationFields(t, err))
}

func TestService_Authenticate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.UserRepo, "alice", "", user.RoleStudent)
	require.True(t, usr.LastLogin.IsZero())

	_, err := env.UserSvc.Authenticate(ctx, "alice", "wrong")
	assert.Equal(t, user.ErrAuthenticationFailed, err)

	_, err = env.UserSvc.Authenticate(ctx, "bob", testutil.Password)
	assert.Equal(t, user.ErrAuthenticationFailed, err)

	logged, err := env.UserSvc.Authenticate(ctx, " ALICE ", testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, usr.ID, logged.ID)
	assert.False(t, logged.LastLogin.IsZero())
}

func TestService_UpdateProfile(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.UserRepo, "alice", "alice@test.cd", user.RoleStudent)
	testutil.CreateUser(t, env.UserRepo, "bob", "", user.RoleStudent)
	strPtr := func(s string) *string { return &s }

	_, err := env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{})
	assert.Equal(t, user.ErrNoChanges, err)

	_, err = env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{Username: "BOB"})
	assert.Contains(t, validationFields(t, err), "username")

	_, err = env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{Password: "Newpass!99"})
	assert.Contains(t, validationFields(t, err), "password_confirm")

	_, err = env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{Avatar: strPtr("not a url")})
	assert.Contains(t, validationFields(t, err), "avatar")

	_, err = env.UserSvc.UpdateProfile(ctx, "unknown", user.UpdateUser{Username: "carol"})
	assert.True(t, core.IsNotFound(err))

	updated, err := env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{
		Username:        "Alice2",
		Email:           strPtr(""),
		Avatar:          strPtr("https://example.com/a.png"),
		Password:        "Newpass!99",
		PasswordConfirm: "Newpass!99",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice2", updated.Username)
	assert.Empty(t, updated.Email)
	assert.Equal(t, "https://example.com/a.png", updated.AvatarURL())
	assert.NoError(t, updated.CheckPassword("Newpass!99"))

	// same username as before is not a conflict
	_, err = env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{Username: "alice2", Email: strPtr("a@test.cd")})
	assert.NoError(t, err)

	t.Run("clear email and avatar", func(t *testing.T) {
		cleared, err := env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{Email: strPtr("  "), Avatar: strPtr("")})
		require.NoError(t, err)
		assert.Empty(t, cleared.Email)
		assert.Empty(t, cleared.Avatar)
		assert.NotEqual(t, "https://example.com/a.png", cleared.AvatarURL(), "falls back to the placeholder")

		_, err = env.UserSvc.UpdateProfile(ctx, usr.ID, user.UpdateUser{Email: strPtr("not an email")})
		assert.Contains(t, validationFields(t, err), "email")
	})
}

func TestService_SetPassword(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.CreateUser(t, env.UserRepo, "alice", "", user.RoleAdmin)

	require.NoError(t, env.UserSvc.SetPassword(ctx, "alice", "simple"))
	_, err := env.UserSvc.Authenticate(ctx, "alice", "simple")
	assert.NoError(t, err)

	assert.True(t, core.IsNotFound(env.UserSvc.SetPassword(ctx, "nobody", "simple")))
}

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.Tick(t, core.NowFunc(), time.Minute)

	admin := testutil.CreateUser(t, env.UserRepo, "admin", "", user.RoleAdmin)
	alice := testutil.CreateUser(t, env.UserRepo, "alice", "", user.RoleStudent)
	bob := testutil.CreateUser(t, env.UserRepo, "bob", "", user.RoleStudent, "legacy-class")

	ids := func(users []user.User) []string {
		res := make([]string, 0, len(users))
		for _, u := range users {
			res = append(res, u.ID)
		}
		return res
	}

	tests := []struct {
		name     string
		filter   *user.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all, newest first", want: []string{bob.ID, alice.ID, admin.ID}},
		{name: "students", filter: &user.QueryFilter{Role: user.RoleStudent}, want: []string{bob.ID, alice.ID}},
		{name: "search", filter: &user.QueryFilter{Search: "LIC"}, want: []string{alice.ID}},
		{name: "class", filter: &user.QueryFilter{JoinedClass: "legacy-class"}, want: []string{bob.ID}},
		{name: "created from", filter: &user.QueryFilter{CreatedFrom: alice.CreatedAt}, want: []string{bob.ID, alice.ID}},
		{
			name:     "ordering by username",
			ordering: []core.DBOrdering{{Field: "username", Ascending: true}},
			want:     []string{admin.ID, alice.ID, bob.ID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := env.UserSvc.Query(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(users))
		})
	}
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var fields []string
	var vErrs validator.ValidationErrors
	var vErr *core.ValidationError
	switch {
	case errors.As(err, &vErrs):
		for _, fe := range vErrs {
			fields = append(fields, fe.Field())
		}
	case errors.As(err, &vErr):
		for _, fe := range vErr.Fields {
			fields = append(fields, fe.Field)
		}
	default:
		t.Fatalf("expected a validation error, got %v", err)
	}
	return fields
}
