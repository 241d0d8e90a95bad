package user

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrNotFound             = core.NewNotFoundError("user")
	ErrUsernameExists       = errors.New("username already taken")
	ErrAuthenticationFailed = errors.New("invalid username or password")
	ErrNoChanges            = errors.New("no changes made")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on User.Username.
		// QueryFilter.JoinedClass matches users whose JoinedClasses contain the class.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		GetUsersByID(ctx context.Context, ids []string) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids []string) (int, error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
	}
)

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{repo: repo, validate: validate}
}

// CheckUniqueness returns a ValidationError when username is already in use by another user.
func (svc *Service) CheckUniqueness(username string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), username, exclUsers...); err != nil {
		if err == ErrUsernameExists {
			return core.NewValidationError(err, core.FieldError{Field: "username", Error: err.Error()})
		}
		return err
	}
	return nil
}

// Register creates a student account.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	nu.Role = RoleStudent
	return svc.Create(ctx, nu)
}

// Create validates nu and creates the user with nu.Role (student when empty).
func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if nu.Role == "" {
		nu.Role = RoleStudent
	}
	if err := nu.Validate(svc.validate, svc); err != nil {
		return User{}, err
	}

	now := core.NowFunc()
	usr := User{
		Username:  nu.Username,
		Email:     nu.Email,
		Role:      nu.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Authenticate checks the credentials and records the login time.
func (svc *Service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.GetByUsername(ctx, uname)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrAuthenticationFailed
		}
		return User{}, errors.Wrap(err, "finding user by username")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrAuthenticationFailed
	}

	usr.LastLogin = core.NowFunc()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) GetMany(ctx context.Context, ids ...string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	return svc.repo.GetUsersByID(ctx, ids)
}

// UpdateProfile applies uu to the user identified by id.
// ErrNoChanges is returned when uu does not change anything.
func (svc *Service) UpdateProfile(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err = uu.Validate(usr, svc.validate, svc); err != nil {
		return User{}, err
	}
	if uu.IsEmpty(usr) {
		return usr, ErrNoChanges
	}

	usr.Username = uu.Username
	if uu.Email != nil {
		usr.Email = *uu.Email
	}
	if uu.Avatar != nil {
		usr.Avatar = *uu.Avatar
	}
	if uu.Password != "" {
		if err = usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "hashing password")
		}
	}
	usr.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateUser(ctx, usr)
}

// SetPassword replaces the password of the given user without applying the password policy.
func (svc *Service) SetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := svc.GetByUsername(ctx, uname)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = core.NowFunc()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteUsersByID(ctx, ids)
	return err
}
