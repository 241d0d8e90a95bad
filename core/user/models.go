package user

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/darasa/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

var (
	AllRoles = []string{RoleAdmin, RoleStudent}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Admin", Value: RoleAdmin},
	}

	avatarPlaceholderURL = "https://i.pravatar.cc/40?u="
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Role         string    `json:"role"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC

	// JoinedClasses is a read view of the user's enrollments.
	// Storage backends fill it; it is never written on its own.
	JoinedClasses []string `json:"joined_classes,omitempty"`
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u User) IsStudent() bool { return u.Role == RoleStudent }

// AvatarURL returns the user's avatar or a placeholder derived from their ID.
func (u User) AvatarURL() string {
	if u.Avatar != "" {
		return u.Avatar
	}
	return avatarPlaceholderURL + u.ID
}

// InClass reports whether classID is among the user's joined classes.
func (u User) InClass(classID string) bool {
	for _, id := range u.JoinedClasses {
		if id == classID {
			return true
		}
	}
	return false
}

// Identity is the caller resolved from a request's credentials.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

func (id Identity) IsAdmin() bool   { return id.Role == RoleAdmin }
func (id Identity) IsStudent() bool { return id.Role == RoleStudent }

// CanView reports whether the caller may read the records of the given user.
func (id Identity) CanView(userID string) bool {
	return id.IsAdmin() || (id.UserID != "" && id.UserID == userID)
}

func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

type uniquenessChecker interface {
	CheckUniqueness(username string, excludedUsers ...User) error
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Username        string `json:"username" validate:"required,min=3,max=50,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string `json:"-" validate:"omitempty,oneof=admin student"`
}

func (nu *NewUser) Validate(validate *validator.Validate, svc uniquenessChecker) error {
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(nu.Username)
}

// UpdateUser defines what information may be provided to modify an existing User's profile.
type UpdateUser struct {
	Username        string  `json:"username" validate:"omitempty,min=3,max=50,alphanum_"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Avatar          *string `json:"avatar" validate:"omitempty,url"`
	Password        string  `json:"password" validate:"omitempty"`
	PasswordConfirm string  `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(origUsr User, validate *validator.Validate, svc uniquenessChecker) error {
	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}
	if uu.Email != nil {
		email := core.CleanString(*uu.Email, true /* lower */)
		uu.Email = &email
	}
	if uu.Avatar != nil {
		avatar := core.CleanString(*uu.Avatar)
		uu.Avatar = &avatar
	}

	// an empty email or avatar clears it: only non-empty values are checked
	email, avatar := uu.Email, uu.Avatar
	if email != nil && *email == "" {
		uu.Email = nil
	}
	if avatar != nil && *avatar == "" {
		uu.Avatar = nil
	}
	err := validate.Struct(uu)
	uu.Email, uu.Avatar = email, avatar
	if err != nil {
		return err
	}
	return svc.CheckUniqueness(uu.Username, origUsr)
}

// IsEmpty reports whether the update carries no change for usr.
func (uu UpdateUser) IsEmpty(usr User) bool {
	return uu.Username == usr.Username &&
		uu.Password == "" &&
		(uu.Email == nil || *uu.Email == usr.Email) &&
		(uu.Avatar == nil || *uu.Avatar == usr.Avatar)
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Role        string    `query:"role"`
	JoinedClass string    `query:"class"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Role = core.CleanString(qf.Role, true /* lower */)
	qf.JoinedClass = core.CleanString(qf.JoinedClass)
}

type GetFilter struct {
	ID       string
	Username string
}
