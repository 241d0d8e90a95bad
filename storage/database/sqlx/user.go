package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

const userColumns = `u.id, u.username, u.email, u.avatar, u.role, u.password_hash, u.created_at, u.updated_at, u.last_login,
	ARRAY(SELECT e.class_id FROM enrollments e WHERE e.student_id = u.id ORDER BY e.joined_at) AS joined_classes`

// userOrderings lists the columns users can be ordered by.
var userOrderings = map[string]string{
	"username":   "u.username",
	"role":       "u.role",
	"created_at": "u.created_at",
	"updated_at": "u.updated_at",
	"last_login": "u.last_login",
}

type userRow struct {
	ID            string         `db:"id"`
	Username      string         `db:"username"`
	Email         null.String    `db:"email"`
	Avatar        null.String    `db:"avatar"`
	Role          string         `db:"role"`
	PasswordHash  []byte         `db:"password_hash"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	LastLogin     null.Time      `db:"last_login"`
	JoinedClasses pq.StringArray `db:"joined_classes"`
}

func (r userRow) user() user.User {
	usr := user.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email.String,
		Avatar:       r.Avatar.String,
		Role:         r.Role,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time.UTC()
	}
	if len(r.JoinedClasses) > 0 {
		usr.JoinedClasses = r.JoinedClasses
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username string, excludedUsers ...user.User) error {
	query := "SELECT EXISTS (SELECT 1 FROM users WHERE username = ?"
	args := []interface{}{username}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		query += " AND id NOT IN (?)"
		args = append(args, ids)
	}
	query += ")"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	var exists bool
	if err = repo.db.GetContext(ctx, &exists, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	if exists {
		return user.ErrUsernameExists
	}
	return nil
}

// CreateUser inserts the user. Classes listed in usr.JoinedClasses are joined at creation time.
func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.NewString()
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, username, email, avatar, role, password_hash, created_at, updated_at, last_login)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			usr.ID,
			usr.Username,
			null.NewString(usr.Email, usr.Email != ""),
			null.NewString(usr.Avatar, usr.Avatar != ""),
			usr.Role,
			usr.PasswordHash,
			usr.CreatedAt.UTC(),
			usr.UpdatedAt.UTC(),
			null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
		)
		if err != nil {
			if pqCode(err) == codeUniqueViolation {
				return user.ErrUsernameExists
			}
			return errors.Wrap(err, "inserting user")
		}

		if len(usr.JoinedClasses) > 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO enrollments (student_id, class_id, joined_at)
				SELECT $1, c.id, $2 FROM classes c WHERE c.id = ANY($3)
				ON CONFLICT DO NOTHING`,
				usr.ID, usr.CreatedAt.UTC(), pq.Array(usr.JoinedClasses),
			)
			if err != nil {
				return errors.Wrap(err, "inserting enrollments")
			}
		}
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		if filter.Search != "" {
			where = append(where, "u.username ILIKE ?")
			args = append(args, "%"+filter.Search+"%")
		}
		if filter.Role != "" {
			where = append(where, "u.role = ?")
			args = append(args, filter.Role)
		}
		if filter.JoinedClass != "" {
			where = append(where, "EXISTS (SELECT 1 FROM enrollments e WHERE e.student_id = u.id AND e.class_id = ?)")
			args = append(args, filter.JoinedClass)
		}
		if !filter.CreatedFrom.IsZero() {
			where = append(where, "u.created_at >= ?")
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			where = append(where, "u.created_at <= ?")
			args = append(args, filter.CreatedTo.UTC())
		}
	}

	query := "SELECT " + userColumns + " FROM users u"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderBy(ordering)

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	return usersFromRows(rows), nil
}

// orderBy renders the ordering clause; unknown fields are skipped.
func orderBy(ordering []core.DBOrdering) string {
	clauses := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		col, ok := userOrderings[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "u.created_at DESC")
	}
	return strings.Join(append(clauses, "u.id"), ", ")
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ID != "" {
		where = append(where, "u.id = ?")
		args = append(args, filter.ID)
	}
	if filter.Username != "" {
		where = append(where, "u.username = ?")
		args = append(args, filter.Username)
	}
	if len(where) == 0 {
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	query := "SELECT " + userColumns + " FROM users u WHERE " + strings.Join(where, " AND ")
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind(query), args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "selecting user")
	}
	return row.user(), nil
}

func (repo *userRepository) GetUsersByID(ctx context.Context, ids []string) ([]user.User, error) {
	if len(ids) == 0 {
		return []user.User{}, nil
	}
	var rows []userRow
	err := selectIn(ctx, repo.db, &rows, "SELECT "+userColumns+" FROM users u WHERE u.id IN (?) ORDER BY u.created_at", ids)
	if err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	return usersFromRows(rows), nil
}

// UpdateUser saves the profile fields. Role and joined classes are not updatable;
// the password hash is kept when usr carries none.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE users
		SET username = $1, email = $2, avatar = $3, password_hash = COALESCE($4, password_hash),
			updated_at = $5, last_login = $6
		WHERE id = $7`,
		usr.Username,
		null.NewString(usr.Email, usr.Email != ""),
		null.NewString(usr.Avatar, usr.Avatar != ""),
		null.BytesFrom(usr.PasswordHash),
		usr.UpdatedAt.UTC(),
		null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
		usr.ID,
	)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	} else if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

// DeleteUsersByID deletes the users with their enrollments and submissions.
func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return int(n), nil
}

func usersFromRows(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users
}
