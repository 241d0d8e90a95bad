package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

// view returns the user with its joined classes: its enrollments, then any legacy classes.
// db.mu must be held.
func (repo *userRepository) view(row *userRow) user.User {
	usr := row.User
	enrs := make([]string, 0)
	for _, enr := range repo.db.enrollments {
		if enr.StudentID == usr.ID {
			enrs = append(enrs, enr.ClassID)
		}
	}
	usr.JoinedClasses = lo.Uniq(append(enrs, row.legacyClasses...))
	if len(usr.JoinedClasses) == 0 {
		usr.JoinedClasses = nil
	}
	return usr
}

func (repo *userRepository) find(pred func(row *userRow) bool) (*userRow, bool) {
	return lo.Find(repo.db.users, pred)
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username string, excludedUsers ...user.User) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	excluded := lo.SliceToMap(excludedUsers, func(u user.User) (string, bool) { return u.ID, true })
	if _, ok := repo.find(func(row *userRow) bool { return row.Username == username && !excluded[row.ID] }); ok {
		return user.ErrUsernameExists
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.find(func(row *userRow) bool { return row.Username == usr.Username }); ok {
		return user.User{}, user.ErrUsernameExists
	}
	usr.ID = uuid.NewString()
	row := &userRow{User: usr, legacyClasses: usr.JoinedClasses}
	row.User.JoinedClasses = nil
	repo.db.users = append(repo.db.users, row)
	return repo.view(row), nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := make([]user.User, 0, len(repo.db.users))
	for _, row := range repo.db.users {
		usr := repo.view(row)
		if filter == nil || matches(usr, filter) {
			users = append(users, usr)
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			if c := compareUsers(users[i], users[j], ord.Field); c != 0 {
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return false
	})
	return users, nil
}

func matches(usr user.User, filter *user.QueryFilter) bool {
	if filter.Search != "" && !strings.Contains(usr.Username, strings.ToLower(filter.Search)) {
		return false
	}
	if filter.Role != "" && usr.Role != filter.Role {
		return false
	}
	if filter.JoinedClass != "" && !usr.InClass(filter.JoinedClass) {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func compareUsers(a, b user.User, field string) int {
	switch field {
	case "username":
		return strings.Compare(a.Username, b.Username)
	case "role":
		return strings.Compare(a.Role, b.Role)
	case "created_at":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	case "updated_at":
		return compareTimes(a.UpdatedAt, b.UpdatedAt)
	case "last_login":
		return compareTimes(a.LastLogin, b.LastLogin)
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	row, ok := repo.find(func(row *userRow) bool {
		return (filter.ID == "" || row.ID == filter.ID) &&
			(filter.Username == "" || row.Username == filter.Username) &&
			(filter.ID != "" || filter.Username != "")
	})
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return repo.view(row), nil
}

func (repo *userRepository) GetUsersByID(_ context.Context, ids []string) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	wanted := lo.SliceToMap(ids, func(id string) (string, bool) { return id, true })
	users := make([]user.User, 0, len(ids))
	for _, row := range repo.db.users {
		if wanted[row.ID] {
			users = append(users, repo.view(row))
		}
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	row, ok := repo.find(func(row *userRow) bool { return row.ID == usr.ID })
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if _, taken := repo.find(func(r *userRow) bool { return r.Username == usr.Username && r.ID != usr.ID }); taken {
		return user.User{}, user.ErrUsernameExists
	}

	// role and joined classes are not updatable
	row.Username = usr.Username
	row.Email = usr.Email
	row.Avatar = usr.Avatar
	if usr.PasswordHash != nil {
		row.PasswordHash = usr.PasswordHash
	}
	row.UpdatedAt = usr.UpdatedAt
	row.LastLogin = usr.LastLogin
	return repo.view(row), nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids []string) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	deleted := lo.SliceToMap(ids, func(id string) (string, bool) { return id, true })
	kept := repo.db.users[:0]
	var n int
	for _, row := range repo.db.users {
		if deleted[row.ID] {
			n++
			continue
		}
		kept = append(kept, row)
	}
	repo.db.users = kept
	repo.db.enrollments = lo.Reject(repo.db.enrollments, func(e classroom.Enrollment, _ int) bool { return deleted[e.StudentID] })
	repo.db.submissions = lo.Reject(repo.db.submissions, func(s *classroom.Submission, _ int) bool { return deleted[s.StudentID] })
	return n, nil
}
