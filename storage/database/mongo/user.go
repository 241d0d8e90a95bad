package mongorepos

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

// userOrderings lists the fields users can be ordered by.
var userOrderings = map[string]string{
	"username":   "username",
	"role":       "role",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"last_login": "last_login",
}

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id"`
	Username     string             `bson:"username"`
	Email        string             `bson:"email,omitempty"`
	Avatar       string             `bson:"avatar,omitempty"`
	Role         string             `bson:"role"`
	PasswordHash []byte             `bson:"password_hash"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at,omitempty"`
	LastLogin    time.Time          `bson:"last_login,omitempty"`

	// JoinedClasses is kept up to date for documents written before enrollments existed.
	JoinedClasses []primitive.ObjectID `bson:"joined_classes,omitempty"`
}

type userRepository struct {
	users       *mongo.Collection
	enrollments *mongo.Collection
	submissions *mongo.Collection
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{
		users:       db.Collection(usersCollection),
		enrollments: db.Collection(enrollmentsCollection),
		submissions: db.Collection(submissionsCollection),
	}
}

// view builds users from their documents, joined classes being the union of
// enrollments (in join order) and the legacy joined_classes arrays.
func (repo *userRepository) view(ctx context.Context, docs []userDoc) ([]user.User, error) {
	enrolled := make(map[primitive.ObjectID][]string)
	if len(docs) > 0 {
		ids := lo.Map(docs, func(d userDoc, _ int) primitive.ObjectID { return d.ID })
		cur, err := repo.enrollments.Find(ctx,
			bson.M{"student_id": bson.M{"$in": ids}},
			options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "_id", Value: 1}}),
		)
		if err != nil {
			return nil, errors.Wrap(err, "finding enrollments")
		}
		var enrs []enrollmentDoc
		if err = cur.All(ctx, &enrs); err != nil {
			return nil, errors.Wrap(err, "decoding enrollments")
		}
		for _, e := range enrs {
			enrolled[e.StudentID] = append(enrolled[e.StudentID], e.ClassID.Hex())
		}
	}

	users := make([]user.User, 0, len(docs))
	for _, d := range docs {
		usr := user.User{
			ID:           d.ID.Hex(),
			Username:     d.Username,
			Email:        d.Email,
			Avatar:       d.Avatar,
			Role:         d.Role,
			PasswordHash: d.PasswordHash,
			CreatedAt:    utc(d.CreatedAt),
			UpdatedAt:    utc(d.UpdatedAt),
			LastLogin:    utc(d.LastLogin),
		}
		if joined := lo.Uniq(append(enrolled[d.ID], hexes(d.JoinedClasses)...)); len(joined) > 0 {
			usr.JoinedClasses = joined
		}
		users = append(users, usr)
	}
	return users, nil
}

func (repo *userRepository) find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]user.User, error) {
	cur, err := repo.users.Find(ctx, filter, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "finding users")
	}
	var docs []userDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding users")
	}
	return repo.view(ctx, docs)
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username string, excludedUsers ...user.User) error {
	filter := bson.M{"username": username}
	if len(excludedUsers) > 0 {
		filter["_id"] = bson.M{"$nin": oids(lo.Map(excludedUsers, func(u user.User, _ int) string { return u.ID }))}
	}
	n, err := repo.users.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	if n > 0 {
		return user.ErrUsernameExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	doc := userDoc{
		ID:            primitive.NewObjectID(),
		Username:      usr.Username,
		Email:         usr.Email,
		Avatar:        usr.Avatar,
		Role:          usr.Role,
		PasswordHash:  usr.PasswordHash,
		CreatedAt:     usr.CreatedAt.UTC(),
		UpdatedAt:     usr.UpdatedAt.UTC(),
		LastLogin:     utc(usr.LastLogin),
		JoinedClasses: oids(usr.JoinedClasses),
	}
	if _, err := repo.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.GetUser(ctx, user.GetFilter{ID: doc.ID.Hex()})
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	query := bson.M{}
	if filter != nil {
		if filter.Search != "" {
			query["username"] = primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		}
		if filter.Role != "" {
			query["role"] = filter.Role
		}
		created := bson.M{}
		if !filter.CreatedFrom.IsZero() {
			created["$gte"] = filter.CreatedFrom.UTC()
		}
		if !filter.CreatedTo.IsZero() {
			created["$lte"] = filter.CreatedTo.UTC()
		}
		if len(created) > 0 {
			query["created_at"] = created
		}
		if filter.JoinedClass != "" {
			classID, ok := oid(filter.JoinedClass)
			if !ok {
				return []user.User{}, nil
			}
			students, err := repo.enrollments.Distinct(ctx, "student_id", bson.M{"class_id": classID})
			if err != nil {
				return nil, errors.Wrap(err, "finding class members")
			}
			query["$or"] = bson.A{
				bson.M{"joined_classes": classID},
				bson.M{"_id": bson.M{"$in": students}},
			}
		}
	}

	sort := bson.D{}
	for _, ord := range ordering {
		if field, ok := userOrderings[ord.Field]; ok {
			sort = append(sort, bson.E{Key: field, Value: direction(ord.Ascending)})
		}
	}
	if len(sort) == 0 {
		sort = append(sort, bson.E{Key: "created_at", Value: -1})
	}
	sort = append(sort, bson.E{Key: "_id", Value: 1})

	return repo.find(ctx, query, options.Find().SetSort(sort))
}

func direction(asc bool) int {
	if asc {
		return 1
	}
	return -1
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	query := bson.M{}
	if filter.ID != "" {
		id, ok := oid(filter.ID)
		if !ok {
			return user.User{}, user.ErrNotFound
		}
		query["_id"] = id
	}
	if filter.Username != "" {
		query["username"] = filter.Username
	}
	if len(query) == 0 {
		return user.User{}, user.ErrNotFound
	}

	var doc userDoc
	if err := repo.users.FindOne(ctx, query).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	users, err := repo.view(ctx, []userDoc{doc})
	if err != nil {
		return user.User{}, err
	}
	return users[0], nil
}

func (repo *userRepository) GetUsersByID(ctx context.Context, ids []string) ([]user.User, error) {
	if len(ids) == 0 {
		return []user.User{}, nil
	}
	return repo.find(ctx, bson.M{"_id": bson.M{"$in": oids(ids)}}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

// UpdateUser saves the profile fields. Role and joined classes are not updatable;
// the password hash is kept when usr carries none.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	id, ok := oid(usr.ID)
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	set := bson.M{
		"username":   usr.Username,
		"updated_at": usr.UpdatedAt.UTC(),
	}
	unset := bson.M{}
	for field, val := range map[string]string{"email": usr.Email, "avatar": usr.Avatar} {
		if val == "" {
			unset[field] = ""
		} else {
			set[field] = val
		}
	}
	if usr.LastLogin.IsZero() {
		unset["last_login"] = ""
	} else {
		set["last_login"] = usr.LastLogin.UTC()
	}
	if usr.PasswordHash != nil {
		set["password_hash"] = usr.PasswordHash
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := repo.users.UpdateByID(ctx, id, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if res.MatchedCount == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

// DeleteUsersByID deletes the users with their enrollments and submissions.
func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids []string) (int, error) {
	objIDs := oids(ids)
	if len(objIDs) == 0 {
		return 0, nil
	}
	res, err := repo.users.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": objIDs}})
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	if _, err = repo.enrollments.DeleteMany(ctx, bson.M{"student_id": bson.M{"$in": objIDs}}); err != nil {
		return 0, errors.Wrap(err, "deleting enrollments")
	}
	if _, err = repo.submissions.DeleteMany(ctx, bson.M{"student_id": bson.M{"$in": objIDs}}); err != nil {
		return 0, errors.Wrap(err, "deleting submissions")
	}
	return int(res.DeletedCount), nil
}
