// Package mongorepos implements the repositories on MongoDB. Documents keep the layout of the
// collections written by the first version of the application, so existing data can be served as is.
package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/darasa/core"
)

// collections
const (
	usersCollection       = "users"
	classesCollection     = "classes"
	enrollmentsCollection = "enrollments"
	assignmentsCollection = "assignments"
	submissionsCollection = "submissions"
	feedbackCollection    = "feedback"
)

type DB struct {
	client *mongo.Client
	*mongo.Database
}

var _ core.DB = (*DB)(nil)

// Open connects to the configured database and makes sure its indexes exist.
func Open(ctx context.Context, conf *core.Config) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.Mongo.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	db := &DB{client: client, Database: client.Database(conf.Mongo.Name)}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging mongo")
	}
	if err = db.EnsureIndexes(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) PingContext(ctx context.Context) error {
	return db.client.Ping(ctx, nil)
}

func (db *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.client.Disconnect(ctx)
}

func (db *DB) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "joined_classes", Value: 1}}},
		},
		classesCollection: {
			{Keys: bson.D{{Key: "created_by_id", Value: 1}}},
		},
		enrollmentsCollection: {
			{Keys: bson.D{{Key: "class_id", Value: 1}, {Key: "student_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "student_id", Value: 1}}},
		},
		assignmentsCollection: {
			{Keys: bson.D{{Key: "class_id", Value: 1}}},
		},
		submissionsCollection: {
			{Keys: bson.D{{Key: "assignment_id", Value: 1}, {Key: "student_id", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "creating %s indexes", coll)
		}
	}
	return nil
}

// oid parses a hex object ID. IDs that cannot be parsed match no document.
func oid(id string) (primitive.ObjectID, bool) {
	o, err := primitive.ObjectIDFromHex(id)
	return o, err == nil
}

func oids(ids []string) []primitive.ObjectID {
	res := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if o, ok := oid(id); ok {
			res = append(res, o)
		}
	}
	return res
}

func hexes(ids []primitive.ObjectID) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, id.Hex())
	}
	return res
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
