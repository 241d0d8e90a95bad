package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/trezcool/darasa/core/feedback"
)

type feedbackDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	UserID    string             `bson:"user_id"`
	Username  string             `bson:"username"`
	Rating    int                `bson:"rating"`
	Message   string             `bson:"message"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d feedbackDoc) feedback() feedback.Feedback {
	return feedback.Feedback{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Username:  d.Username,
		Rating:    d.Rating,
		Message:   d.Message,
		CreatedAt: utc(d.CreatedAt),
	}
}

type feedbackRepository struct {
	coll *mongo.Collection
}

var _ feedback.Repository = (*feedbackRepository)(nil) // interface compliance check

func NewFeedbackRepository(db *DB) feedback.Repository {
	return &feedbackRepository{coll: db.Collection(feedbackCollection)}
}

func (repo *feedbackRepository) CreateFeedback(ctx context.Context, fb feedback.Feedback) (feedback.Feedback, error) {
	doc := feedbackDoc{
		ID:        primitive.NewObjectID(),
		UserID:    fb.UserID,
		Username:  fb.Username,
		Rating:    fb.Rating,
		Message:   fb.Message,
		CreatedAt: fb.CreatedAt.UTC(),
	}
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		return feedback.Feedback{}, errors.Wrap(err, "inserting feedback")
	}
	return doc.feedback(), nil
}

func (repo *feedbackRepository) QueryFeedback(ctx context.Context) ([]feedback.Feedback, error) {
	var docs []feedbackDoc
	if err := findAll(ctx, repo.coll, &docs, bson.M{}, newestFirst); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d feedbackDoc, _ int) feedback.Feedback { return d.feedback() }), nil
}
