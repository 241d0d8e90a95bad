package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/feedback"
)

type feedbackRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Username  string    `db:"username"`
	Rating    int       `db:"rating"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}

type feedbackRepository struct {
	db *sqlx.DB
}

var _ feedback.Repository = (*feedbackRepository)(nil) // interface compliance check

func NewFeedbackRepository(db *sqlx.DB) feedback.Repository {
	return &feedbackRepository{db: db}
}

func (repo *feedbackRepository) CreateFeedback(ctx context.Context, fb feedback.Feedback) (feedback.Feedback, error) {
	fb.ID = uuid.NewString()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO feedback (id, user_id, username, rating, message, created_at)
		VALUES (:id, :user_id, :username, :rating, :message, :created_at)`,
		feedbackRow{
			ID:        fb.ID,
			UserID:    fb.UserID,
			Username:  fb.Username,
			Rating:    fb.Rating,
			Message:   fb.Message,
			CreatedAt: fb.CreatedAt.UTC(),
		},
	)
	if err != nil {
		return feedback.Feedback{}, errors.Wrap(err, "inserting feedback")
	}
	return fb, nil
}

func (repo *feedbackRepository) QueryFeedback(ctx context.Context) ([]feedback.Feedback, error) {
	var rows []feedbackRow
	if err := repo.db.SelectContext(ctx, &rows, "SELECT * FROM feedback ORDER BY created_at DESC, id"); err != nil {
		return nil, errors.Wrap(err, "selecting feedback")
	}
	fbs := make([]feedback.Feedback, 0, len(rows))
	for _, r := range rows {
		fbs = append(fbs, feedback.Feedback{
			ID:        r.ID,
			UserID:    r.UserID,
			Username:  r.Username,
			Rating:    r.Rating,
			Message:   r.Message,
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return fbs, nil
}
