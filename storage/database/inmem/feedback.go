package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core/feedback"
)

type feedbackRepository struct {
	db *DB
}

func NewFeedbackRepository(db *DB) feedback.Repository {
	return &feedbackRepository{db: db}
}

func (repo *feedbackRepository) CreateFeedback(_ context.Context, fb feedback.Feedback) (feedback.Feedback, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	fb.ID = uuid.NewString()
	repo.db.feedback = append(repo.db.feedback, fb)
	return fb, nil
}

func (repo *feedbackRepository) QueryFeedback(context.Context) ([]feedback.Feedback, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	fbs := make([]feedback.Feedback, len(repo.db.feedback))
	copy(fbs, repo.db.feedback)
	sort.SliceStable(fbs, func(i, j int) bool { return fbs[i].CreatedAt.After(fbs[j].CreatedAt) })
	return fbs, nil
}
