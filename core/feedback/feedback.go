package feedback

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Rating    int       `json:"rating"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

type NewFeedback struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Message string `json:"message" validate:"required,max=5000"`
}

func (nf *NewFeedback) Validate(validate *validator.Validate) error {
	nf.Message = core.CleanString(nf.Message)
	return validate.Struct(nf)
}

type (
	Repository interface {
		CreateFeedback(ctx context.Context, fb Feedback) (Feedback, error)
		// QueryFeedback returns every feedback, newest first.
		QueryFeedback(ctx context.Context) ([]Feedback, error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
	}
)

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{repo: repo, validate: validate}
}

func (svc *Service) Post(ctx context.Context, caller user.Identity, nf NewFeedback) (Feedback, error) {
	if caller.UserID == "" {
		return Feedback{}, core.ErrUnauthorized
	}
	if err := nf.Validate(svc.validate); err != nil {
		return Feedback{}, err
	}
	return svc.repo.CreateFeedback(ctx, Feedback{
		UserID:    caller.UserID,
		Username:  caller.Username,
		Rating:    nf.Rating,
		Message:   nf.Message,
		CreatedAt: core.NowFunc(),
	})
}

// List returns all feedback, newest first. Admins only.
func (svc *Service) List(ctx context.Context, caller user.Identity) ([]Feedback, error) {
	if !caller.IsAdmin() {
		return nil, core.ErrForbidden
	}
	return svc.repo.QueryFeedback(ctx)
}
