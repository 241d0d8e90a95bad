package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/feedback"
)

type feedbackApi struct {
	svc *feedback.Service
}

func registerFeedbackAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *feedback.Service) {
	api := feedbackApi{svc: svc}

	fg := g.Group("/feedback", jwt)
	fg.POST("", api.create)
	fg.GET("", api.query, adminMiddleware)
}

func (api *feedbackApi) create(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	var data feedback.NewFeedback
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeedback")
	}

	fb, err := api.svc.Post(ctx.Request().Context(), caller, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, fb)
}

func (api *feedbackApi) query(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	fbs, err := api.svc.List(ctx.Request().Context(), caller)
	if err != nil {
		return err
	}
	if fbs == nil {
		fbs = []feedback.Feedback{}
	}
	return ctx.JSON(http.StatusOK, fbs)
}
