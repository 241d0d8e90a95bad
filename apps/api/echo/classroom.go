package echoapi

import (
	"mime"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/progress"
)

type classApi struct {
	svc      *classroom.Service
	progress *progress.Service
}

func registerClassAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *classroom.Service, progressSvc *progress.Service) {
	api := classApi{svc: svc, progress: progressSvc}

	cg := g.Group("/classes", jwt)
	cg.POST("", api.createClass, adminMiddleware)
	cg.GET("", api.listClasses)
	cg.POST("/join", api.joinClass)

	// detail endpoints
	cg.GET("/:id", api.retrieveClass)
	cg.PUT("/:id", api.updateClass)
	cg.DELETE("/:id", api.destroyClass)
	cg.GET("/:id/progress", api.classProgress)
	cg.GET("/:id/progress/:sid", api.studentProgress)

	// assignments of a class
	cg.POST("/:id/assignments", api.createAssignment)
	cg.PUT("/:id/assignments/:aid", api.updateAssignment)
	cg.DELETE("/:id/assignments/:aid", api.destroyAssignment)
	cg.GET("/:id/assignments/:aid/submissions", api.assignmentSubmissions)
	cg.GET("/:id/assignments/:aid/students/:sid/files", api.studentFiles)
	cg.PUT("/:id/assignments/:aid/students/:sid/marks", api.setMarks)

	ag := g.Group("/assignments", jwt)
	ag.GET("/:id", api.retrieveAssignment)
	ag.POST("/:id/submissions", api.submit)

	g.GET("/submissions/:id/file", api.downloadSubmission, jwt)
}

// =========================================================================
// Classes

func (api *classApi) createClass(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	var data classroom.NewClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}

	cls, err := api.svc.CreateClass(ctx.Request().Context(), caller, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *classApi) listClasses(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	classes, err := api.svc.ListClasses(ctx.Request().Context(), caller)
	if err != nil {
		return err
	}
	if classes == nil {
		classes = []classroom.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *classApi) joinClass(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	var data classroom.JoinClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JoinClass")
	}

	cls, enr, err := api.svc.JoinClass(ctx.Request().Context(), caller, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, JoinResponse{Class: cls, Enrollment: enr})
}

func (api *classApi) retrieveClass(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	detail, err := api.progress.ClassDetail(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *classApi) updateClass(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	var data classroom.UpdateClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClass")
	}

	cls, err := api.svc.UpdateClass(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) destroyClass(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.DeleteClass(ctx.Request().Context(), caller, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classApi) classProgress(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	rows, err := api.progress.ClassProgress(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *classApi) studentProgress(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	page, err := api.progress.StudentProgress(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("sid"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, page)
}

// =========================================================================
// Assignments

func (api *classApi) createAssignment(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	var data classroom.NewAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}

	asgmt, err := api.svc.CreateAssignment(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, asgmt)
}

func (api *classApi) retrieveAssignment(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	asgmt, cls, err := api.svc.ViewAssignment(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, AssignmentResponse{Assignment: asgmt, Class: cls})
}

func (api *classApi) updateAssignment(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	var data classroom.UpdateAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAssignment")
	}

	asgmt, err := api.svc.UpdateAssignment(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, asgmt)
}

func (api *classApi) destroyAssignment(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.DeleteAssignment(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// =========================================================================
// Submissions

func (api *classApi) submit(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		if err == http.ErrMissingFile {
			return core.NewValidationError(core.ErrNoFile, core.FieldError{Field: "file", Error: core.ErrNoFile.Error()})
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form").SetInternal(err)
	}
	file, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer file.Close()

	sub, err := api.svc.Submit(ctx.Request().Context(), caller, ctx.Param("id"), classroom.Upload{
		Filename: fh.Filename,
		Size:     fh.Size,
		Content:  file,
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *classApi) assignmentSubmissions(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	groups, err := api.svc.AssignmentSubmissions(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *classApi) studentFiles(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.StudentFiles(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"), ctx.Param("sid"))
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []classroom.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *classApi) setMarks(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	var data classroom.MarksUpdate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarksUpdate")
	}

	n, err := api.svc.SetMarks(ctx.Request().Context(), caller, ctx.Param("id"), ctx.Param("aid"), ctx.Param("sid"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, MarksResponse{Updated: n})
}

func (api *classApi) downloadSubmission(ctx echo.Context) error {
	caller, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	sub, rc, err := api.svc.OpenSubmissionFile(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(sub.Filename))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": sub.Filename}))
	return ctx.Stream(http.StatusOK, contentType, rc)
}

type (
	JoinResponse struct {
		Class      classroom.Class      `json:"class"`
		Enrollment classroom.Enrollment `json:"enrollment"`
	}

	AssignmentResponse struct {
		Assignment classroom.Assignment `json:"assignment"`
		Class      classroom.Class      `json:"class"`
	}

	MarksResponse struct {
		Updated int `json:"updated"`
	}
)
