package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/transition"
)

type (
	transitionApi struct {
		svc      transition.ServiceInterface
		validate *validator.Validate
	}

	// failedRun is the body of a commit or purge that stopped on a chunk.
	failedRun struct {
		Error  string      `json:"error"`
		Report interface{} `json:"report"`
	}
)

func registerTransitionAPI(g *echo.Group, svc transition.ServiceInterface, validate *validator.Validate) {
	api := transitionApi{
		svc:      svc,
		validate: validate,
	}

	sg := g.Group("/schools/:school", sessionMiddleware(validate))
	sg.GET("/classes", api.queryClasses)
	sg.POST("/attendance-history/purge", api.purgeHistory)

	rg := sg.Group("/classes/:class/roster")
	rg.POST("", api.selectRoster)
	rg.GET("", api.retrieveRoster)
	rg.DELETE("", api.discardRoster)
	rg.PUT("/decisions", api.setAllDecisions)
	rg.PUT("/students/:student", api.updateCandidate)
	rg.POST("/commit", api.commit)
}

// Handlers

func (api *transitionApi) queryClasses(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	classes, err := api.svc.Classes(ctx.Request().Context(), sess)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *transitionApi) selectRoster(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	roster, err := api.svc.Select(ctx.Request().Context(), sess, ctx.Param("class"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, roster)
}

func (api *transitionApi) retrieveRoster(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	roster, err := api.svc.Draft(sess, ctx.Param("class"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, roster)
}

func (api *transitionApi) discardRoster(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Discard(sess, ctx.Param("class")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *transitionApi) setAllDecisions(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data transition.SetAllRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetAllRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	classID := ctx.Param("class")
	if err = api.svc.SetAllDecisions(sess, classID, data.Decision); err != nil {
		return err
	}
	roster, err := api.svc.Draft(sess, classID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, roster)
}

func (api *transitionApi) updateCandidate(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data transition.UpdateCandidate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCandidate")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	cand, err := api.svc.UpdateCandidate(sess, ctx.Param("class"), ctx.Param("student"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cand)
}

func (api *transitionApi) commit(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data transition.CommitRequest
	if ctx.Request().ContentLength != 0 {
		if err = ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to CommitRequest")
		}
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	// a dropped client must not leave the transition half-applied
	res, err := api.svc.Commit(context.WithoutCancel(ctx.Request().Context()), sess, ctx.Param("class"), data.ChunkSize)
	if err != nil {
		var chunkErr *transition.ChunkCommitError
		if errors.As(err, &chunkErr) && !core.IsShutdown(err) {
			return ctx.JSON(http.StatusInternalServerError, failedRun{Error: chunkErr.Error(), Report: res})
		}
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *transitionApi) purgeHistory(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	report, err := api.svc.PurgeHistory(context.WithoutCancel(ctx.Request().Context()), sess)
	if err != nil {
		var chunkErr *transition.ChunkCommitError
		if errors.As(err, &chunkErr) && !core.IsShutdown(err) {
			return ctx.JSON(http.StatusInternalServerError, failedRun{Error: chunkErr.Error(), Report: report})
		}
		return err
	}
	return ctx.JSON(http.StatusOK, report)
}
