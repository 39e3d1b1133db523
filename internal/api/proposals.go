package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

const dateLayout = "2006-01-02"

type proposalAPI struct {
	proposals *simjur.Proposals
	workflow  *simjur.Workflow
}

func registerProposalAPI(g *echo.Group, jwt echo.MiddlewareFunc, proposals *simjur.Proposals, workflow *simjur.Workflow) {
	api := proposalAPI{proposals: proposals, workflow: workflow}

	pg := g.Group("/proposals", jwt)
	pg.GET("", api.query)
	pg.POST("", api.create)
	pg.GET("/:id", api.retrieve)
	pg.DELETE("/:id", api.destroy)
	pg.GET("/:id/view", api.view)
	pg.POST("/:id/approvals/:field/approve", api.approve)
	pg.POST("/:id/approvals/:field/reject", api.reject)
	pg.POST("/:id/approvals/:field/revise", api.revise)
	pg.GET("/:id/budget", api.budget)
	pg.PUT("/:id/budget", api.setBudget)

	g.GET("/budget/summary", api.budgetSummary, jwt)
}

type proposalQuery struct {
	SubmitterID string `query:"submitter_id"`
	Stage       string `query:"stage"`
	Limit       int    `query:"limit" validate:"gte=0"`
	Offset      int    `query:"offset" validate:"gte=0"`
}

type newProposalRequest struct {
	Judul   string `json:"judul" validate:"notblank"`
	Tanggal string `json:"tanggal" validate:"required"`
	Dana    int64  `json:"dana" validate:"gt=0"`
}

type reviseRequest struct {
	Note string `json:"note" validate:"notblank"`
}

type budgetRequest struct {
	Amount *int64 `json:"amount" validate:"required"`
}

func (api *proposalAPI) query(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	var q proposalQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &q); err != nil {
		return errors.Wrap(err, "binding to proposalQuery")
	}
	if err := ctx.Validate(&q); err != nil {
		return err
	}
	var stage model.Stage
	if q.Stage != "" {
		if stage, err = model.ParseStage(q.Stage); err != nil {
			return simjur.NewValidationError("invalid filter", "stage", err.Error())
		}
	}

	ps, err := api.proposals.List(ctx.Request().Context(), actor, model.ProposalFilter{
		SubmitterID: q.SubmitterID,
		Stage:       stage,
		Limit:       q.Limit,
		Offset:      q.Offset,
	})
	if err != nil {
		return errors.Wrap(err, "listing proposals")
	}
	return ctx.JSON(http.StatusOK, ps)
}

func (api *proposalAPI) create(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	var data newProposalRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to newProposalRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	tanggal, err := parseDate(data.Tanggal)
	if err != nil {
		return simjur.NewValidationError("invalid proposal", "tanggal", "must be a date like 2024-03-01")
	}

	p, err := api.proposals.Create(ctx.Request().Context(), actor, simjur.NewProposal{
		Judul:   data.Judul,
		Tanggal: tanggal,
		Dana:    data.Dana,
	})
	if err != nil {
		return errors.Wrap(err, "creating proposal")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *proposalAPI) retrieve(ctx echo.Context) error {
	actor, id, err := actorAndID(ctx)
	if err != nil {
		return err
	}
	p, err := api.proposals.Get(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "getting proposal")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *proposalAPI) destroy(ctx echo.Context) error {
	actor, id, err := actorAndID(ctx)
	if err != nil {
		return err
	}
	if err := api.proposals.Delete(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "deleting proposal")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *proposalAPI) view(ctx echo.Context) error {
	actor, id, err := actorAndID(ctx)
	if err != nil {
		return err
	}
	p, err := api.proposals.Get(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "getting proposal")
	}
	return ctx.JSON(http.StatusOK, simjur.View(p, actor.Role))
}

func (api *proposalAPI) approve(ctx echo.Context) error {
	return api.decide(ctx, func(actor model.Actor, id int64, f model.Field) (*model.Proposal, error) {
		return api.workflow.Approve(ctx.Request().Context(), actor, id, f)
	})
}

func (api *proposalAPI) reject(ctx echo.Context) error {
	return api.decide(ctx, func(actor model.Actor, id int64, f model.Field) (*model.Proposal, error) {
		return api.workflow.Reject(ctx.Request().Context(), actor, id, f)
	})
}

func (api *proposalAPI) revise(ctx echo.Context) error {
	var data reviseRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to reviseRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	return api.decide(ctx, func(actor model.Actor, id int64, f model.Field) (*model.Proposal, error) {
		return api.workflow.RequestRevision(ctx.Request().Context(), actor, id, f, data.Note)
	})
}

func (api *proposalAPI) decide(ctx echo.Context, fn func(model.Actor, int64, model.Field) (*model.Proposal, error)) error {
	actor, id, err := actorAndID(ctx)
	if err != nil {
		return err
	}
	f, err := model.ParseField(ctx.Param("field"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := fn(actor, id, f)
	if err != nil {
		return errors.Wrapf(err, "deciding %s", f)
	}
	return ctx.JSON(http.StatusOK, simjur.View(p, actor.Role))
}

func (api *proposalAPI) budget(ctx echo.Context) error {
	actor, id, err := actorAndID(ctx)
	if err != nil {
		return err
	}
	b, err := api.proposals.ApprovedBudget(ctx.Request().Context(), actor, id)
	if err != nil {
		return errors.Wrap(err, "getting budget")
	}
	if b == nil {
		return simjur.ErrNotFound
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *proposalAPI) setBudget(ctx echo.Context) error {
	actor, id, err := actorAndID(ctx)
	if err != nil {
		return err
	}
	var data budgetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to budgetRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	b, err := api.proposals.SetApprovedBudget(ctx.Request().Context(), actor, id, *data.Amount)
	if err != nil {
		return errors.Wrap(err, "setting budget")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *proposalAPI) budgetSummary(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	s, err := api.proposals.BudgetSummary(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "summarizing budget")
	}
	return ctx.JSON(http.StatusOK, s)
}

func actorAndID(ctx echo.Context) (model.Actor, int64, error) {
	actor, err := contextActor(ctx)
	if err != nil {
		return model.Actor{}, 0, err
	}
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return model.Actor{}, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid proposal id")
	}
	return actor, id, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
