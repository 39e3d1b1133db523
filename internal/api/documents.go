package api

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

const uploadField = "file"

type documentAPI struct {
	documents *simjur.Documents
	workflow  *simjur.Workflow
	maxBytes  int64
}

func registerDocumentAPI(g *echo.Group, jwt echo.MiddlewareFunc, documents *simjur.Documents, workflow *simjur.Workflow, maxBytes int64) {
	api := documentAPI{documents: documents, workflow: workflow, maxBytes: maxBytes}

	dg := g.Group("/proposals/:id/documents/:doc", jwt)
	dg.PUT("", api.upload)
	dg.GET("", api.download)
	dg.DELETE("", api.destroy)
	dg.GET("/meta", api.meta)
	dg.POST("/review", api.review)
	dg.GET("/notes", api.notes)
	dg.POST("/resubmit", api.resubmit)
}

func (api *documentAPI) upload(ctx echo.Context) error {
	actor, id, doc, err := documentParams(ctx)
	if err != nil {
		return err
	}

	// leave room for the multipart envelope
	req := ctx.Request()
	req.Body = http.MaxBytesReader(ctx.Response(), req.Body, api.maxBytes+1<<20)

	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrMissingFile):
			return simjur.NewValidationError("invalid upload", uploadField, "this field is required")
		case errors.As(err, &tooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file is too large")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form").SetInternal(err)
		}
	}
	if fh.Size > api.maxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file is too large")
	}

	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer f.Close()

	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	rec, err := api.documents.Upload(req.Context(), actor, id, doc, fh.Filename, contentType, f, fh.Size)
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *documentAPI) download(ctx echo.Context) error {
	actor, id, doc, err := documentParams(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()

	rec, err := api.documents.Stat(rctx, actor, id, doc)
	if err != nil {
		return errors.Wrap(err, "reading document record")
	}
	if rec == nil {
		return simjur.ErrNotFound
	}

	// headers are only sent with the first body write
	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, rec.ContentType)
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": rec.Name}))
	h.Set(echo.HeaderContentLength, strconv.FormatInt(rec.Size, 10))

	if _, err := api.documents.Download(rctx, actor, id, doc, ctx.Response()); err != nil {
		h.Del(echo.HeaderContentType)
		h.Del(echo.HeaderContentDisposition)
		h.Del(echo.HeaderContentLength)
		return errors.Wrap(err, "downloading document")
	}
	if !ctx.Response().Committed {
		ctx.Response().WriteHeader(http.StatusOK)
	}
	return nil
}

func (api *documentAPI) destroy(ctx echo.Context) error {
	actor, id, doc, err := documentParams(ctx)
	if err != nil {
		return err
	}
	if err := api.documents.Delete(ctx.Request().Context(), actor, id, doc); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *documentAPI) meta(ctx echo.Context) error {
	actor, id, doc, err := documentParams(ctx)
	if err != nil {
		return err
	}
	rec, err := api.documents.Stat(ctx.Request().Context(), actor, id, doc)
	if err != nil {
		return errors.Wrap(err, "reading document record")
	}
	if rec == nil {
		return simjur.ErrNotFound
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *documentAPI) review(ctx echo.Context) error {
	actor, id, doc, err := documentParams(ctx)
	if err != nil {
		return err
	}
	if err := api.workflow.MarkReviewed(ctx.Request().Context(), actor, id, doc); err != nil {
		return errors.Wrap(err, "marking reviewed")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *documentAPI) notes(ctx echo.Context) error {
	actor, id, doc, err := documentParams(ctx)
	if err != nil {
		return err
	}
	notes, err := api.workflow.Notes(ctx.Request().Context(), actor, id, doc)
	if err != nil {
		return errors.Wrap(err, "listing notes")
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (api *documentAPI) resubmit(ctx echo.Context) error {
	actor, id, doc, err := documentParams(ctx)
	if err != nil {
		return err
	}
	p, err := api.workflow.Resubmit(ctx.Request().Context(), actor, id, doc)
	if err != nil {
		return errors.Wrap(err, "resubmitting document")
	}
	return ctx.JSON(http.StatusOK, simjur.View(p, actor.Role))
}

func documentParams(ctx echo.Context) (model.Actor, int64, model.DocType, error) {
	actor, id, err := actorAndID(ctx)
	if err != nil {
		return model.Actor{}, 0, "", err
	}
	doc, err := model.ParseDocType(ctx.Param("doc"))
	if err != nil {
		return model.Actor{}, 0, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return actor, id, doc, nil
}
