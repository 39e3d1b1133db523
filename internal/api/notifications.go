package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"simjur/internal/model"
	"simjur/internal/notify"
	"simjur/internal/simjur"
)

type notificationAPI struct {
	hub *notify.Hub
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, hub *notify.Hub) {
	api := notificationAPI{hub: hub}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.query)
	ng.GET("/stream", api.stream)
	ng.POST("/read-all", api.readAll)
	ng.POST("/:id/read", api.read)
}

type notificationList struct {
	Items  []model.Notification `json:"items"`
	Unread int                  `json:"unread"`
}

func (api *notificationAPI) query(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, notificationList{
		Items:  api.hub.List(actor.Role),
		Unread: api.hub.Unread(actor.Role),
	})
}

// stream sends the caller's notification list as a server-sent event on
// every change until the client goes away. Slow clients only see the
// latest list.
func (api *notificationAPI) stream(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}

	updates := make(chan []model.Notification, 1)
	unsubscribe := api.hub.Subscribe(actor.Role, func(ns []model.Notification) {
		select {
		case <-updates:
		default:
		}
		updates <- ns
	})
	defer unsubscribe()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.WriteHeader(http.StatusOK)

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case ns := <-updates:
			data, err := json.Marshal(notificationList{Items: ns, Unread: unread(ns)})
			if err != nil {
				return errors.Wrap(err, "encoding notifications")
			}
			if _, err := fmt.Fprintf(res, "event: notifications\ndata: %s\n\n", data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func unread(ns []model.Notification) int {
	n := 0
	for _, item := range ns {
		if !item.Read {
			n++
		}
	}
	return n
}

func (api *notificationAPI) read(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	if !api.hub.MarkRead(actor.Role, ctx.Param("id")) {
		return simjur.ErrNotFound
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationAPI) readAll(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"updated": api.hub.MarkAllRead(actor.Role)})
}

type pushAPI struct {
	push *notify.PushManager
}

func registerPushAPI(g *echo.Group, jwt echo.MiddlewareFunc, push *notify.PushManager) {
	api := pushAPI{push: push}

	pg := g.Group("/push", jwt)
	pg.POST("/subscriptions", api.subscribe)
	pg.DELETE("/subscriptions", api.unsubscribe)
	pg.POST("/send", api.send, requireCapability(simjur.CapPushSend))
	pg.POST("/broadcast", api.broadcast, requireCapability(simjur.CapPushSend))
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

type sendRequest struct {
	UserID string `json:"user_id" validate:"required"`
	notify.PushMessage
}

func (api *pushAPI) subscribe(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	var data model.PushSubscription
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PushSubscription")
	}
	if err := api.push.Subscribe(ctx.Request().Context(), actor.UserID, data); err != nil {
		return errors.Wrap(err, "subscribing")
	}
	return ctx.NoContent(http.StatusCreated)
}

func (api *pushAPI) unsubscribe(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	var data unsubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to unsubscribeRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	if err := api.push.Unsubscribe(ctx.Request().Context(), actor.UserID, data.Endpoint); err != nil {
		return errors.Wrap(err, "unsubscribing")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *pushAPI) send(ctx echo.Context) error {
	var data sendRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to sendRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	n, err := api.push.Send(ctx.Request().Context(), data.UserID, data.PushMessage)
	if err != nil {
		return errors.Wrap(err, "sending push")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"sent": n})
}

func (api *pushAPI) broadcast(ctx echo.Context) error {
	var data notify.PushMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PushMessage")
	}
	n, err := api.push.Broadcast(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "broadcasting push")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"sent": n})
}
