package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"simjur/internal/auth"
	"simjur/internal/model"
	"simjur/internal/simjur"
)

const contextClaimsKey = "claims"

type authAPI struct {
	svc     *auth.Service
	limiter *auth.LoginLimiter
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *auth.Service, limiter *auth.LoginLimiter) {
	api := authAPI{svc: svc, limiter: limiter}

	ag := g.Group("/auth")
	ag.POST("/login", api.login, api.rateLimit)
	// refresh accepts expired tokens, so it verifies the token itself
	ag.POST("/refresh", api.refresh)
	ag.POST("/logout", api.logout, jwt)
	ag.GET("/me", api.me, jwt)
	ag.POST("/password", api.changePassword, jwt)

	g.POST("/users", api.createUser, jwt, requireCapability(simjur.CapManageUsers))
}

type loginRequest struct {
	Username string `json:"username" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

type passwordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type newUserRequest struct {
	Username string `json:"username" validate:"notblank"`
	Name     string `json:"name" validate:"notblank"`
	Email    string `json:"email" validate:"omitempty,email"`
	Role     string `json:"role" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (api *authAPI) login(ctx echo.Context) error {
	var data loginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to loginRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}

	sess, err := api.svc.Login(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return errors.Wrap(err, "logging in")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *authAPI) refresh(ctx echo.Context) error {
	token, ok := bearerToken(ctx)
	if !ok {
		return errMissingToken
	}
	sess, err := api.svc.Refresh(ctx.Request().Context(), token)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *authAPI) logout(ctx echo.Context) error {
	claims, err := contextClaims(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Logout(ctx.Request().Context(), claims); err != nil {
		return errors.Wrap(err, "logging out")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authAPI) me(ctx echo.Context) error {
	claims, err := contextClaims(ctx)
	if err != nil {
		return err
	}
	u, err := api.svc.Me(ctx.Request().Context(), claims)
	if err != nil {
		return errors.Wrap(err, "loading user")
	}
	return ctx.JSON(http.StatusOK, u)
}

func (api *authAPI) changePassword(ctx echo.Context) error {
	actor, err := contextActor(ctx)
	if err != nil {
		return err
	}
	var data passwordRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to passwordRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	if err := api.svc.ChangePassword(ctx.Request().Context(), actor, data.OldPassword, data.NewPassword); err != nil {
		return errors.Wrap(err, "changing password")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authAPI) createUser(ctx echo.Context) error {
	var data newUserRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to newUserRequest")
	}
	if err := ctx.Validate(&data); err != nil {
		return err
	}
	u, err := api.svc.CreateUser(ctx.Request().Context(), auth.NewUser{
		Username: data.Username,
		Name:     data.Name,
		Email:    data.Email,
		Role:     data.Role,
		Password: data.Password,
	})
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, u)
}

func (api *authAPI) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if api.limiter != nil && !api.limiter.Allow(ctx.RealIP()) {
			return errTooManyTries
		}
		return next(ctx)
	}
}

// jwtMiddleware authenticates the bearer token and stores its claims.
func jwtMiddleware(svc *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token, ok := bearerToken(ctx)
			if !ok {
				return errMissingToken
			}
			claims, err := svc.Authenticate(ctx.Request().Context(), token)
			if err != nil {
				return errors.Wrap(err, "authenticating")
			}
			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

// requireCapability only lets roles holding c through.
func requireCapability(c simjur.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			actor, err := contextActor(ctx)
			if err != nil {
				return err
			}
			if !simjur.Can(actor.Role, c) {
				return simjur.ErrForbidden
			}
			return next(ctx)
		}
	}
}

func bearerToken(ctx echo.Context) (string, bool) {
	h := ctx.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(h, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func contextClaims(ctx echo.Context) (*auth.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*auth.Claims); ok {
		return claims, nil
	}
	return nil, errNoClaims
}

func contextActor(ctx echo.Context) (model.Actor, error) {
	claims, err := contextClaims(ctx)
	if err != nil {
		return model.Actor{}, err
	}
	return claims.Actor(), nil
}
