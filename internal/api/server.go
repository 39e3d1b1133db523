package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"simjur/internal/auth"
	"simjur/internal/notify"
	"simjur/internal/simjur"
)

// Options holds everything the HTTP server needs.
type Options struct {
	Address        string
	Debug          bool
	DisableReqLogs bool
	MaxUploadBytes int64

	Auth      *auth.Service
	Limiter   *auth.LoginLimiter
	Proposals *simjur.Proposals
	Documents *simjur.Documents
	Workflow  *simjur.Workflow
	Hub       *notify.Hub
	Push      *notify.PushManager
	Logger    simjur.Logger
}

// Server is the SIMJUR HTTP API.
type Server interface {
	http.Handler
	Start() error
	Stop(context.Context) error
}

type server struct {
	opts *Options
	app  *echo.Echo
}

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	if opts.Logger == nil {
		opts.Logger = simjur.NewNopLogger()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// let panics surface while debugging
	if !s.opts.Debug {
		s.app.Use(middleware.Recover())
	}

	v := newValidator()
	s.app.Validator = v
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.opts.Logger, v.translator)
	s.app.Debug = s.opts.Debug

	s.app.GET("/health", health)

	v1 := s.app.Group("/v1")
	jwt := jwtMiddleware(s.opts.Auth)

	registerAuthAPI(v1, jwt, s.opts.Auth, s.opts.Limiter)
	registerProposalAPI(v1, jwt, s.opts.Proposals, s.opts.Workflow)
	registerDocumentAPI(v1, jwt, s.opts.Documents, s.opts.Workflow, s.opts.MaxUploadBytes)
	registerNotificationAPI(v1, jwt, s.opts.Hub)
	registerPushAPI(v1, jwt, s.opts.Push)
}

func (s *server) Start() error {
	err := s.app.Start(s.opts.Address)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
