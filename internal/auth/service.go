package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

// Session is what a successful login or refresh returns to the client.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// NewUser is the input to Service.CreateUser.
type NewUser struct {
	Username string
	Name     string
	Email    string
	Role     string
	Password string
}

// Service authenticates portal users and manages their sessions.
type Service struct {
	database simjur.Database
	tokens   *TokenManager
	revoker  Revoker
	logger   simjur.Logger
	clock    simjur.Clock
	ids      simjur.IDGenerator
	cost     int
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) { s.cost = cost }
}

// NewService creates an auth Service.
func NewService(database simjur.Database, tokens *TokenManager, revoker Revoker, logger simjur.Logger, clock simjur.Clock, ids simjur.IDGenerator, opts ...ServiceOption) *Service {
	s := &Service{
		database: database,
		tokens:   tokens,
		revoker:  revoker,
		logger:   logger,
		clock:    clock,
		ids:      ids,
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks the credentials and starts a new session.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.database.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if u == nil || !ComparePassword(u.PasswordHash, password) {
		s.logger.Warn("login failed", "username", username)
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrAccountDeactivated
	}
	s.logger.Info("login", "user", u.Username, "role", string(u.Role))
	return s.issue(u, time.Time{})
}

func (s *Service) issue(u *model.User, origIat time.Time) (*Session, error) {
	token, claims, err := s.tokens.Issue(u, origIat)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: u}, nil
}

// Authenticate verifies a bearer token and rejects revoked ones.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// Refresh exchanges a token for a new one carrying the same original login
// time. The old token is revoked.
func (s *Service) Refresh(ctx context.Context, token string) (*Session, error) {
	claims, err := s.tokens.VerifyForRefresh(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrSessionExpired
	}

	u, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	sess, err := s.issue(u, time.Unix(claims.OrigIat, 0))
	if err != nil {
		return nil, err
	}
	if err := s.revoker.Revoke(ctx, claims.ID, s.revokeUntil(claims)); err != nil {
		return nil, err
	}
	s.logger.Debug("token refreshed", "user", u.Username)
	return sess, nil
}

// revokeUntil covers both normal use and refresh of an expired token.
func (s *Service) revokeUntil(c *Claims) time.Time {
	return s.tokens.RefreshDeadline(c)
}

// Logout revokes the session's token.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if err := s.revoker.Revoke(ctx, claims.ID, s.revokeUntil(claims)); err != nil {
		return err
	}
	s.logger.Info("logout", "user", claims.Username)
	return nil
}

// Me returns the account behind claims.
func (s *Service) Me(ctx context.Context, claims *Claims) (*model.User, error) {
	return s.activeUser(ctx, claims.Subject)
}

func (s *Service) activeUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.database.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if u == nil {
		return nil, ErrSessionExpired
	}
	if !u.Active {
		return nil, ErrAccountDeactivated
	}
	return u, nil
}

// ChangePassword replaces the actor's password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, actor model.Actor, oldPassword, newPassword string) error {
	u, err := s.activeUser(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if !ComparePassword(u.PasswordHash, oldPassword) {
		return simjur.NewValidationError("invalid password", "old_password", ErrInvalidCredentials.Error())
	}
	return s.setPassword(ctx, u, newPassword)
}

// SetPassword replaces a user's password without the old one.
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	u, err := s.database.FindUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("finding user: %w", err)
	}
	if u == nil {
		return simjur.ErrNotFound
	}
	return s.setPassword(ctx, u, password)
}

func (s *Service) setPassword(ctx context.Context, u *model.User, password string) error {
	if err := CheckPassword(password, u.Name, u.Username, u.Email); err != nil {
		return err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}
	if err := s.database.UpdateUserPassword(ctx, u.ID, hash, s.clock.Now()); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	s.logger.Info("password changed", "user", u.Username)
	return nil
}

// CreateUser validates and stores a new account.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	verr := simjur.NewValidationError("invalid user")
	if in.Username == "" {
		verr.Fields = append(verr.Fields, simjur.FieldError{Field: "username", Error: "this field is required"})
	}
	role, err := model.ParseRole(in.Role)
	if err != nil {
		verr.Fields = append(verr.Fields, simjur.FieldError{Field: "role", Error: "invalid role"})
	}
	if msg := passwordProblem(in.Password, []string{in.Name, in.Username, in.Email}); msg != "" {
		verr.Fields = append(verr.Fields, simjur.FieldError{Field: "password", Error: msg})
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	existing, err := s.database.FindUserByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if existing != nil {
		return nil, simjur.NewValidationError("invalid user", "username", "username already taken")
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	u := &model.User{
		ID:           s.ids.New(),
		Username:     in.Username,
		Name:         in.Name,
		Email:        in.Email,
		Role:         role,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.database.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	s.logger.Info("user created", "user", u.Username, "role", string(u.Role))
	return u, nil
}

// IsAuthError reports whether err is one of the session errors that should
// be answered with 401.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrRefreshExpired) ||
		errors.Is(err, ErrInvalidToken)
}
