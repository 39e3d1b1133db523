package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrSessionExpired     = errors.New("session expired")
	ErrRefreshExpired     = errors.New("refresh has expired")
	ErrInvalidToken       = errors.New("invalid token")
)

const issuer = "simjur"

// Claims are the JWT claims of a portal session. OrigIat is the time of the
// original login and bounds how long a session can be refreshed.
type Claims struct {
	jwt.RegisteredClaims
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	OrigIat  int64      `json:"oriat"`
}

// Actor returns the identity carried by the token.
func (c *Claims) Actor() model.Actor {
	return model.Actor{UserID: c.Subject, Username: c.Username, Role: c.Role}
}

// TokenManager issues and verifies HS256 session tokens.
type TokenManager struct {
	secret        []byte
	ttl           time.Duration
	refreshWindow time.Duration
	clock         simjur.Clock
	ids           simjur.IDGenerator
}

// NewTokenManager creates a TokenManager. secret must not be empty.
func NewTokenManager(secret []byte, ttl, refreshWindow time.Duration, clock simjur.Clock, ids simjur.IDGenerator) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	return &TokenManager{
		secret:        secret,
		ttl:           ttl,
		refreshWindow: refreshWindow,
		clock:         clock,
		ids:           ids,
	}, nil
}

// Issue signs a new token for u. A zero origIat starts a new session.
func (tm *TokenManager) Issue(u *model.User, origIat time.Time) (string, *Claims, error) {
	now := tm.clock.Now()
	if origIat.IsZero() {
		origIat = now
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tm.ids.New(),
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
		Username: u.Username,
		Role:     u.Role,
		OrigIat:  origIat.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return signed, claims, nil
}

func (tm *TokenManager) keyFunc(*jwt.Token) (any, error) {
	return tm.secret, nil
}

// Verify checks signature and expiry.
func (tm *TokenManager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, tm.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// VerifyForRefresh checks the signature but accepts an expired token as long
// as the refresh window of its original login is still open.
func (tm *TokenManager) VerifyForRefresh(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, tm.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Issuer != issuer || claims.OrigIat == 0 {
		return nil, ErrInvalidToken
	}
	if tm.RefreshDeadline(claims).Before(tm.clock.Now()) {
		return nil, ErrRefreshExpired
	}
	return claims, nil
}

// RefreshDeadline is the last moment claims may be refreshed.
func (tm *TokenManager) RefreshDeadline(c *Claims) time.Time {
	return time.Unix(c.OrigIat, 0).Add(tm.refreshWindow)
}

// TTL returns the lifetime of issued tokens.
func (tm *TokenManager) TTL() time.Duration { return tm.ttl }
