// Package auth issues and checks staff sessions. Sessions are signed JWTs;
// signing out revokes the token id for the rest of its lifetime.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

const issuer = "tableorder"

type claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service authenticates staff accounts stored in the staff collection.
type Service struct {
	staff   backend.Querier
	secret  []byte
	ttl     time.Duration
	revoked *RevocationList
	logger  aqm.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(staff backend.Querier, secret []byte, ttl time.Duration, logger aqm.Logger, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	s := &Service{
		staff:   staff,
		secret:  secret,
		ttl:     ttl,
		revoked: NewRevocationList(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Revocations exposes the revocation list so it can be run as a lifecycle
// component.
func (s *Service) Revocations() *RevocationList {
	return s.revoked
}

func (s *Service) SignIn(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || creds.Password == "" {
		return nil, ErrInvalidCredentials
	}

	recs, err := s.staff.Fetch(ctx, backend.Staff, []backend.Filter{backend.Eq("email", email)}, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot look up staff account: %w", err)
	}
	if len(recs) == 0 {
		s.logger.Debug("sign in for unknown account", "email", email)
		return nil, ErrInvalidCredentials
	}

	acc, err := restaurant.DecodeStaffAccount(recs[0])
	if err != nil {
		s.logger.Error("skipping malformed record", "error", err)
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(acc.PasswordHash, creds.Password) {
		s.logger.Debug("sign in with wrong password", "email", email)
		return nil, ErrInvalidCredentials
	}

	return s.issue(acc)
}

func (s *Service) issue(acc restaurant.StaffAccount) (*backend.Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	c := claims{
		Email: acc.Email,
		Name:  acc.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   acc.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("cannot sign session: %w", err)
	}

	return &backend.Session{
		Token:     token,
		UserID:    acc.ID,
		Email:     acc.Email,
		Name:      acc.Name,
		CreatedAt: now.Truncate(time.Second),
		ExpiresAt: exp.Truncate(time.Second),
	}, nil
}

// GetSession returns nil, nil for a missing, invalid, expired or revoked
// token.
func (s *Service) GetSession(ctx context.Context, token string) (*backend.Session, error) {
	c, err := s.parse(token)
	if err != nil {
		if token != "" {
			s.logger.Debug("rejecting session token", "error", err)
		}
		return nil, nil
	}
	if s.revoked.Revoked(c.ID) {
		return nil, nil
	}
	return &backend.Session{
		Token:     token,
		UserID:    c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		CreatedAt: c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// SignOut revokes the token. Unknown or invalid tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	c, err := s.parse(token)
	if err != nil {
		return nil
	}
	s.revoked.Revoke(c.ID, c.ExpiresAt.Time)
	s.logger.Info("staff signed out", "user_id", c.Subject)
	return nil
}

func (s *Service) parse(token string) (*claims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}

	var c claims
	tok, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !tok.Valid || c.ExpiresAt == nil || c.IssuedAt == nil {
		return nil, errors.New("invalid token")
	}
	return &c, nil
}
