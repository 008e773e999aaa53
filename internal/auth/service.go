package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/genstudio/backend/internal/execution"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/repository"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const tokenTTL = 24 * time.Hour

// UserStore is implemented by *Repository.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash, displayName string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// GrantEnqueuer schedules an idempotent credit grant; *execution.Enqueuer implements it.
type GrantEnqueuer interface {
	EnqueueGrant(ctx context.Context, args execution.GrantCreditsArgs) error
}

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

type service struct {
	repo        UserStore
	grants      GrantEnqueuer
	signupBonus int64
	secret      []byte
}

func NewService(repo UserStore, grants GrantEnqueuer, secret string, signupBonus int64) *service {
	return &service{repo: repo, grants: grants, secret: []byte(secret), signupBonus: signupBonus}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

// SignupReference is the ledger reference id of a user's signup bonus.
func SignupReference(userID uuid.UUID) string {
	return "signup_" + userID.String()
}

func (s *service) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.Create(ctx, strings.ToLower(strings.TrimSpace(email)), string(hash), displayName)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if s.signupBonus > 0 && s.grants != nil {
		// The user exists either way; a failed enqueue can be re-driven with the same reference.
		if err := s.grants.EnqueueGrant(ctx, execution.GrantCreditsArgs{
			UserID:      u.ID,
			Amount:      s.signupBonus,
			Source:      models.CreditSourceBonus,
			Description: "signup bonus",
			ReferenceID: SignupReference(u.ID),
		}); err != nil {
			return u, err
		}
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	c := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
