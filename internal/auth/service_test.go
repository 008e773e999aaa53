package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/genstudio/backend/internal/execution"
	"github.com/genstudio/backend/internal/models"
)

type mockUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMockUsers() *mockUsers { return &mockUsers{users: map[string]*models.User{}} }

func (m *mockUsers) Create(_ context.Context, email, hash, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, &pgconn.PgError{Code: "23505"}
	}
	u := &models.User{ID: uuid.New(), Email: email, PasswordHash: hash, DisplayName: name, CreatedAt: time.Now()}
	m.users[email] = u
	return u, nil
}

func (m *mockUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[email], nil
}

type mockGrants struct {
	mu   sync.Mutex
	args []execution.GrantCreditsArgs
	err  error
}

func (m *mockGrants) EnqueueGrant(_ context.Context, a execution.GrantCreditsArgs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.args = append(m.args, a)
	return m.err
}

func TestRegister_EnqueuesSignupBonus(t *testing.T) {
	grants := &mockGrants{}
	svc := NewService(newMockUsers(), grants, "secret", 15)

	u, err := svc.Register(context.Background(), " Shop@Example.com ", "hunter22!", "Shop")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "shop@example.com" {
		t.Errorf("email not normalised: %q", u.Email)
	}
	if len(grants.args) != 1 {
		t.Fatalf("grants: got %d, want 1", len(grants.args))
	}
	g := grants.args[0]
	if g.ReferenceID != "signup_"+u.ID.String() || g.Amount != 15 || g.Source != models.CreditSourceBonus {
		t.Errorf("unexpected grant: %+v", g)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	grants := &mockGrants{}
	svc := NewService(newMockUsers(), grants, "secret", 15)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.co", "password1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "A@b.co", "password2", ""); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if len(grants.args) != 1 {
		t.Errorf("bonus enqueued for duplicate: %d grants", len(grants.args))
	}
}

func TestRegister_EnqueueFailureStillReturnsUser(t *testing.T) {
	grants := &mockGrants{err: errors.New("queue down")}
	svc := NewService(newMockUsers(), grants, "secret", 15)

	u, err := svc.Register(context.Background(), "a@b.co", "password1", "")
	if err == nil {
		t.Fatal("expected enqueue error")
	}
	if u == nil {
		t.Fatal("expected created user alongside error")
	}
}

func TestLoginAndValidateToken(t *testing.T) {
	svc := NewService(newMockUsers(), nil, "secret", 0)
	ctx := context.Background()
	u, err := svc.Register(ctx, "a@b.co", "password1", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Login(ctx, "a@b.co", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@b.co", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v", err)
	}

	token, err := svc.Login(ctx, "a@b.co", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != u.ID {
		t.Errorf("subject: got %s, want %s", id, u.ID)
	}

	other := NewService(newMockUsers(), nil, "other-secret", 0)
	if _, err := other.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign secret: got %v", err)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewService(newMockUsers(), nil, "secret", 0)
	c := jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
