package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/models"
)

type stubTokens struct {
	id  uuid.UUID
	err error
}

func (s stubTokens) ValidateToken(context.Context, string) (uuid.UUID, error) { return s.id, s.err }

type stubAccounts struct {
	acc *models.CreditAccount
	err error
}

func (s stubAccounts) GetOrCreateAccount(context.Context, uuid.UUID) (*models.CreditAccount, error) {
	return s.acc, s.err
}

type stubPrices map[string]int64

func (p stubPrices) Cost(assetType string) (int64, error) {
	c, ok := p[assetType]
	if !ok {
		return 0, fmt.Errorf("no price for %q", assetType)
	}
	return c, nil
}

// echoBody proves the handler can still read the body after the check.
var echoBody = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	w.Write(b)
})

func TestUserAuth(t *testing.T) {
	user := uuid.New()
	var seen uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = UserIDFromCtx(r.Context()) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	UserAuth(stubTokens{id: user})(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != user {
		t.Fatalf("valid token: code %d, user %s", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	UserAuth(stubTokens{err: errors.New("expired")})(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: expected 401, got %d", rec.Code)
	}
}

func TestCreditCheck(t *testing.T) {
	prices := stubPrices{models.AssetTypeImage: 1, models.AssetTypeVideo: 5}
	user := uuid.New()

	cases := []struct {
		name     string
		user     uuid.UUID
		accounts stubAccounts
		body     string
		want     int
	}{
		{"affordable", user, stubAccounts{acc: &models.CreditAccount{Balance: 5}}, `{"asset_type":"video"}`, http.StatusOK},
		{"frozen funds not spendable", user, stubAccounts{acc: &models.CreditAccount{Balance: 5, FrozenBalance: 1}}, `{"asset_type":"video"}`, http.StatusPaymentRequired},
		{"empty balance", user, stubAccounts{acc: &models.CreditAccount{}}, `{"asset_type":"image"}`, http.StatusPaymentRequired},
		{"unknown asset type", user, stubAccounts{acc: &models.CreditAccount{Balance: 5}}, `{"asset_type":"audio"}`, http.StatusBadRequest},
		{"bad json", user, stubAccounts{acc: &models.CreditAccount{Balance: 5}}, `{`, http.StatusBadRequest},
		{"no user", uuid.Nil, stubAccounts{}, `{"asset_type":"image"}`, http.StatusUnauthorized},
		{"lookup failure", user, stubAccounts{err: errors.New("db down")}, `{"asset_type":"image"}`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			if tc.user != uuid.Nil {
				req = req.WithContext(WithUserID(req.Context(), tc.user))
			}
			rec := httptest.NewRecorder()
			CreditCheck(tc.accounts, prices, nil)(echoBody).ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want == http.StatusOK && rec.Body.String() != tc.body {
				t.Errorf("body not restored: %q", rec.Body.String())
			}
		})
	}
}
