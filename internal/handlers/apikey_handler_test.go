package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/repository"
)

type mockKeyStore struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*models.APIKey
}

func newMockKeyStore() *mockKeyStore { return &mockKeyStore{keys: make(map[uuid.UUID]*models.APIKey)} }

func (m *mockKeyStore) Create(_ context.Context, k *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.ID] = k
	return nil
}

func (m *mockKeyStore) Deactivate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return repository.ErrNotFound
	}
	k.IsActive = false
	return nil
}

func TestCreateAPIKey_ReturnsRawKeyOnce(t *testing.T) {
	store := newMockKeyStore()
	h := &APIKeyHandler{Keys: store, Logger: testLogger()}
	rec := httptest.NewRecorder()
	h.CreateAPIKey(rec, httptest.NewRequest(http.MethodPost, "/api/v1/internal/api-keys", strings.NewReader(`{"label":"billing"}`)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID     uuid.UUID `json:"id"`
		RawKey string    `json:"raw_key"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	stored := store.keys[resp.ID]
	if stored == nil {
		t.Fatal("key not stored")
	}
	if stored.KeyHash != middleware.HashAPIKey(resp.RawKey) {
		t.Error("stored hash does not match returned raw key")
	}
	if strings.Contains(stored.KeyHash, resp.RawKey) {
		t.Error("raw key persisted")
	}
}

func TestCreateAPIKey_RequiresLabel(t *testing.T) {
	h := &APIKeyHandler{Keys: newMockKeyStore(), Logger: testLogger()}
	rec := httptest.NewRecorder()
	h.CreateAPIKey(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"label":"  "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRevokeAPIKey(t *testing.T) {
	store := newMockKeyStore()
	id := uuid.New()
	store.keys[id] = &models.APIKey{ID: id, IsActive: true}
	h := &APIKeyHandler{Keys: store, Logger: testLogger()}

	revoke := func(keyID string, caller *models.APIKey) int {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/internal/api-keys/"+keyID, nil)
		req.SetPathValue("id", keyID)
		if caller != nil {
			// Run through the auth middleware so the caller lands in context.
			mw := middleware.APIKeyAuth(stubFinder{caller})(http.HandlerFunc(h.RevokeAPIKey))
			req.Header.Set("Authorization", "Bearer anything")
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			return rec.Code
		}
		rec := httptest.NewRecorder()
		h.RevokeAPIKey(rec, req)
		return rec.Code
	}

	if code := revoke("not-a-uuid", nil); code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", code)
	}
	if code := revoke(uuid.NewString(), nil); code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", code)
	}
	if code := revoke(id.String(), store.keys[id]); code != http.StatusConflict {
		t.Errorf("self revoke: expected 409, got %d", code)
	}
	if code := revoke(id.String(), nil); code != http.StatusNoContent {
		t.Errorf("revoke: expected 204, got %d", code)
	}
	if store.keys[id].IsActive {
		t.Error("key still active")
	}
}

type stubFinder struct{ key *models.APIKey }

func (s stubFinder) FindByKeyHash(context.Context, string) (*models.APIKey, error) { return s.key, nil }
