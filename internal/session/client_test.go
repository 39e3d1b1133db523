package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "Kopi-Tubruk-88" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "tok-1",
			"user":  map[string]any{"id": "u-1", "username": in["username"], "role": "kajur"},
		})
	})
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh has expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-2"})
	})
	mux.HandleFunc("GET /v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "u-1", "username": "kajur", "role": "kajur"})
	})
	mux.HandleFunc("POST /v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LoginRefreshLogout(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)
	store := NewMemoryStore()
	c := NewClient(srv.URL+"/", srv.Client(), store)

	s, err := c.Login(ctx, "kajur", "Kopi-Tubruk-88")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", s.Token)
	assert.Equal(t, "kajur", s.User.Username)

	tok, _ := store.Get(KeyAuthToken)
	assert.Equal(t, "tok-1", tok)
	userData, _ := store.Get(KeyUserData)
	assert.Contains(t, userData, `"username":"kajur"`)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", me.ID)

	fresh, err := c.Refresh(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", fresh)

	require.NoError(t, c.Logout(ctx))
	for _, k := range AllKeys {
		v, _ := store.Get(k)
		assert.Empty(t, v, k)
	}
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)
	c := NewClient(srv.URL, srv.Client(), NewMemoryStore())

	_, err := c.Login(ctx, "kajur", "salah")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "error = %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid credentials", apiErr.Message)

	_, err = c.Refresh(ctx, "tok-old")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "refresh has expired", apiErr.Message)
}
