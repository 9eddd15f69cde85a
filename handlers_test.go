package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chmsapp/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fakeStore, *fakeMail) {
	gin.SetMode(gin.TestMode)
	cfg := &Config{
		BaseURL: "http://localhost:8081",
		Mail:    MailConfig{From: "no-reply@example.test"},
		JWT: JWTConfig{
			Secret:     "test-secret",
			SessionTTL: Duration(time.Hour),
			ResetTTL:   Duration(10 * time.Minute),
		},
	}
	log := zaptest.NewLogger(t)
	store := newFakeStore(alice())
	mail := &fakeMail{}
	tokens := token.New([]byte(cfg.JWT.Secret), cfg.JWT.ResetTTL.Std())
	users := NewUserService(store, nil)
	accounts := NewAccountService(store, tokens, mail, cfg, log)

	r := gin.New()
	newServer(cfg, log, nil, store, users, accounts).setupRoutes(r)
	return r, store, mail
}

func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := performRequest(r, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"users":1`)
}

func TestForgotPasswordEndpoint(t *testing.T) {
	r, _, mail := newTestRouter(t)

	rec := performRequest(r, http.MethodPost, "/user/forgotPassword",
		jsonBody(t, gin.H{"email": "alice@example.test"}), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["message"], "Delivery reference:")
	assert.Len(t, mail.sent, 1)
}

func TestForgotPasswordEndpointUnknownUser(t *testing.T) {
	r, _, mail := newTestRouter(t)

	rec := performRequest(r, http.MethodPost, "/user/forgotPassword",
		jsonBody(t, gin.H{"email": "ghost@nowhere.test"}), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, mail.sent)
}

func TestForgotPasswordEndpointMissingEmail(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := performRequest(r, http.MethodPost, "/user/forgotPassword", jsonBody(t, gin.H{}), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetPasswordEndpoint(t *testing.T) {
	r, store, mail := newTestRouter(t)

	rec := performRequest(r, http.MethodPost, "/user/forgotPassword",
		jsonBody(t, gin.H{"email": "alice@example.test"}), "")
	require.Equal(t, http.StatusOK, rec.Code)
	tok := tokenFromMail(t, mail.sent[0])

	rec = performRequest(r, http.MethodPut, "/user/resetPassword",
		jsonBody(t, gin.H{"newPassword": "NewPass1"}), tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, store.updates, 1)

	// the new password logs in
	rec = performRequest(r, http.MethodPost, "/login",
		jsonBody(t, gin.H{"username": "alice@example.test", "password": "NewPass1"}), "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestResetPasswordEndpointInvalidToken(t *testing.T) {
	r, store, mail := newTestRouter(t)

	rec := performRequest(r, http.MethodPut, "/user/resetPassword",
		jsonBody(t, gin.H{"newPassword": "NewPass1"}), "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, store.updates)
	assert.Empty(t, mail.sent)
}

func TestResetPasswordEndpointExpiredToken(t *testing.T) {
	r, _, _ := newTestRouter(t)

	expired := token.New([]byte("test-secret"), -time.Minute)
	tok, err := expired.Issue(7)
	require.NoError(t, err)

	rec := performRequest(r, http.MethodPut, "/user/resetPassword",
		jsonBody(t, gin.H{"newPassword": "NewPass1"}), tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token expired")
}

func TestResetPasswordEndpointMissingBearer(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := performRequest(r, http.MethodPut, "/user/resetPassword",
		jsonBody(t, gin.H{"newPassword": "NewPass1"}), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := performRequest(r, http.MethodPost, "/login",
		jsonBody(t, gin.H{"username": "alice@example.test", "password": "OldPass1"}), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestLoginWrongPassword(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := performRequest(r, http.MethodPost, "/login",
		jsonBody(t, gin.H{"username": "alice@example.test", "password": "nope-nope"}), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsersRequireSession(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := performRequest(r, http.MethodGet, "/api/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsersRejectResetToken(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// signed with the same secret, but it is not a session
	reset := token.New([]byte("test-secret"), 10*time.Minute)
	tok, err := reset.Issue(7)
	require.NoError(t, err)

	rec := performRequest(r, http.MethodGet, "/api/users", nil, tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsersListWithSession(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := performRequest(r, http.MethodPost, "/login",
		jsonBody(t, gin.H{"username": "alice@example.test", "password": "OldPass1"}), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var login map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	session := login["token"].(string)

	rec = performRequest(r, http.MethodGet, "/api/users", nil, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var items []UserListItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "alice@example.test", items[0].Username)
	assert.Equal(t, "Alice Ong", items[0].FullName)
	assert.Equal(t, []string{"member"}, items[0].Roles)
}
