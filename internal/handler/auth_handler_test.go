package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/classboard/classboard-api/internal/models"
	"github.com/classboard/classboard-api/internal/service"
)

type fakeUserRepo struct {
	usersByEmail map[string]*models.User
	tokens       map[string]*models.RefreshToken
	revoked      []string
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{
		usersByEmail: map[string]*models.User{},
		tokens:       map[string]*models.RefreshToken{},
	}
	for _, u := range users {
		repo.usersByEmail[u.Email] = u
	}
	return repo
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	user, ok := r.usersByEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range r.usersByEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) UpdateLastLogin(context.Context, string, time.Time) error { return nil }

func (r *fakeUserRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	r.tokens[token.Token] = token
	return nil
}

func (r *fakeUserRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := r.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return stored, nil
}

func (r *fakeUserRepo) RevokeRefreshToken(_ context.Context, id string, _ time.Time) error {
	r.revoked = append(r.revoked, id)
	return nil
}

func (r *fakeUserRepo) RevokeUserRefreshTokens(context.Context, string) error { return nil }

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func authTestRouter(repo *fakeUserRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewAuthService(repo, nil, nil, service.AuthConfig{
		AccessTokenSecret:  "handler-test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "classboard-test",
	})
	h := NewAuthHandler(svc)

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	return r
}

func postJSON(r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestLoginSucceedsWithValidCredentials(t *testing.T) {
	repo := newFakeUserRepo(&models.User{
		ID:           "user-1",
		Email:        "teacher@example.com",
		PasswordHash: hashPassword(t, "correct horse"),
		FullName:     "Ms. Rivera",
		Role:         models.RoleTeacher,
		Active:       true,
	})
	r := authTestRouter(repo)

	rec := postJSON(r, "/auth/login", gin.H{"email": "teacher@example.com", "password": "correct horse"})

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Data.AccessToken)
	assert.NotEmpty(t, envelope.Data.RefreshToken)
	assert.Equal(t, "teacher@example.com", envelope.Data.User.Email)
	assert.Equal(t, models.RoleTeacher, envelope.Data.User.Role)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	repo := newFakeUserRepo(&models.User{
		ID:           "user-1",
		Email:        "teacher@example.com",
		PasswordHash: hashPassword(t, "correct horse"),
		Role:         models.RoleTeacher,
		Active:       true,
	})
	r := authTestRouter(repo)

	rec := postJSON(r, "/auth/login", gin.H{"email": "teacher@example.com", "password": "battery staple"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_CREDENTIALS")
}

// Unknown emails answer the same way as bad passwords.
func TestLoginUnknownEmailIsIndistinguishable(t *testing.T) {
	r := authTestRouter(newFakeUserRepo())

	rec := postJSON(r, "/auth/login", gin.H{"email": "nobody@example.com", "password": "whatever"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_CREDENTIALS")
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	repo := newFakeUserRepo(&models.User{
		ID:           "user-1",
		Email:        "former@example.com",
		PasswordHash: hashPassword(t, "correct horse"),
		Role:         models.RoleStudent,
		Active:       false,
	})
	r := authTestRouter(repo)

	rec := postJSON(r, "/auth/login", gin.H{"email": "former@example.com", "password": "correct horse"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ACCOUNT_INACTIVE")
}

func TestLoginValidatesPayload(t *testing.T) {
	r := authTestRouter(newFakeUserRepo())

	rec := postJSON(r, "/auth/login", gin.H{"email": "not-an-email"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := newFakeUserRepo(&models.User{
		ID:           "user-1",
		Email:        "teacher@example.com",
		PasswordHash: hashPassword(t, "correct horse"),
		Role:         models.RoleTeacher,
		Active:       true,
	})
	r := authTestRouter(repo)

	login := postJSON(r, "/auth/login", gin.H{"email": "teacher@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, login.Code)
	var loginEnvelope struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &loginEnvelope))

	rec := postJSON(r, "/auth/refresh", gin.H{"refresh_token": loginEnvelope.Data.RefreshToken})

	require.Equal(t, http.StatusOK, rec.Code)
	var refreshEnvelope struct {
		Data models.RefreshTokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshEnvelope))
	assert.NotEmpty(t, refreshEnvelope.Data.AccessToken)
	assert.NotEqual(t, loginEnvelope.Data.RefreshToken, refreshEnvelope.Data.RefreshToken)
	assert.Len(t, repo.revoked, 1)
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	r := authTestRouter(newFakeUserRepo())

	rec := postJSON(r, "/auth/refresh", gin.H{"refresh_token": "made-up"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
