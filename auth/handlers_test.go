package auth_test

import (
	"bytes"
	"chatus/auth"
	"chatus/domain"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Signup(ctx context.Context, username, password string) (string, error) {
	args := m.Called(ctx, username, password)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, username, password string) (string, error) {
	args := m.Called(ctx, username, password)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) VerifyToken(token string) (string, error) {
	args := m.Called(token)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) GenerateToken(id string) (string, error) {
	args := m.Called(id)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) CurrentUser(ctx context.Context, id string) (domain.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.User), args.Error(1)
}

const goodCreds = `{"username":"alice", "password":"pass1234"}`

// credentialsCase describes one POST to a credentials endpoint. When
// username is set the service is expected to be called with it and
// answer token or err.
type credentialsCase struct {
	description  string
	body         string
	username     string
	password     string
	token        string
	err          error
	expectedCode int
	expectedBody string
}

func (tc credentialsCase) withDefaults() credentialsCase {
	if tc.body == "" {
		tc.body = goodCreds
	}
	if tc.username == "" && tc.body == goodCreds {
		tc.username, tc.password = "alice", "pass1234"
	}
	return tc
}

type credentialsHandlers interface {
	SignupHandler(ctx *gin.Context)
	LoginHandler(ctx *gin.Context)
}

func runCredentialsCases(t *testing.T, method string, handler func(credentialsHandlers) gin.HandlerFunc, cases []credentialsCase) {
	for _, tc := range cases {
		tc := tc.withDefaults()
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()
			m := new(MockAuthService)
			if tc.username != "" {
				m.On(method, mock.Anything, tc.username, tc.password).Return(tc.token, tc.err)
			}

			server := gin.New()
			server.POST("/creds", handler(auth.NewAuthHandler(m, 197*time.Second)))

			req := httptest.NewRequest(http.MethodPost, "/creds", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			res := httptest.NewRecorder()
			server.ServeHTTP(res, req)

			assert.Equal(t, tc.expectedCode, res.Code)
			assert.Equal(t, tc.expectedBody, res.Body.String())

			cookies := res.Result().Cookies()
			if tc.token == "" || tc.err != nil {
				assert.Empty(t, cookies)
			} else if assert.Len(t, cookies, 1) {
				c := cookies[0]
				assert.Equal(t, "token", c.Name)
				assert.Equal(t, tc.token, c.Value)
				assert.Equal(t, "/", c.Path)
				assert.Equal(t, 197, c.MaxAge)
				assert.True(t, c.HttpOnly)
				assert.True(t, c.Secure)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestSignupHandler(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	exErr := errors.New("example error")

	runCredentialsCases(t, "Signup", func(h credentialsHandlers) gin.HandlerFunc { return h.SignupHandler }, []credentialsCase{
		{description: "normal success", token: "tokenhaha", expectedCode: http.StatusCreated},
		{
			description:  "username is normalized",
			body:         `{"username":"  Alice ", "password":"pass1234"}`,
			username:     "alice",
			password:     "pass1234",
			token:        "tok",
			expectedCode: http.StatusCreated,
		},
		{description: "username already exists", err: domain.ErrDuplicateUsername, expectedCode: http.StatusConflict, expectedBody: auth.ErrUsernameAlreadyExistsStr},
		{description: "weak password", err: auth.ErrWeakPassword, expectedCode: http.StatusBadRequest, expectedBody: auth.ErrWeakPasswordStr},
		{description: "password too long", err: auth.ErrPasswordTooLong, expectedCode: http.StatusBadRequest, expectedBody: auth.ErrPasswordTooLongStr},
		{description: "invalid username format", err: auth.ErrInvalidUsernameFormat, expectedCode: http.StatusBadRequest, expectedBody: auth.ErrInvalidUsernameFormatStr},
		{description: "non json request", body: `{`, expectedCode: http.StatusBadRequest, expectedBody: auth.ErrInvalidRequestFormatStr},
		{
			description: "database failure", err: fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, exErr),
			expectedCode: http.StatusInternalServerError, expectedBody: auth.ErrUnknownStr,
		},
		{
			description: "hashing failure", err: fmt.Errorf("%w: %w", domain.UnexpectedPasswordHashingError, exErr),
			expectedCode: http.StatusInternalServerError, expectedBody: auth.ErrUnknownStr,
		},
		{
			description: "token generation failure", err: fmt.Errorf("%w: %w", domain.UnexpectedTokenGenerationError, exErr),
			expectedCode: http.StatusInternalServerError, expectedBody: auth.ErrAccountCreatedButNoToken,
		},
		{description: "timeout error", err: context.DeadlineExceeded, expectedCode: http.StatusGatewayTimeout, expectedBody: auth.ErrServerTimeoutStr},
		{description: "client closed request", err: context.Canceled, expectedCode: 499},
	})
}

func TestLoginHandler(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	exErr := errors.New("example error")

	runCredentialsCases(t, "Login", func(h credentialsHandlers) gin.HandlerFunc { return h.LoginHandler }, []credentialsCase{
		{description: "successful login", token: "loginToken123", expectedCode: http.StatusOK},
		{description: "user not found", err: domain.ErrUserNotFound, expectedCode: http.StatusUnauthorized, expectedBody: auth.ErrInvalidCredentialsStr},
		{description: "incorrect password", err: auth.ErrIncorrectPassword, expectedCode: http.StatusUnauthorized, expectedBody: auth.ErrInvalidCredentialsStr},
		{description: "non json request", body: `{`, expectedCode: http.StatusBadRequest, expectedBody: auth.ErrInvalidRequestFormatStr},
		{description: "timeout error", err: context.DeadlineExceeded, expectedCode: http.StatusGatewayTimeout, expectedBody: auth.ErrServerTimeoutStr},
		{
			description: "hash comparison failure", err: fmt.Errorf("%w: %w", domain.UnexpectedPasswordHashComparisonError, exErr),
			expectedCode: http.StatusInternalServerError, expectedBody: auth.ErrUnknownStr,
		},
		{
			description: "token generation failure", err: fmt.Errorf("%w: %w", domain.UnexpectedTokenGenerationError, exErr),
			expectedCode: http.StatusInternalServerError, expectedBody: auth.ErrUnknownStr,
		},
		{description: "unknown error", err: errors.New("random stuff"), expectedCode: http.StatusInternalServerError, expectedBody: auth.ErrUnknownStr},
	})
}

func TestLogoutHandler(t *testing.T) {
	t.Parallel()
	authHandler := auth.NewAuthHandler(new(MockAuthService), 4*time.Second)
	server := gin.New()
	server.POST("/logout", authHandler.LogoutHandler)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)

	cookies := res.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "token", cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0, "token age must be negative so the cookie gets deleted")
}

func TestRequireAuthMiddleware(t *testing.T) {
	t.Parallel()

	setupServer := func(m *MockAuthService) *gin.Engine {
		authHandler := auth.NewAuthHandler(m, 15*time.Second)
		server := gin.New()
		server.Use(authHandler.RequireAuthMiddleware(time.Millisecond))
		server.GET("/conversations", func(ctx *gin.Context) {
			ctx.String(http.StatusOK, ctx.GetString("id"))
		})
		return server
	}

	testCases := []struct {
		description  string
		cookie       string
		verifyErr    error
		expectedCode int
		expectedBody string
	}{
		{
			description:  "missing cookie",
			expectedCode: http.StatusUnauthorized,
			expectedBody: auth.ErrMissingTokenStr,
		},
		{
			description:  "valid token",
			cookie:       "valid-token",
			expectedCode: http.StatusOK,
			expectedBody: "user-id-123",
		},
		{
			description:  "expired token",
			cookie:       "expired-token",
			verifyErr:    domain.ErrExpiredToken,
			expectedCode: http.StatusUnauthorized,
			expectedBody: auth.ErrExpiredTokenStr,
		},
		{
			description:  "tampered token",
			cookie:       "aaa.bbb.ccccccccccccccc",
			verifyErr:    domain.ErrInvalidTokenSignature,
			expectedCode: http.StatusInternalServerError,
		},
		{
			description:  "verification failure",
			cookie:       "weird-token",
			verifyErr:    domain.UnexpectedTokenVerificationError,
			expectedCode: http.StatusUnauthorized,
			expectedBody: auth.ErrUnknownStr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()
			m := new(MockAuthService)
			if tc.cookie != "" {
				id := ""
				if tc.verifyErr == nil {
					id = "user-id-123"
				}
				m.On("VerifyToken", tc.cookie).Return(id, tc.verifyErr)
			}
			server := setupServer(m)

			req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tc.cookie})
			}
			res := httptest.NewRecorder()
			server.ServeHTTP(res, req)

			assert.Equal(t, tc.expectedCode, res.Code)
			assert.Equal(t, tc.expectedBody, res.Body.String())
			m.AssertExpectations(t)
		})
	}
}

func TestRefreshSessionHandler(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	exErr := errors.New("example error")

	testCases := []struct {
		description   string
		cookieValue   string
		setupMocks    func(m *MockAuthService)
		expectedCode  int
		expectedBody  string
		expectedToken string
	}{
		{
			description:  "missing token cookie",
			setupMocks:   func(m *MockAuthService) {},
			expectedCode: http.StatusUnauthorized,
			expectedBody: auth.ErrUnauthenticatedStr,
		},
		{
			description: "invalid or expired token",
			cookieValue: "bad-token",
			setupMocks: func(m *MockAuthService) {
				m.On("VerifyToken", "bad-token").Return("", domain.ErrExpiredToken)
			},
			expectedCode: http.StatusUnauthorized,
			expectedBody: auth.ErrBadTokenStr,
		},
		{
			description: "token generation failure",
			cookieValue: "valid-token",
			setupMocks: func(m *MockAuthService) {
				m.On("VerifyToken", "valid-token").Return("user-123", nil)
				m.On("GenerateToken", "user-123").Return("", fmt.Errorf("%w: %w", domain.UnexpectedTokenGenerationError, exErr))
			},
			expectedCode: http.StatusInternalServerError,
		},
		{
			description: "successful refresh",
			cookieValue: "valid-token",
			setupMocks: func(m *MockAuthService) {
				m.On("VerifyToken", "valid-token").Return("user-123", nil)
				m.On("GenerateToken", "user-123").Return("new-refreshed-token", nil)
			},
			expectedCode:  http.StatusOK,
			expectedToken: "new-refreshed-token",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()
			mockService := new(MockAuthService)
			tc.setupMocks(mockService)

			authHandler := auth.NewAuthHandler(mockService, 24*time.Hour)
			server := gin.New()
			server.POST("/refresh", authHandler.RefreshSessionHandler)

			req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
			if tc.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tc.cookieValue})
			}
			res := httptest.NewRecorder()
			server.ServeHTTP(res, req)

			assert.Equal(t, tc.expectedCode, res.Code)
			assert.Equal(t, tc.expectedBody, res.Body.String())

			if tc.expectedToken != "" {
				cookies := res.Result().Cookies()
				if assert.NotEmpty(t, cookies) {
					assert.Equal(t, "token", cookies[0].Name)
					assert.Equal(t, tc.expectedToken, cookies[0].Value)
				}
			} else {
				assert.Empty(t, res.Result().Cookies())
			}

			mockService.AssertExpectations(t)
		})
	}
}

func TestMeHandler(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	testCases := []struct {
		description  string
		userId       string
		setupMocks   func(m *MockAuthService)
		expectedCode int
		expectedBody string
	}{
		{
			description:  "no id in context",
			expectedCode: http.StatusUnauthorized,
			expectedBody: auth.ErrUnauthenticatedStr,
		},
		{
			description: "known user",
			userId:      "u1",
			setupMocks: func(m *MockAuthService) {
				m.On("CurrentUser", mock.Anything, "u1").Return(domain.User{Id: "u1", Username: "alice"}, nil)
			},
			expectedCode: http.StatusOK,
			expectedBody: `{"id":"u1","username":"alice"}`,
		},
		{
			description: "deleted user",
			userId:      "u1",
			setupMocks: func(m *MockAuthService) {
				m.On("CurrentUser", mock.Anything, "u1").Return(domain.User{}, domain.ErrUserNotFound)
			},
			expectedCode: http.StatusNotFound,
			expectedBody: auth.ErrUserNotFoundStr,
		},
		{
			description: "database failure",
			userId:      "u1",
			setupMocks: func(m *MockAuthService) {
				m.On("CurrentUser", mock.Anything, "u1").Return(domain.User{}, domain.UnexpectedDatabaseError)
			},
			expectedCode: http.StatusInternalServerError,
			expectedBody: auth.ErrUnknownStr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()
			m := new(MockAuthService)
			if tc.setupMocks != nil {
				tc.setupMocks(m)
			}
			server := gin.New()
			server.GET("/me", func(ctx *gin.Context) {
				if tc.userId != "" {
					ctx.Set("id", tc.userId)
				}
			}, auth.NewAuthHandler(m, time.Hour).MeHandler)

			res := httptest.NewRecorder()
			server.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/me", nil))

			assert.Equal(t, tc.expectedCode, res.Code)
			if tc.expectedCode == http.StatusOK {
				assert.JSONEq(t, tc.expectedBody, res.Body.String())
			} else {
				assert.Equal(t, tc.expectedBody, res.Body.String())
			}
			m.AssertExpectations(t)
		})
	}
}
