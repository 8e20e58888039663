package auth

import (
	"chatus/domain"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingTokenStr          = "missing-token"
	ErrExpiredTokenStr          = "expired-token"
	ErrBadTokenStr              = "bad-token"
	ErrServerTimeoutStr         = "server-timeout"
	ErrInvalidRequestFormatStr  = "bad-request-format"
	ErrInvalidCredentialsStr    = "invalid-credentials"
	ErrUnknownStr               = "unknown-error"
	ErrUnauthenticatedStr       = "unauthenticated"
	ErrUsernameAlreadyExistsStr = "username-already-exists"
	ErrWeakPasswordStr          = "weak-password"
	ErrPasswordTooLongStr       = "password-too-long"
	ErrInvalidUsernameFormatStr = "invalid-username-format"
	ErrAccountCreatedButNoToken = "account-created-but-no-token"
	ErrUserNotFoundStr          = "user-not-found"
)

const (
	tokenCookie        = "token"
	statusClientClosed = 499
)

// errorResponse maps a service error to what the client sees. Unexpected
// errors get logged.
type errorResponse struct {
	err        error
	status     int
	body       string
	unexpected bool
}

var requestErrors = []errorResponse{
	{err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, body: ErrServerTimeoutStr},
	{err: context.Canceled, status: statusClientClosed},
	{err: domain.UnexpectedDatabaseError, status: http.StatusInternalServerError, body: ErrUnknownStr, unexpected: true},
}

var signupErrors = append([]errorResponse{
	{err: domain.ErrDuplicateUsername, status: http.StatusConflict, body: ErrUsernameAlreadyExistsStr},
	{err: ErrWeakPassword, status: http.StatusBadRequest, body: ErrWeakPasswordStr},
	{err: ErrPasswordTooLong, status: http.StatusBadRequest, body: ErrPasswordTooLongStr},
	{err: ErrInvalidUsernameFormat, status: http.StatusBadRequest, body: ErrInvalidUsernameFormatStr},
	{err: domain.UnexpectedPasswordHashingError, status: http.StatusInternalServerError, body: ErrUnknownStr, unexpected: true},
	{err: domain.UnexpectedTokenGenerationError, status: http.StatusInternalServerError, body: ErrAccountCreatedButNoToken, unexpected: true},
}, requestErrors...)

var loginErrors = append([]errorResponse{
	{err: ErrIncorrectPassword, status: http.StatusUnauthorized, body: ErrInvalidCredentialsStr},
	{err: domain.ErrUserNotFound, status: http.StatusUnauthorized, body: ErrInvalidCredentialsStr},
	{err: domain.UnexpectedPasswordHashComparisonError, status: http.StatusInternalServerError, body: ErrUnknownStr, unexpected: true},
	{err: domain.UnexpectedTokenGenerationError, status: http.StatusInternalServerError, body: ErrUnknownStr, unexpected: true},
}, requestErrors...)

var meErrors = append([]errorResponse{
	{err: domain.ErrUserNotFound, status: http.StatusNotFound, body: ErrUserNotFoundStr},
}, requestErrors...)

type authHandler struct {
	authService  AuthService
	cookieMaxAge time.Duration
}

func NewAuthHandler(service AuthService, cookieMaxAge time.Duration) *authHandler {
	return &authHandler{authService: service, cookieMaxAge: cookieMaxAge}
}

// redactToken keeps the header, the claims and the first 10 runes of the signature.
func redactToken(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return token
	}
	sig := []rune(parts[2])
	if len(sig) >= 10 {
		parts[2] = string(sig[:10]) + strings.Repeat("*", len(sig)-10)
	}
	return strings.Join(parts, ".")
}

func requestEvent(e *zerolog.Event, ctx *gin.Context) *zerolog.Event {
	return e.Str("ip", ctx.ClientIP()).Str("user_agent", ctx.Request.UserAgent())
}

// respond writes the first matching entry of table, or a logged 500.
func respond(ctx *gin.Context, where string, err error, table []errorResponse, fields func(*zerolog.Event) *zerolog.Event) {
	resp := errorResponse{status: http.StatusInternalServerError, body: ErrUnknownStr, unexpected: true}
	for _, r := range table {
		if errors.Is(err, r.err) {
			resp = r
			break
		}
	}
	if resp.unexpected {
		fields(requestEvent(log.Error(), ctx)).Err(err).Msg(where + ": unexpected error")
	}
	if resp.body == "" {
		ctx.Status(resp.status)
	} else {
		ctx.String(resp.status, resp.body)
	}
	ctx.Abort()
}

func (ah *authHandler) setTokenCookie(ctx *gin.Context, token string) {
	ctx.SetSameSite(http.SameSiteNoneMode)
	ctx.SetCookie(tokenCookie, token, int(ah.cookieMaxAge.Seconds()), "/", "", true, true)
}

// RequireAuthMiddleware puts the authenticated user id under "id".
// Tampered tokens are answered after trollTime.
func (ah *authHandler) RequireAuthMiddleware(trollTime time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, err := ctx.Cookie(tokenCookie)
		if err != nil {
			ctx.String(http.StatusUnauthorized, ErrMissingTokenStr)
			ctx.Abort()
			return
		}

		id, err := ah.authService.VerifyToken(token)
		switch {
		case err == nil:
			ctx.Set("id", id)
			ctx.Next()
			return

		case errors.Is(err, domain.ErrInvalidSigningAlg),
			errors.Is(err, domain.ErrInvalidTokenSignature),
			errors.Is(err, domain.ErrCorruptedToken):
			requestEvent(log.Warn(), ctx).Err(err).Str("token", redactToken(token)).
				Msg("RequireAuthMiddleware: suspicious token attempt")
			time.Sleep(trollTime)
			ctx.Status(http.StatusInternalServerError)

		case errors.Is(err, domain.ErrExpiredToken):
			log.Debug().Str("ip", ctx.ClientIP()).Msg("RequireAuthMiddleware: token expired")
			ctx.String(http.StatusUnauthorized, ErrExpiredTokenStr)

		default:
			requestEvent(log.Error(), ctx).Err(err).Str("token", redactToken(token)).
				Msg("RequireAuthMiddleware: internal auth error")
			ctx.String(http.StatusUnauthorized, ErrUnknownStr)
		}
		ctx.Abort()
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (ah *authHandler) credentialsHandler(
	where string,
	call func(ctx context.Context, username, password string) (string, error),
	table []errorResponse,
	okStatus int,
) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var creds credentials
		if err := ctx.ShouldBindJSON(&creds); err != nil {
			ctx.String(http.StatusBadRequest, ErrInvalidRequestFormatStr)
			ctx.Abort()
			return
		}

		token, err := call(ctx.Request.Context(), strings.ToLower(strings.TrimSpace(creds.Username)), creds.Password)
		if err != nil {
			respond(ctx, where, err, table, func(e *zerolog.Event) *zerolog.Event {
				return e.Str("username", creds.Username)
			})
			return
		}

		ah.setTokenCookie(ctx, token)
		ctx.Status(okStatus)
	}
}

func (ah *authHandler) LoginHandler(ctx *gin.Context) {
	ah.credentialsHandler("Login", ah.authService.Login, loginErrors, http.StatusOK)(ctx)
}

func (ah *authHandler) SignupHandler(ctx *gin.Context) {
	ah.credentialsHandler("Signup", ah.authService.Signup, signupErrors, http.StatusCreated)(ctx)
}

type meResponse struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

// MeHandler needs RequireAuthMiddleware in front of it.
func (ah *authHandler) MeHandler(ctx *gin.Context) {
	id := ctx.GetString("id")
	if id == "" {
		ctx.String(http.StatusUnauthorized, ErrUnauthenticatedStr)
		return
	}

	user, err := ah.authService.CurrentUser(ctx.Request.Context(), id)
	if err != nil {
		respond(ctx, "Me", err, meErrors, func(e *zerolog.Event) *zerolog.Event {
			return e.Str("user_id", id)
		})
		return
	}
	ctx.JSON(http.StatusOK, meResponse{Id: user.Id, Username: user.Username})
}

func (ah *authHandler) RefreshSessionHandler(ctx *gin.Context) {
	token, err := ctx.Cookie(tokenCookie)
	if err != nil {
		ctx.String(http.StatusUnauthorized, ErrUnauthenticatedStr)
		return
	}

	id, err := ah.authService.VerifyToken(token)
	if err != nil {
		requestEvent(log.Warn(), ctx).Err(err).Str("token", redactToken(token)).
			Msg("Refresh: Invalid token provided")
		ctx.String(http.StatusUnauthorized, ErrBadTokenStr)
		return
	}

	newToken, err := ah.authService.GenerateToken(id)
	if err != nil {
		requestEvent(log.Error(), ctx).Err(err).Str("user_id", id).
			Msg("Refresh: Failed to generate new token")
		ctx.Status(http.StatusInternalServerError)
		return
	}

	ah.setTokenCookie(ctx, newToken)
	ctx.Status(http.StatusOK)
}

func (ah *authHandler) LogoutHandler(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteNoneMode)
	ctx.SetCookie(tokenCookie, "", -1, "/", "", true, true)
	ctx.Status(http.StatusOK)
}
