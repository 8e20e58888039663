package client

import (
	"chatus/domain"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:5173"

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/login", func(ctx *gin.Context) {
		var body credentials
		if err := ctx.ShouldBindJSON(&body); err != nil || body.Password != "secret" {
			ctx.String(http.StatusUnauthorized, "invalid-credentials")
			return
		}
		ctx.SetCookie("token", "tok-"+body.Username, 60, "/", "", true, true)
		ctx.Status(http.StatusOK)
	})
	r.POST("/auth/signup", func(ctx *gin.Context) {
		ctx.Status(http.StatusCreated)
	})
	r.POST("/conversations", func(ctx *gin.Context) {
		if ctx.GetHeader("Origin") != testOrigin {
			ctx.Status(http.StatusForbidden)
			return
		}
		cookie, err := ctx.Cookie("token")
		if err != nil {
			ctx.String(http.StatusUnauthorized, "missing-token")
			return
		}
		var body map[string]string
		ctx.ShouldBindJSON(&body)
		ctx.JSON(http.StatusOK, domain.ConversationSummary{Id: "conv-" + cookie, PeerUsername: body["username"]})
	})
	r.GET("/conversations", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, []domain.ConversationSummary{{Id: "c1"}, {Id: "c2"}})
	})
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestAPI(t *testing.T) {
	t.Parallel()
	server := fakeServer(t)
	api, err := NewAPI(server.URL+"/", testOrigin)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("not logged in", func(t *testing.T) {
		_, err := api.OpenConversation(ctx, "bob")
		assert.ErrorIs(t, err, ErrRequestFailed)
		assert.ErrorContains(t, err, "401 missing-token")
	})

	t.Run("bad password", func(t *testing.T) {
		err := api.Login(ctx, "alice", "nope")
		assert.ErrorIs(t, err, ErrRequestFailed)
		assert.ErrorContains(t, err, "invalid-credentials")
	})

	t.Run("signup without cookie", func(t *testing.T) {
		assert.ErrorIs(t, api.Signup(ctx, "carol", "pw"), ErrNoToken)
	})

	require.NoError(t, api.Login(ctx, "alice", "secret"))

	conv, err := api.OpenConversation(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "conv-tok-alice", conv.Id)
	assert.Equal(t, "bob", conv.PeerUsername)

	convs, err := api.Conversations(ctx)
	require.NoError(t, err)
	assert.Len(t, convs, 2)

	cfg := api.SocketConfig(conv.Id)
	assert.Equal(t, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws/conv-tok-alice", cfg.URL)
	assert.Equal(t, testOrigin, cfg.Header.Get("Origin"))
	assert.Equal(t, "token=tok-alice", cfg.Header.Get("Cookie"))
}

func TestNewAPI_RejectsScheme(t *testing.T) {
	t.Parallel()
	_, err := NewAPI("ftp://example.com", "")
	assert.Error(t, err)
}
