package client

import (
	"bytes"
	"chatus/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const tokenCookie = "token"

var (
	ErrNoToken       = errors.New("no-token-cookie")
	ErrRequestFailed = errors.New("request-failed")
)

// API talks to the HTTP side of the server and keeps the session cookie.
type API struct {
	base   *url.URL
	origin string
	http   *http.Client
	token  string
}

// NewAPI targets base, e.g. http://localhost:5000. Requests carry origin as
// their Origin header because the server only serves allow-listed origins.
func NewAPI(base, origin string) (*API, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &API{base: u, origin: origin, http: &http.Client{Timeout: 15 * time.Second}}, nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) Login(ctx context.Context, username, password string) error {
	return a.authenticate(ctx, "/auth/login", username, password)
}

func (a *API) Signup(ctx context.Context, username, password string) error {
	return a.authenticate(ctx, "/auth/signup", username, password)
}

func (a *API) authenticate(ctx context.Context, path, username, password string) error {
	resp, err := a.do(ctx, http.MethodPost, path, credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := expectOK(resp); err != nil {
		return err
	}
	for _, c := range resp.Cookies() {
		if c.Name == tokenCookie {
			a.token = c.Value
			return nil
		}
	}
	return ErrNoToken
}

// OpenConversation returns the direct conversation with peer, creating it if needed.
func (a *API) OpenConversation(ctx context.Context, peer string) (domain.ConversationSummary, error) {
	var out domain.ConversationSummary
	resp, err := a.do(ctx, http.MethodPost, "/conversations", map[string]string{"username": peer})
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := expectOK(resp); err != nil {
		return out, err
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

func (a *API) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var out []domain.ConversationSummary
	resp, err := a.do(ctx, http.MethodGet, "/conversations", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := expectOK(resp); err != nil {
		return nil, err
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// SocketConfig returns a client config for the conversation's websocket.
func (a *API) SocketConfig(conversationId string) Config {
	u := *a.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/ws/" + url.PathEscape(conversationId)

	cfg := DefaultConfig(u.String())
	cfg.Header = a.header()
	return cfg
}

func (a *API) header() http.Header {
	h := http.Header{}
	if a.origin != "" {
		h.Set("Origin", a.origin)
	}
	if a.token != "" {
		h.Set("Cookie", (&http.Cookie{Name: tokenCookie, Value: a.token}).String())
	}
	return h
}

func (a *API) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, r)
	if err != nil {
		return nil, err
	}
	req.Header = a.header()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.http.Do(req)
}

// expectOK turns a non-2xx response into an error carrying the server's code.
func expectOK(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	code, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("%w: %d %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(code)))
}
