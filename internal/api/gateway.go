// Package api issues authenticated requests against the Noblelift REST API.
//
// The Gateway attaches the stored access token to every request, recovers
// from an expired token by refreshing it once and resending, and reports
// terminal authentication failures through a callback supplied at
// construction. Token state is read from and written to a TokenStore; the
// Gateway never keeps its own copy beyond a single call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/noblelift/noblelift-client/internal/auth"
	"github.com/noblelift/noblelift-client/internal/metrics"
)

const (
	DefaultLoginPath   = "/auth/login"
	DefaultRefreshPath = "/auth/refresh"
	DefaultLogoutPath  = "/auth/logout"
	DefaultProfilePath = "/profiles/me"

	DefaultTimeout = 30 * time.Second

	userAgent       = "noblelift-client/1.0"
	requestIDHeader = "X-Request-ID"
	refreshKey      = "refresh"
)

// TokenStore is the token persistence the Gateway reads and writes through.
type TokenStore interface {
	Initialize(ctx context.Context)
	ReadSync() string
	WriteBackground(value string)
	ClearSync()
	Wait()
}

// Endpoints holds the auth-related paths, relative to the base URL.
type Endpoints struct {
	Login   string
	Refresh string
	Logout  string
	Profile string
}

// GatewayOpts configures a Gateway.
type GatewayOpts struct {
	BaseURL string
	// Timeout bounds each HTTP exchange. Defaults to DefaultTimeout.
	Timeout time.Duration
	// OnUnauthorized is called after a request ends unauthorized and the
	// tokens have been cleared. It must be safe to call repeatedly.
	OnUnauthorized func()
	Endpoints      Endpoints
	Metrics        *metrics.Metrics
	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client
}

// RequestOptions describes a single API call.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   []byte
}

// Gateway is the authenticated API client.
type Gateway struct {
	httpClient     *resty.Client
	store          TokenStore
	endpoints      Endpoints
	timeout        time.Duration
	onUnauthorized func()
	metrics        *metrics.Metrics

	refreshGroup singleflight.Group

	// mu guards generation and cancelRefresh. generation changes whenever
	// the session behind the tokens changes (login, logout, terminal
	// unauthorized), so late results from an older session are dropped.
	mu            sync.Mutex
	generation    uint64
	cancelRefresh context.CancelFunc

	background sync.WaitGroup
}

// NewGateway creates a Gateway reading tokens from store.
func NewGateway(store TokenStore, opts GatewayOpts) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.Endpoints = withDefaultEndpoints(opts.Endpoints)

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.
		SetDebug(false).
		SetLogger(restyLogger{}).
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeaders(
			map[string]string{
				"Accept":     "application/json",
				"User-Agent": userAgent,
			},
		)

	return &Gateway{
		httpClient:     client,
		store:          store,
		endpoints:      opts.Endpoints,
		timeout:        opts.Timeout,
		onUnauthorized: opts.OnUnauthorized,
		metrics:        opts.Metrics,
	}
}

func withDefaultEndpoints(e Endpoints) Endpoints {
	if e.Login == "" {
		e.Login = DefaultLoginPath
	}
	if e.Refresh == "" {
		e.Refresh = DefaultRefreshPath
	}
	if e.Logout == "" {
		e.Logout = DefaultLogoutPath
	}
	if e.Profile == "" {
		e.Profile = DefaultProfilePath
	}
	return e
}

// Initialize loads persisted tokens. Call once before the first request.
func (g *Gateway) Initialize(ctx context.Context) {
	g.store.Initialize(ctx)
}

// Tokens returns the currently stored token pair. Unreadable stored values
// are treated as no tokens.
func (g *Gateway) Tokens() auth.TokenPair {
	pair, ok := auth.Parse(g.store.ReadSync())
	if !ok {
		return auth.TokenPair{}
	}
	return pair
}

// HasTokens reports whether an access token is stored.
func (g *Gateway) HasTokens() bool {
	return !g.Tokens().IsZero()
}

// Request sends an authenticated request to path.
//
// A 401 on the first attempt triggers one token refresh and one resend with
// the new access token. A 401 on the resend, a rejected refresh or a missing
// refresh token clears the tokens, runs the unauthorized callback and
// returns ErrUnauthorized. Transport failures return a *NetworkError and
// leave the tokens alone. Any other status is returned as a response, as is
// a 401 for a request that carried its own Authorization header.
func (g *Gateway) Request(ctx context.Context, path string, opts RequestOptions) (*resty.Response, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	opts.Method = method

	gen := g.currentGeneration()
	used := g.Tokens().AccessToken

	res, err := g.send(ctx, path, opts, used)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusUnauthorized {
		return res, nil
	}
	// The stored token was not sent, so the 401 says nothing about it.
	if opts.Header.Get("Authorization") != "" {
		return res, nil
	}

	log.Debug().Str("method", method).Str("path", path).Msg("access token rejected, refreshing")

	access, err := g.refresh(ctx, used)
	if err != nil {
		if errors.Is(err, ErrNetwork) || ctx.Err() != nil {
			return nil, err
		}
		return nil, g.failUnauthorized(gen, err)
	}

	res, err = g.send(ctx, path, opts, access)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() == http.StatusUnauthorized {
		return nil, g.failUnauthorized(gen, errors.New("request rejected after token refresh"))
	}
	return res, nil
}

// send performs exactly one HTTP exchange.
func (g *Gateway) send(ctx context.Context, path string, opts RequestOptions, access string) (*resty.Response, error) {
	req := g.httpClient.
		NewRequest().
		SetContext(ctx).
		SetHeader(requestIDHeader, uuid.NewString())

	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if access != "" && opts.Header.Get("Authorization") == "" {
		req.SetHeader("Authorization", "Bearer "+access)
	}
	if len(opts.Body) > 0 {
		if !isSafeMethod(opts.Method) && opts.Header.Get("Content-Type") == "" {
			req.SetHeader("Content-Type", "application/json")
		}
		req.SetBody(opts.Body)
	}

	res, err := req.Execute(opts.Method, path)
	if err != nil {
		g.metrics.ObserveNetworkFailure()
		return nil, &NetworkError{Op: opts.Method + " " + path, Err: err}
	}
	g.metrics.ObserveRequest(opts.Method, res.StatusCode())

	log.Debug().
		Str("method", opts.Method).
		Str("path", path).
		Int("status", res.StatusCode()).
		Dur("took", res.Time()).
		Msg("api request")

	return res, nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Refresh exchanges the stored refresh token for a new token pair, persists
// it and returns the new access token. Concurrent callers share a single
// in-flight refresh. It never retries.
func (g *Gateway) Refresh(ctx context.Context) (string, error) {
	return g.refresh(ctx, g.Tokens().AccessToken)
}

// refresh returns an access token to use in place of `used`. If the stored
// token no longer equals `used`, another call already replaced it and the
// current one is returned without contacting the server.
func (g *Gateway) refresh(ctx context.Context, used string) (string, error) {
	ch := g.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return g.doRefresh(ctx, used)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		if r.Shared {
			log.Debug().Msg("joined in-flight token refresh")
		}
		return r.Val.(string), nil
	}
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (g *Gateway) doRefresh(ctx context.Context, used string) (string, error) {
	current := g.Tokens()
	if !current.IsZero() && current.AccessToken != used {
		g.metrics.ObserveRefresh(metrics.RefreshReused)
		return current.AccessToken, nil
	}
	if !current.HasRefresh() {
		g.metrics.ObserveRefresh(metrics.RefreshFailure)
		return "", fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	// The refresh is shared, so it must not die with the first caller's
	// context. Logout cancels it through cancelRefresh instead.
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.mu.Lock()
	gen := g.generation
	g.cancelRefresh = cancel
	g.mu.Unlock()
	defer func() {
		cancel()
		g.mu.Lock()
		g.cancelRefresh = nil
		g.mu.Unlock()
	}()

	res, err := g.httpClient.
		NewRequest().
		SetContext(rctx).
		SetHeader(requestIDHeader, uuid.NewString()).
		SetHeader("Content-Type", "application/json").
		SetBody(refreshRequest{Refresh: current.RefreshToken}).
		Post(g.endpoints.Refresh)
	if err != nil {
		if g.currentGeneration() != gen {
			g.metrics.ObserveRefresh(metrics.RefreshFailure)
			return "", fmt.Errorf("%w: session ended during refresh", ErrRefreshFailed)
		}
		g.metrics.ObserveNetworkFailure()
		return "", &NetworkError{Op: "refresh", Err: err}
	}
	g.metrics.ObserveRequest(http.MethodPost, res.StatusCode())

	if !res.IsSuccess() {
		g.metrics.ObserveRefresh(metrics.RefreshFailure)
		return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, res.StatusCode())
	}

	pair, ok := auth.Normalize(res.Body())
	if !ok {
		g.metrics.ObserveRefresh(metrics.RefreshFailure)
		return "", fmt.Errorf("%w: no access token in response", ErrRefreshFailed)
	}
	if !pair.HasRefresh() {
		pair.RefreshToken = current.RefreshToken
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != gen {
		g.metrics.ObserveRefresh(metrics.RefreshFailure)
		return "", fmt.Errorf("%w: session ended during refresh", ErrRefreshFailed)
	}
	g.store.WriteBackground(auth.Serialize(pair))
	g.metrics.ObserveRefresh(metrics.RefreshSuccess)

	ev := log.Info()
	if info, ok := auth.Inspect(pair.AccessToken); ok && !info.ExpiresAt.IsZero() {
		ev = ev.Time("expiresAt", info.ExpiresAt)
	}
	ev.Msg("access token refreshed")
	return pair.AccessToken, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates with identifier and secret and stores the returned
// tokens. Bad credentials (401) return ErrUnauthorized; other rejections
// return a *LoginFailedError. A failed login leaves existing tokens alone.
// On success the tokens are persisted before Login returns.
func (g *Gateway) Login(ctx context.Context, identifier, secret string) (auth.TokenPair, error) {
	res, err := g.httpClient.
		NewRequest().
		SetContext(ctx).
		SetHeader(requestIDHeader, uuid.NewString()).
		SetHeader("Content-Type", "application/json").
		SetBody(loginRequest{Email: identifier, Password: secret}).
		Post(g.endpoints.Login)
	if err != nil {
		g.metrics.ObserveNetworkFailure()
		return auth.TokenPair{}, &NetworkError{Op: "login", Err: err}
	}
	g.metrics.ObserveRequest(http.MethodPost, res.StatusCode())

	if res.StatusCode() == http.StatusUnauthorized {
		log.Info().Str("identifier", redactEmail(identifier)).Msg("login rejected: bad credentials")
		return auth.TokenPair{}, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if !res.IsSuccess() {
		log.Warn().Str("identifier", redactEmail(identifier)).Int("status", res.StatusCode()).Msg("login failed")
		return auth.TokenPair{}, &LoginFailedError{StatusCode: res.StatusCode()}
	}

	pair, ok := auth.Normalize(res.Body())
	if !ok {
		return auth.TokenPair{}, &LoginFailedError{StatusCode: res.StatusCode(), Reason: "no access token in response"}
	}

	g.mu.Lock()
	g.generation++
	if g.cancelRefresh != nil {
		g.cancelRefresh()
	}
	g.store.WriteBackground(auth.Serialize(pair))
	g.mu.Unlock()
	g.store.Wait()

	log.Info().Str("identifier", redactEmail(identifier)).Msg("logged in")
	return pair, nil
}

// Logout clears the tokens immediately and notifies the server in the
// background. The server call is best effort and its outcome is ignored.
func (g *Gateway) Logout(ctx context.Context) {
	access := g.Tokens().AccessToken

	g.mu.Lock()
	g.clearLocked()
	g.mu.Unlock()

	g.background.Add(1)
	go func() {
		defer g.background.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		req := g.httpClient.
			NewRequest().
			SetContext(nctx).
			SetHeader(requestIDHeader, uuid.NewString())
		if access != "" {
			req.SetHeader("Authorization", "Bearer "+access)
		}
		res, err := req.Post(g.endpoints.Logout)
		if err != nil {
			log.Debug().Err(err).Msg("logout notification failed")
			return
		}
		g.metrics.ObserveRequest(http.MethodPost, res.StatusCode())
	}()
}

// Wait blocks until background server notifications have finished.
func (g *Gateway) Wait() {
	g.background.Wait()
}

// FetchProfile returns the identity payload of the current user. Any
// non-2xx response is an error, as is an empty or null body.
func (g *Gateway) FetchProfile(ctx context.Context) (json.RawMessage, error) {
	res, err := g.Request(ctx, g.endpoints.Profile, RequestOptions{Method: http.MethodGet})
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, newStatusError(http.MethodGet, g.endpoints.Profile, res)
	}

	body := bytes.TrimSpace(res.Body())
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, errors.New("identity endpoint returned no profile")
	}
	return json.RawMessage(body), nil
}

func (g *Gateway) currentGeneration() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// failUnauthorized ends a call whose session is no longer valid. If the
// session changed while the call was in flight, the newer session is left
// untouched.
func (g *Gateway) failUnauthorized(gen uint64, cause error) error {
	err := fmt.Errorf("%w: %w", ErrUnauthorized, cause)

	g.mu.Lock()
	if g.generation != gen {
		g.mu.Unlock()
		return err
	}
	g.clearLocked()
	g.mu.Unlock()

	g.metrics.ObserveUnauthorized()
	log.Warn().Err(cause).Msg("session is no longer authorized, tokens cleared")

	if g.onUnauthorized != nil {
		g.onUnauthorized()
	}
	return err
}

// clearLocked drops the tokens and cancels any in-flight refresh.
// Must be called with g.mu held.
func (g *Gateway) clearLocked() {
	g.generation++
	if g.cancelRefresh != nil {
		g.cancelRefresh()
	}
	g.store.ClearSync()
	g.store.WriteBackground("")
}
