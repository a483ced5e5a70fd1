package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noblelift/noblelift-client/internal/api"
	"github.com/noblelift/noblelift-client/internal/auth"
	"github.com/noblelift/noblelift-client/internal/storage"
	"github.com/noblelift/noblelift-client/internal/tokenstore"
)

type fakeGateway struct {
	mu sync.Mutex

	hasTokens  bool
	profile    string
	profileErr error
	loginErr   error

	initCalls    int
	profileCalls int
	logoutCalls  int
}

func (g *fakeGateway) Initialize(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
}

func (g *fakeGateway) HasTokens() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasTokens
}

func (g *fakeGateway) Login(_ context.Context, _, _ string) (auth.TokenPair, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loginErr != nil {
		return auth.TokenPair{}, g.loginErr
	}
	g.hasTokens = true
	return auth.TokenPair{AccessToken: "A1", RefreshToken: "R1"}, nil
}

func (g *fakeGateway) Logout(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logoutCalls++
	g.hasTokens = false
}

func (g *fakeGateway) FetchProfile(context.Context) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profileCalls++
	if g.profileErr != nil {
		return nil, g.profileErr
	}
	return json.RawMessage(g.profile), nil
}

func (g *fakeGateway) profileCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profileCalls
}

// recorder collects emitted states.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func (r *recorder) got() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestBootstrap_NoTokens(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw)
	rec := &recorder{}
	s.Subscribe(rec.listen)

	s.Bootstrap(context.Background())

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Nil(t, s.Profile())
	assert.Zero(t, gw.profileCount())
	assert.Equal(t, []State{StateLoading, StateUnauthenticated}, rec.got())

	select {
	case <-s.Ready():
	default:
		t.Fatal("ready not closed after bootstrap")
	}
}

func TestBootstrap_RestoresSession(t *testing.T) {
	gw := &fakeGateway{hasTokens: true, profile: `{"userId":42,"name":"Ann"}`}
	s := New(gw)
	rec := &recorder{}
	s.Subscribe(rec.listen)

	s.Bootstrap(context.Background())

	snap := s.Snapshot()
	assert.True(t, snap.Authenticated())
	require.NotNil(t, snap.Profile)
	assert.EqualValues(t, 42, snap.Profile.UserID)
	assert.JSONEq(t, `{"userId":42,"name":"Ann"}`, string(snap.Profile.Raw))
	assert.Equal(t, []State{StateLoading, StateAuthenticated}, rec.got())
}

func TestBootstrap_FailureIsUnauthenticated(t *testing.T) {
	for _, err := range []error{
		api.ErrUnauthorized,
		&api.NetworkError{Op: "GET /profiles/me", Err: errors.New("connection refused")},
	} {
		gw := &fakeGateway{hasTokens: true, profileErr: err}
		s := New(gw)

		s.Bootstrap(context.Background())

		assert.Equal(t, StateUnauthenticated, s.State())
		assert.Equal(t, 1, gw.profileCount())
	}
}

func TestBootstrap_OnlyOnce(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw)
	rec := &recorder{}
	s.Subscribe(rec.listen)

	s.Bootstrap(context.Background())
	s.Bootstrap(context.Background())

	assert.Equal(t, 1, gw.initCalls)
	assert.Len(t, rec.got(), 2)
}

func TestLogin(t *testing.T) {
	gw := &fakeGateway{profile: `{"userId":"9"}`}
	s := New(gw)
	s.Bootstrap(context.Background())

	rec := &recorder{}
	s.Subscribe(rec.listen)

	require.NoError(t, s.Login(context.Background(), "user@example.com", "secret"))
	assert.Equal(t, StateAuthenticated, s.State())
	require.NotNil(t, s.Profile())
	assert.EqualValues(t, 9, s.Profile().UserID)
	assert.Equal(t, []State{StateAuthenticated}, rec.got())
}

func TestLogin_FailureLeavesStateUnchanged(t *testing.T) {
	gw := &fakeGateway{loginErr: api.ErrUnauthorized}
	s := New(gw)
	s.Bootstrap(context.Background())

	rec := &recorder{}
	s.Subscribe(rec.listen)

	err := s.Login(context.Background(), "user@example.com", "wrong")
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Empty(t, rec.got())

	// Signed in users stay signed in after a failed attempt too.
	gw.loginErr = nil
	gw.profile = `{"userId":1}`
	require.NoError(t, s.Login(context.Background(), "user@example.com", "secret"))

	gw.loginErr = &api.LoginFailedError{StatusCode: http.StatusInternalServerError}
	err = s.Login(context.Background(), "user@example.com", "secret")
	assert.True(t, api.IsStatus(err, http.StatusInternalServerError))
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestLogin_ProfileFailure(t *testing.T) {
	gw := &fakeGateway{profileErr: errors.New("boom")}
	s := New(gw)
	s.Bootstrap(context.Background())

	err := s.Login(context.Background(), "user@example.com", "secret")
	require.Error(t, err)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestLogout_Idempotent(t *testing.T) {
	gw := &fakeGateway{hasTokens: true, profile: `{"userId":1}`}
	s := New(gw)
	s.Bootstrap(context.Background())
	require.Equal(t, StateAuthenticated, s.State())

	rec := &recorder{}
	s.Subscribe(rec.listen)

	assert.NotPanics(t, func() {
		s.Logout(context.Background())
		s.Logout(context.Background())
	})

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Nil(t, s.Profile())
	assert.Equal(t, 2, gw.logoutCalls)
	assert.Equal(t, []State{StateUnauthenticated, StateUnauthenticated}, rec.got())
}

func TestHandleUnauthorized_EmitsEveryTime(t *testing.T) {
	s := New(&fakeGateway{})
	s.Bootstrap(context.Background())

	rec := &recorder{}
	s.Subscribe(rec.listen)

	s.HandleUnauthorized()
	s.HandleUnauthorized()

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Equal(t, []State{StateUnauthenticated, StateUnauthenticated}, rec.got())
}

func TestSubscribe_PanickingListener(t *testing.T) {
	s := New(&fakeGateway{})

	var order []string
	s.Subscribe(func(Snapshot) { order = append(order, "first") })
	s.Subscribe(func(Snapshot) { panic("faulty listener") })
	s.Subscribe(func(Snapshot) { order = append(order, "third") })

	assert.NotPanics(t, func() { s.HandleUnauthorized() })
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := New(&fakeGateway{})
	a, b := &recorder{}, &recorder{}

	unsubscribeA := s.Subscribe(a.listen)
	s.Subscribe(b.listen)

	s.HandleUnauthorized()
	unsubscribeA()
	unsubscribeA()
	s.HandleUnauthorized()

	assert.Len(t, a.got(), 1)
	assert.Len(t, b.got(), 2)
}

func TestKeepAlive(t *testing.T) {
	gw := &fakeGateway{hasTokens: true, profile: `{"userId":5}`}
	s := New(gw)
	s.Bootstrap(context.Background())
	require.Equal(t, 1, gw.profileCount())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.KeepAlive(ctx, 10*time.Millisecond) }()

	assert.Eventually(t, func() bool { return gw.profileCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestKeepAlive_IdleWhenSignedOut(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw)
	s.Bootstrap(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.KeepAlive(ctx, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, gw.profileCount())
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{`{"userId":12}`, 12},
		{`{"userId":"34"}`, 34},
		{`{"userId":null}`, 0},
		{`{"name":"x"}`, 0},
		{`[]`, 0},
	}
	for _, tt := range tests {
		p := parseProfile(json.RawMessage(tt.raw))
		assert.Equal(t, tt.want, p.UserID, tt.raw)
		assert.Equal(t, tt.raw, string(p.Raw))
	}
}

// TestSessionWithGateway wires a real gateway and token store against a
// fake backend: sign in, survive an expired access token, then get signed
// out when the server stops accepting the session.
func TestSessionWithGateway(t *testing.T) {
	var (
		mu       sync.Mutex
		valid    = "A1"
		rotateTo = "A2"
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.URL.Path {
		case "/auth/login":
			_, _ = io.WriteString(w, `{"accessToken":"A1","refreshToken":"R1"}`)
		case "/auth/refresh":
			if rotateTo == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			valid = rotateTo
			_, _ = io.WriteString(w, `{"accessToken":"`+rotateTo+`"}`)
		case "/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		case "/profiles/me", "/tasks":
			if r.Header.Get("Authorization") != "Bearer "+valid {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.URL.Path == "/tasks" {
				_, _ = io.WriteString(w, `{"items":[]}`)
				return
			}
			_, _ = io.WriteString(w, `{"userId":3}`)
		}
	}))
	defer srv.Close()

	store := tokenstore.New(storage.NewMemoryStore())
	var sess *Session
	gw := api.NewGateway(store, api.GatewayOpts{
		BaseURL:        srv.URL,
		OnUnauthorized: func() { sess.HandleUnauthorized() },
	})
	sess = New(gw)
	t.Cleanup(func() {
		gw.Wait()
		store.Wait()
	})

	ctx := context.Background()
	sess.Bootstrap(ctx)
	require.Equal(t, StateUnauthenticated, sess.State())

	require.NoError(t, sess.Login(ctx, "user@example.com", "secret"))
	assert.Equal(t, `{"accessToken":"A1","refreshToken":"R1"}`, store.ReadSync())
	assert.Equal(t, StateAuthenticated, sess.State())

	// The server expires A1.
	mu.Lock()
	valid = "expired"
	mu.Unlock()

	res, err := gw.Request(ctx, "/tasks", api.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode())
	assert.JSONEq(t, `{"items":[]}`, res.String())
	assert.Equal(t, "A2", gw.Tokens().AccessToken)
	assert.Equal(t, StateAuthenticated, sess.State())

	// Now the refresh token is revoked as well.
	mu.Lock()
	valid = "expired"
	rotateTo = ""
	mu.Unlock()

	_, err = gw.Request(ctx, "/tasks", api.RequestOptions{})
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, StateUnauthenticated, sess.State())
	assert.Empty(t, store.ReadSync())
}
