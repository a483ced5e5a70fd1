// Package session owns the process-wide authentication state and notifies
// subscribers whenever it changes.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/noblelift/noblelift-client/internal/auth"
	"github.com/noblelift/noblelift-client/internal/metrics"
)

// Gateway is the authenticated API access the session depends on.
// *api.Gateway satisfies it.
type Gateway interface {
	Initialize(ctx context.Context)
	HasTokens() bool
	Login(ctx context.Context, identifier, secret string) (auth.TokenPair, error)
	Logout(ctx context.Context)
	FetchProfile(ctx context.Context) (json.RawMessage, error)
}

// Listener receives the session state after every transition.
type Listener func(Snapshot)

type Option func(*Session)

// WithMetrics counts emitted states.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

type subscriber struct {
	id uint64
	fn Listener
}

// Session is the single authentication state shared by the whole process.
// Create one with New at startup and pass it to everything that needs it.
type Session struct {
	gw      Gateway
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	profile   *Profile
	listeners []subscriber
	nextID    uint64

	bootstrapOnce sync.Once
	ready         chan struct{}
}

// New creates a session in StateLoading.
func New(gw Gateway, opts ...Option) *Session {
	s := &Session{
		gw:    gw,
		state: StateLoading,
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap restores the session from persisted tokens. Without a stored
// access token the session becomes unauthenticated without touching the
// network; otherwise the identity endpoint decides. It never fails and
// always emits when done. Only the first call has any effect.
func (s *Session) Bootstrap(ctx context.Context) {
	ran := false
	s.bootstrapOnce.Do(func() {
		ran = true
		s.bootstrap(ctx)
	})
	if !ran {
		log.Debug().Msg("session already bootstrapped")
	}
}

func (s *Session) bootstrap(ctx context.Context) {
	defer close(s.ready)
	defer s.emit()

	s.mu.Lock()
	s.state = StateLoading
	s.profile = nil
	s.mu.Unlock()
	s.emit()

	s.gw.Initialize(ctx)

	if !s.gw.HasTokens() {
		log.Info().Msg("no stored session")
		s.settle(StateUnauthenticated, nil)
		return
	}

	raw, err := s.gw.FetchProfile(ctx)
	if err != nil {
		log.Info().Err(err).Msg("stored session could not be restored")
		s.settle(StateUnauthenticated, nil)
		return
	}

	profile := parseProfile(raw)
	log.Info().Int64("userId", profile.UserID).Msg("session restored")
	s.settle(StateAuthenticated, profile)
}

// settle applies a bootstrap outcome unless something else already moved
// the session out of StateLoading.
func (s *Session) settle(state State, profile *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading {
		return
	}
	s.state = state
	s.profile = profile
}

// Ready is closed once Bootstrap has finished and emitted.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Login signs in and loads the profile. On failure the error is returned
// and the state is left as it was.
func (s *Session) Login(ctx context.Context, identifier, secret string) error {
	if _, err := s.gw.Login(ctx, identifier, secret); err != nil {
		return err
	}

	raw, err := s.gw.FetchProfile(ctx)
	if err != nil {
		return fmt.Errorf("load profile after login: %w", err)
	}

	profile := parseProfile(raw)
	s.mu.Lock()
	s.state = StateAuthenticated
	s.profile = profile
	s.mu.Unlock()

	log.Info().Int64("userId", profile.UserID).Msg("signed in")
	s.emit()
	return nil
}

// Logout ends the session locally right away. Calling it when already
// signed out is fine.
func (s *Session) Logout(ctx context.Context) {
	s.gw.Logout(ctx)
	s.setUnauthenticated()
	log.Info().Msg("signed out")
}

// HandleUnauthorized is the callback for the gateway's terminal
// unauthorized failures. It may be called any number of times.
func (s *Session) HandleUnauthorized() {
	log.Info().Msg("session expired")
	s.setUnauthenticated()
}

func (s *Session) setUnauthenticated() {
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.profile = nil
	s.mu.Unlock()
	s.emit()
}

// Subscribe registers fn for every following transition. The returned
// function removes it and may be called more than once.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// emit notifies listeners in registration order, outside the lock.
func (s *Session) emit() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	listeners := make([]subscriber, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.metrics.ObserveTransition(snap.State.String())

	for _, l := range listeners {
		notify(l.fn, snap)
	}
}

func notify(fn Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("state", snap.State.String()).Msg("session listener panicked")
		}
	}()
	fn(snap)
}

// Snapshot returns the current state and profile.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Profile: s.profile}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile returns the signed-in user's profile, or nil.
func (s *Session) Profile() *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// KeepAlive fetches the profile right away and then every interval while
// signed in, so an expired access token is refreshed before the user needs
// it. A rejected session ends through HandleUnauthorized. It returns when
// ctx is done.
func (s *Session) KeepAlive(ctx context.Context, interval time.Duration) error {
	ping := func() {
		if s.State() != StateAuthenticated {
			return
		}
		raw, err := s.gw.FetchProfile(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Info().Err(err).Msg("could not refresh session")
			}
			return
		}

		profile := parseProfile(raw)
		s.mu.Lock()
		if s.state == StateAuthenticated {
			s.profile = profile
		}
		s.mu.Unlock()
		log.Debug().Int64("userId", profile.UserID).Msg("session kept alive")
	}

	ping()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping session keep-alive")
			return ctx.Err()
		case <-ticker.C:
			ping()
		}
	}
}
