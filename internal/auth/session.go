package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenSession is the operator's sign-in state. A session exists from a
// successful SignIn until SignOut or token expiry.
type TokenSession struct {
	verifier *Verifier
	logger   *zap.Logger

	mu        sync.Mutex
	current   *Claims
	expiry    *time.Timer
	listeners map[int]func(active bool)
	nextID    int
}

// NewTokenSession creates a signed-out session backed by v.
func NewTokenSession(v *Verifier, logger *zap.Logger) *TokenSession {
	return &TokenSession{
		verifier:  v,
		logger:    logger,
		listeners: make(map[int]func(bool)),
	}
}

// Subscribe registers fn for session changes and calls it at once with the
// current state.
func (s *TokenSession) Subscribe(fn func(active bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	active := s.current != nil
	s.mu.Unlock()

	fn(active)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// SignIn validates token and starts a session for its subject.
func (s *TokenSession) SignIn(ctx context.Context, token string) (Claims, error) {
	claims, err := s.verifier.Validate(ctx, token)
	if err != nil {
		return Claims{}, err
	}

	s.mu.Lock()
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.current = &claims
	c := s.current
	s.expiry = time.AfterFunc(time.Until(claims.ExpiresAt), func() { s.expire(c) })
	listeners := s.listenerList()
	s.mu.Unlock()

	s.logger.Info("operator signed in", zap.String("subject", claims.Subject))
	for _, fn := range listeners {
		fn(true)
	}
	return claims, nil
}

// SignOut ends the session.
func (s *TokenSession) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	subject := s.current.Subject
	s.end()
	listeners := s.listenerList()
	s.mu.Unlock()

	s.logger.Info("operator signed out", zap.String("subject", subject))
	for _, fn := range listeners {
		fn(false)
	}
	return nil
}

// Current returns the active session claims.
func (s *TokenSession) Current() (Claims, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Claims{}, false
	}
	return *s.current, true
}

func (s *TokenSession) expire(c *Claims) {
	s.mu.Lock()
	if s.current != c {
		s.mu.Unlock()
		return
	}
	s.end()
	listeners := s.listenerList()
	s.mu.Unlock()

	s.logger.Info("operator session expired", zap.String("subject", c.Subject))
	for _, fn := range listeners {
		fn(false)
	}
}

func (s *TokenSession) end() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.current = nil
}

func (s *TokenSession) listenerList() []func(bool) {
	out := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
