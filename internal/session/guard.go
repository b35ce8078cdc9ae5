// Package session gates the dashboard on the operator's sign-in state.
//
// While a session exists the dashboard's subscriptions run; when it ends they
// are released and the operator is sent to the login route.
package session

import (
	"context"
	"sync"

	"github.com/a96363877/zain-js-lohan/internal/notice"
	"go.uber.org/zap"
)

// LoginPath is where a signed-out operator is sent.
const LoginPath = "/login"

// Source reports the sign-in state. Subscribe must call fn with the current
// state before returning.
type Source interface {
	Subscribe(fn func(active bool)) (cancel func())
	SignOut(ctx context.Context) error
}

// Dashboard is what the guard starts and tears down.
type Dashboard interface {
	Start(ctx context.Context) error
	Stop()
}

type state int

const (
	stateUnknown state = iota
	stateActive
	stateSignedOut
)

// Guard drives the Dashboard from a Source.
type Guard struct {
	source   Source
	dash     Dashboard
	notices  notice.Notifier
	logger   *zap.Logger
	redirect func(path string)

	mu      sync.Mutex
	ctx     context.Context
	state   state
	running bool
	cancel  func()
}

// NewGuard creates a guard. redirect receives every navigation decision.
func NewGuard(src Source, dash Dashboard, notices notice.Notifier, logger *zap.Logger, redirect func(path string)) *Guard {
	if redirect == nil {
		redirect = func(string) {}
	}
	return &Guard{source: src, dash: dash, notices: notices, logger: logger, redirect: redirect}
}

// Start subscribes to the source. ctx scopes the dashboard subscriptions.
func (g *Guard) Start(ctx context.Context) {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()

	cancel := g.source.Subscribe(g.handle)

	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
}

// Close stops listening and tears the dashboard down without redirecting.
func (g *Guard) Close() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	running := g.running
	g.running = false
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if running {
		g.dash.Stop()
	}
}

// Active reports whether a session currently exists.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == stateActive
}

// SignOut ends the session. The dashboard is torn down and the operator
// redirected only after the source confirms; on failure nothing changes and
// a failure notice is emitted.
func (g *Guard) SignOut(ctx context.Context) error {
	if err := g.source.SignOut(ctx); err != nil {
		g.logger.Error("sign-out failed", zap.Error(err))
		g.notices.Notify(notice.LevelError, "Sign-out failed", "Please try again")
		return err
	}
	g.signedOut()
	return nil
}

func (g *Guard) handle(active bool) {
	if active {
		g.signedIn()
		return
	}
	g.signedOut()
}

func (g *Guard) signedIn() {
	g.mu.Lock()
	g.state = stateActive
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	ctx := g.ctx
	g.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := g.dash.Start(ctx); err != nil {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		g.logger.Error("failed to start dashboard", zap.Error(err))
		g.notices.Notify(notice.LevelError, "Failed to load notifications", err.Error())
	}
}

func (g *Guard) signedOut() {
	g.mu.Lock()
	if g.state == stateSignedOut {
		g.mu.Unlock()
		return
	}
	g.state = stateSignedOut
	running := g.running
	g.running = false
	g.mu.Unlock()

	if running {
		g.dash.Stop()
	}
	g.redirect(LoginPath)
}
