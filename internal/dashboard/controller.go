// Package dashboard owns one operator's live dashboard: the record
// synchronizer, the presence tracker, the view state and the settings.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/event"
	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/moderation"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/a96363877/zain-js-lohan/internal/presence"
	"github.com/a96363877/zain-js-lohan/internal/records"
	"github.com/a96363877/zain-js-lohan/internal/view"
	"go.uber.org/zap"
)

// ErrNotRunning is returned while no session has started the dashboard.
var ErrNotRunning = errors.New("dashboard not running")

// Deps are the long-lived collaborators shared by every session.
type Deps struct {
	Records  feed.RecordFeed
	Presence feed.PresenceFeed
	Notices  *notice.Queue
	Events   event.Publisher
	Alerter  records.Alerter
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Controller implements session.Dashboard.
type Controller struct {
	deps Deps

	mu         sync.Mutex
	sync       *records.Synchronizer
	tracker    *presence.Tracker
	dispatcher *moderation.Dispatcher
	state      view.State
	settings   Settings
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
	reset      chan struct{}
}

// NewController creates a stopped controller.
func NewController(deps Deps, settings Settings) *Controller {
	if deps.Events == nil {
		deps.Events = event.Noop()
	}
	return &Controller{
		deps:     deps,
		state:    view.NewState(),
		settings: settings,
		reset:    make(chan struct{}, 1),
	}
}

// Start opens the record and presence subscriptions. Calling Start while
// running does nothing.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sync != nil {
		return nil
	}

	s := records.NewSynchronizer(c.deps.Records, c.deps.Alerter, c.deps.Logger, c.deps.Metrics)
	s.SetAlertPolicy(c.settings.AlertPolicy())
	t := presence.NewTracker(c.deps.Presence, c.deps.Logger, c.deps.Metrics)

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start record sync: %w", err)
	}
	if err := t.Start(ctx); err != nil {
		s.Close()
		return fmt.Errorf("start presence tracker: %w", err)
	}

	c.sync = s
	c.tracker = t
	c.dispatcher = moderation.NewDispatcher(c.deps.Records, s, c.deps.Notices, c.deps.Events, c.deps.Logger, c.deps.Metrics)
	c.state = view.NewState()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stopLoop = cancel
	c.loopDone = make(chan struct{})
	go c.refreshLoop(loopCtx, c.loopDone)

	c.deps.Logger.Info("dashboard started")
	return nil
}

// Stop releases every subscription and waits for the refresh loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	s, t := c.sync, c.tracker
	stop, done := c.stopLoop, c.loopDone
	c.sync, c.tracker, c.dispatcher = nil, nil, nil
	c.stopLoop, c.loopDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if s != nil {
		s.Close()
	}
	if t != nil {
		t.Close()
	}
	if s != nil {
		c.deps.Logger.Info("dashboard stopped")
	}
}

// Running reports whether the subscriptions are open.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sync != nil
}

// Result is everything the operator's notification table shows.
type Result struct {
	Page    view.Page   `json:"page"`
	State   view.State  `json:"state"`
	Counts  view.Counts `json:"counts"`
	Stats   model.Stats `json:"stats"`
	Loading bool        `json:"loading"`
	Error   string      `json:"error,omitempty"`
}

// Query holds requested view changes. Nil fields leave the state alone.
type Query struct {
	Category *view.Category
	Term     *string
	Page     *int
}

// View applies q to the view state and derives the current page.
func (c *Controller) View(q Query) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sync == nil {
		return Result{}, ErrNotRunning
	}

	if q.Category != nil {
		c.state.SetCategory(*q.Category)
	}
	if q.Term != nil {
		c.state.SetSearch(*q.Term)
	}

	snapshot := c.sync.Snapshot()
	online := c.tracker.OnlineSet()
	if q.Page != nil {
		filtered := view.Search(view.FilterCategory(snapshot, c.state.Category, online), c.state.Term)
		if err := c.state.SetPage(*q.Page, view.TotalPages(len(filtered), c.state.PageSize)); err != nil {
			return Result{}, err
		}
	}

	res := Result{
		Page:    view.Derive(snapshot, online, c.state),
		State:   c.state,
		Counts:  view.CountCategories(snapshot, online),
		Stats:   c.statsLocked(),
		Loading: c.sync.Loading(),
	}
	if err := c.sync.Err(); err != nil {
		res.Error = err.Error()
	}
	return res, nil
}

// Stats returns the summary statistics including the online-user count.
func (c *Controller) Stats() (model.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sync == nil {
		return model.Stats{}, ErrNotRunning
	}
	return c.statsLocked(), nil
}

func (c *Controller) statsLocked() model.Stats {
	st := c.sync.Stats()
	st.OnlineUsers = c.tracker.OnlineCount()
	return st
}

// Presence returns the presence of the submitting user id.
func (c *Controller) Presence(id string) (model.PresenceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracker == nil {
		return model.PresenceUnknown, ErrNotRunning
	}
	return c.tracker.Status(id), nil
}

// Snapshot returns the held records.
func (c *Controller) Snapshot() ([]model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sync == nil {
		return nil, ErrNotRunning
	}
	return c.sync.Snapshot(), nil
}

// Filtered returns every record passing the current category and search,
// across all pages.
func (c *Controller) Filtered() ([]model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sync == nil {
		return nil, ErrNotRunning
	}
	return view.Search(view.FilterCategory(c.sync.Snapshot(), c.state.Category, c.tracker.OnlineSet()), c.state.Term), nil
}

// Moderation returns the action dispatcher of the running session.
func (c *Controller) Moderation() (*moderation.Dispatcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dispatcher == nil {
		return nil, ErrNotRunning
	}
	return c.dispatcher, nil
}

// Settings returns the operator settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings validates and applies s.
func (c *Controller) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = s
	if c.sync != nil {
		c.sync.SetAlertPolicy(s.AlertPolicy())
	}
	c.mu.Unlock()

	select {
	case c.reset <- struct{}{}:
	default:
	}
	return nil
}

// RefreshGauges publishes the current statistics to the metrics gauges.
func (c *Controller) RefreshGauges() {
	c.mu.Lock()
	if c.sync == nil || c.deps.Metrics == nil {
		c.mu.Unlock()
		return
	}
	st := c.statsLocked()
	c.mu.Unlock()

	c.deps.Metrics.SnapshotRecords.Set(float64(st.Total))
	c.deps.Metrics.CardRecords.Set(float64(st.WithCard))
	c.deps.Metrics.OnlineUsers.Set(float64(st.OnlineUsers))
}

func (c *Controller) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.RefreshGauges()

	for {
		settings := c.Settings()
		timer := time.NewTimer(settings.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.reset:
			timer.Stop()
		case <-timer.C:
			if settings.AutoRefresh {
				c.RefreshGauges()
			}
		}
	}
}
