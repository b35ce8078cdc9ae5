package dashboard_test

import (
	"fmt"
	"testing"

	"github.com/a96363877/zain-js-lohan/internal/dashboard"
	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/a96363877/zain-js-lohan/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seed(n int) []model.Notification {
	out := make([]model.Notification, n)
	for i := range out {
		out[i] = model.Notification{
			ID:          fmt.Sprintf("n%02d", i),
			CreatedDate: fmt.Sprintf("2024-01-01T00:%02d:00Z", i),
			Name:        fmt.Sprintf("user %d", i),
		}
		if i%2 == 0 {
			out[i].CardNumber = "4111"
		}
	}
	return out
}

func newController(t *testing.T, n int) (*dashboard.Controller, *feed.MemoryRecords, *feed.MemoryPresence) {
	t.Helper()
	records := feed.NewMemoryRecords(seed(n)...)
	pres := feed.NewMemoryPresence()
	c := dashboard.NewController(dashboard.Deps{
		Records:  records,
		Presence: pres,
		Notices:  notice.NewQueue(0),
		Logger:   zap.NewNop(),
		Metrics:  metrics.NewMetrics(),
	}, dashboard.DefaultSettings())
	t.Cleanup(c.Stop)
	return c, records, pres
}

func ptr[T any](v T) *T { return &v }

func TestNotRunningUntilStarted(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t, 3)
	_, err := c.View(dashboard.Query{})
	assert.ErrorIs(t, err, dashboard.ErrNotRunning)
	_, err = c.Moderation()
	assert.ErrorIs(t, err, dashboard.ErrNotRunning)

	require.NoError(t, c.Start(t.Context()))
	assert.True(t, c.Running())

	c.Stop()
	assert.False(t, c.Running())
	_, err = c.Stats()
	assert.ErrorIs(t, err, dashboard.ErrNotRunning)
}

func TestStopReleasesSubscriptions(t *testing.T) {
	t.Parallel()

	c, records, pres := newController(t, 3)
	require.NoError(t, c.Start(t.Context()))
	require.NoError(t, c.Start(t.Context()))
	assert.Equal(t, 1, records.SubscriberCount())
	assert.Equal(t, 1, pres.SubscriberCount())

	c.Stop()
	assert.Equal(t, 0, records.SubscriberCount())
	assert.Equal(t, 0, pres.SubscriberCount())
}

func TestViewKeepsPageAcrossSnapshotChanges(t *testing.T) {
	t.Parallel()

	c, records, _ := newController(t, 30)
	require.NoError(t, c.Start(t.Context()))

	res, err := c.View(dashboard.Query{Page: ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Page.Page)
	require.Len(t, res.Page.Items, 10)

	records.Put(model.Notification{ID: "new", CreatedDate: "2024-02-01T00:00:00Z"})
	res, err = c.View(dashboard.Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Page.Page)

	res, err = c.View(dashboard.Query{Term: ptr("user 1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page.Page)
}

func TestViewRejectsPageOutOfRange(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t, 5)
	require.NoError(t, c.Start(t.Context()))

	_, err := c.View(dashboard.Query{Page: ptr(2)})
	assert.ErrorIs(t, err, view.ErrPageOutOfRange)
}

func TestViewCountsAndOnline(t *testing.T) {
	t.Parallel()

	c, _, pres := newController(t, 4)
	require.NoError(t, c.Start(t.Context()))
	pres.Set("n01", "online")
	pres.Set("n02", "offline")

	res, err := c.View(dashboard.Query{Category: ptr(view.CategoryOnline)})
	require.NoError(t, err)
	require.Len(t, res.Page.Items, 1)
	assert.Equal(t, "n01", res.Page.Items[0].ID)
	assert.Equal(t, view.Counts{All: 4, Card: 2, Online: 1}, res.Counts)
	assert.Equal(t, model.Stats{Total: 4, WithCard: 2, OnlineUsers: 1}, res.Stats)

	st, err := c.Presence("n02")
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOffline, st)
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t, 1)
	assert.Equal(t, 30, c.Settings().RefreshInterval)

	s := dashboard.DefaultSettings()
	s.RefreshInterval = 45
	assert.Error(t, c.UpdateSettings(s))

	s.RefreshInterval = 300
	s.PlaySounds = false
	require.NoError(t, c.UpdateSettings(s))
	assert.Equal(t, s, c.Settings())
	assert.False(t, c.Settings().AlertPolicy().PlaySounds)
}

func TestRestartAfterStop(t *testing.T) {
	t.Parallel()

	c, records, _ := newController(t, 2)
	require.NoError(t, c.Start(t.Context()))
	c.Stop()
	records.Put(model.Notification{ID: "x"})
	require.NoError(t, c.Start(t.Context()))

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
}

func TestFilteredSpansPages(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t, 25)
	require.NoError(t, c.Start(t.Context()))
	_, err := c.View(dashboard.Query{Category: ptr(view.CategoryCard)})
	require.NoError(t, err)

	filtered, err := c.Filtered()
	require.NoError(t, err)
	assert.Len(t, filtered, 13)
}
