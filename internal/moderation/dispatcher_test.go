package moderation_test

import (
	"errors"
	"testing"

	"github.com/a96363877/zain-js-lohan/internal/event"
	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/moderation"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/a96363877/zain-js-lohan/internal/records"
	"github.com/a96363877/zain-js-lohan/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	feed    *feed.MemoryRecords
	store   *records.Synchronizer
	notices *notice.Queue
	events  *event.Memory
	d       *moderation.Dispatcher
}

func setup(t *testing.T, seed ...model.Notification) *fixture {
	t.Helper()
	f := feed.NewMemoryRecords(seed...)
	store := records.NewSynchronizer(f, nil, zap.NewNop(), metrics.NewMetrics())
	require.NoError(t, store.Start(t.Context()))
	t.Cleanup(store.Close)

	q := notice.NewQueue(0)
	ev := event.NewMemory()
	return &fixture{
		feed:    f,
		store:   store,
		notices: q,
		events:  ev,
		d:       moderation.NewDispatcher(f, store, q, ev, zap.NewNop(), metrics.NewMetrics()),
	}
}

func three() []model.Notification {
	return []model.Notification{
		{ID: "a", CreatedDate: "2024-01-03T00:00:00Z", Status: model.StatusPending},
		{ID: "b", CreatedDate: "2024-01-02T00:00:00Z", Status: model.StatusPending, CardNumber: "4111"},
		{ID: "c", CreatedDate: "2024-01-01T00:00:00Z", Status: model.StatusPending},
	}
}

func lastNotice(t *testing.T, q *notice.Queue) notice.Notice {
	t.Helper()
	recent := q.Recent(1)
	require.Len(t, recent, 1)
	return recent[0]
}

func TestApproveIsIdempotent(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	require.NoError(t, fx.d.Approve(t.Context(), "a"))
	once, _ := fx.feed.Get("a")
	snapOnce := fx.store.Snapshot()

	require.NoError(t, fx.d.Approve(t.Context(), "a"))
	twice, _ := fx.feed.Get("a")

	assert.Equal(t, model.StatusApproved, twice.Status)
	assert.Equal(t, once, twice)
	assert.Equal(t, snapOnce, fx.store.Snapshot())
	assert.Equal(t, notice.LevelSuccess, lastNotice(t, fx.notices).Level)
}

func TestRejectOverwritesApprove(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	require.NoError(t, fx.d.Approve(t.Context(), "b"))
	require.NoError(t, fx.d.Reject(t.Context(), "b"))

	got, _ := fx.store.Find("b")
	assert.Equal(t, model.StatusRejected, got.Status)
}

func TestStatusFailureRollsBack(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	fx.feed.FailUpdates(errors.New("unavailable"))

	err := fx.d.Approve(t.Context(), "a")
	require.Error(t, err)

	got, _ := fx.store.Find("a")
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, notice.LevelError, lastNotice(t, fx.notices).Level)
	assert.Empty(t, fx.events.Events())
}

func TestHideRemovesFromSnapshotAndViews(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	require.NoError(t, fx.d.Hide(t.Context(), "b"))

	assert.Equal(t, []string{"a", "c"}, fx.store.IDs())
	online := map[string]bool{"a": true, "b": true, "c": true}
	for _, cat := range []view.Category{view.CategoryAll, view.CategoryCard, view.CategoryOnline} {
		s := view.NewState()
		s.SetCategory(cat)
		for _, n := range view.Derive(fx.store.Snapshot(), online, s).Items {
			assert.NotEqual(t, "b", n.ID, "category %s", cat)
		}
	}

	remote, _ := fx.feed.Get("b")
	assert.True(t, remote.Hidden)
	assert.Equal(t, 2, fx.store.Stats().Total)
	assert.Equal(t, 0, fx.store.Stats().WithCard)
}

func TestHideFailureRestoresRecord(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	fx.feed.FailUpdates(errors.New("permission denied"))

	require.Error(t, fx.d.Hide(t.Context(), "b"))
	assert.Equal(t, []string{"a", "b", "c"}, fx.store.IDs())
	assert.Equal(t, notice.LevelError, lastNotice(t, fx.notices).Level)
}

func TestHideAllFailureLeavesSnapshot(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	fx.feed.FailBatches(feed.ErrBatchFailed)

	err := fx.d.HideAll(t.Context())
	require.ErrorIs(t, err, feed.ErrBatchFailed)

	assert.Len(t, fx.store.Snapshot(), 3)
	assert.Equal(t, notice.LevelError, lastNotice(t, fx.notices).Level)
	for _, id := range []string{"a", "b", "c"} {
		remote, _ := fx.feed.Get(id)
		assert.False(t, remote.Hidden, id)
	}
}

func TestHideAllClearsAfterCommit(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	require.NoError(t, fx.d.HideAll(t.Context()))

	assert.Empty(t, fx.store.Snapshot())
	for _, id := range []string{"a", "b", "c"} {
		remote, _ := fx.feed.Get(id)
		assert.True(t, remote.Hidden, id)
	}

	evs := fx.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "dashboard.moderation.hide_all", evs[0].Type)
}

func TestHideAllEmpty(t *testing.T) {
	t.Parallel()

	fx := setup(t)
	require.NoError(t, fx.d.HideAll(t.Context()))
	assert.Equal(t, notice.LevelInfo, lastNotice(t, fx.notices).Level)
}

func TestFlagReplaceAndClear(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	require.NoError(t, fx.d.SetFlagColor(t.Context(), "a", model.FlagRed))
	require.NoError(t, fx.d.SetFlagColor(t.Context(), "a", model.FlagGreen))

	got, _ := fx.store.Find("a")
	assert.Equal(t, model.FlagGreen, got.FlagColor)

	require.NoError(t, fx.d.SetFlagColor(t.Context(), "a", model.FlagNone))
	got, _ = fx.store.Find("a")
	assert.Equal(t, model.FlagNone, got.FlagColor)

	evs := fx.events.Events()
	require.Len(t, evs, 3)
	assert.Equal(t, "none", evs[2].Payload.(event.ModerationEvent).Value)
}

func TestFlagFailureRollsBack(t *testing.T) {
	t.Parallel()

	fx := setup(t, model.Notification{ID: "a", FlagColor: model.FlagYellow})
	fx.feed.FailUpdates(errors.New("timeout"))

	require.Error(t, fx.d.SetFlagColor(t.Context(), "a", model.FlagRed))
	got, _ := fx.store.Find("a")
	assert.Equal(t, model.FlagYellow, got.FlagColor)
}

func TestActionsOnDifferentIDsAreIndependent(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	done := make(chan error, 2)
	go func() { done <- fx.d.Approve(t.Context(), "a") }()
	go func() { done <- fx.d.Reject(t.Context(), "c") }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	a, _ := fx.feed.Get("a")
	c, _ := fx.feed.Get("c")
	assert.Equal(t, model.StatusApproved, a.Status)
	assert.Equal(t, model.StatusRejected, c.Status)
}

func TestPublishFailureDoesNotFailAction(t *testing.T) {
	t.Parallel()

	fx := setup(t, three()...)
	fx.events.Fail(errors.New("broker down"))

	require.NoError(t, fx.d.Approve(t.Context(), "a"))
	assert.Equal(t, notice.LevelSuccess, lastNotice(t, fx.notices).Level)
}
