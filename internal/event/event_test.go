package event_test

import (
	"errors"
	"testing"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/event"
	"github.com/a96363877/zain-js-lohan/internal/records"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNoopWithoutURL(t *testing.T) {
	t.Parallel()

	pub := event.NewPublisher("", zap.NewNop())
	assert.NoError(t, pub.PublishModeration(t.Context(), event.ModerationEvent{Action: "approve", IDs: []string{"a"}}))
	assert.NoError(t, pub.PublishSubmission(t.Context(), event.SubmissionEvent{Card: true}))
	assert.NoError(t, pub.Close())
}

func TestMemoryEnvelope(t *testing.T) {
	t.Parallel()

	m := event.NewMemory()
	require.NoError(t, m.PublishModeration(t.Context(), event.ModerationEvent{Action: "flag", IDs: []string{"a"}, Value: "red"}))

	evs := m.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "dashboard.moderation.flag", evs[0].Type)
	assert.Equal(t, "1.0.0", evs[0].Version)
	_, err := uuid.Parse(evs[0].CorrelationID)
	assert.NoError(t, err)
	assert.Equal(t, event.ModerationEvent{Action: "flag", IDs: []string{"a"}, Value: "red"}, evs[0].Payload)

	m.Fail(errors.New("broker down"))
	assert.EqualError(t, m.PublishSubmission(t.Context(), event.SubmissionEvent{}), "broker down")
	assert.Len(t, m.Events(), 1)
}

func TestAlerterPublishesSubmission(t *testing.T) {
	t.Parallel()

	m := event.NewMemory()
	a := event.NewAlerter(m, zap.NewNop())
	a.Alert(records.Arrival{Card: true})

	require.Eventually(t, func() bool { return len(m.Events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, event.SubmissionEvent{Card: true}, m.Events()[0].Payload)
}
