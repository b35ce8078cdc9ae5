// Package moderation applies operator actions to the remote collection.
//
// Every action patches the local snapshot first where that is safe, writes
// the backend, and rolls the local patch back when the write fails. Bulk hide
// is the exception: the snapshot is cleared only after the batch commits.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/event"
	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/a96363877/zain-js-lohan/internal/records"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Action names, used in metrics, spans and audit events.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionHide    = "hide"
	ActionHideAll = "hide_all"
	ActionFlag    = "flag"
)

// Dispatcher executes moderation actions.
type Dispatcher struct {
	feed    feed.RecordFeed
	store   *records.Synchronizer
	notices notice.Notifier
	events  event.Publisher
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewDispatcher wires a dispatcher. events may be nil.
func NewDispatcher(f feed.RecordFeed, store *records.Synchronizer, notices notice.Notifier, events event.Publisher, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if events == nil {
		events = event.Noop()
	}
	return &Dispatcher{
		feed:    f,
		store:   store,
		notices: notices,
		events:  events,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("dashboard/moderation"),
	}
}

// Approve sets the status of id to approved.
func (d *Dispatcher) Approve(ctx context.Context, id string) error {
	return d.setStatus(ctx, ActionApprove, id, model.StatusApproved)
}

// Reject sets the status of id to rejected.
func (d *Dispatcher) Reject(ctx context.Context, id string) error {
	return d.setStatus(ctx, ActionReject, id, model.StatusRejected)
}

func (d *Dispatcher) setStatus(ctx context.Context, action, id string, status model.Status) error {
	ctx, span := d.start(ctx, action, id)
	defer span.End()
	began := time.Now()

	patch := model.StatusPatch(status)
	cp, local := d.store.Apply(id, patch)
	if err := d.feed.Update(ctx, id, patch); err != nil {
		if local {
			d.store.Restore(cp)
		}
		d.fail(span, action, began, err, "Failed to update status", id)
		return fmt.Errorf("%s %s: %w", action, id, err)
	}

	d.succeed(ctx, action, began, event.ModerationEvent{Action: action, IDs: []string{id}, Value: string(status)},
		"Status updated", fmt.Sprintf("Notification %s marked %s", id, status))
	return nil
}

// Hide soft-deletes id. The record leaves the snapshot at once and comes
// back if the backend write fails.
func (d *Dispatcher) Hide(ctx context.Context, id string) error {
	ctx, span := d.start(ctx, ActionHide, id)
	defer span.End()
	began := time.Now()

	cp, local := d.store.Remove(id)
	if err := d.feed.Update(ctx, id, model.HidePatch()); err != nil {
		if local {
			d.store.Restore(cp)
		}
		d.fail(span, ActionHide, began, err, "Failed to delete notification", id)
		return fmt.Errorf("hide %s: %w", id, err)
	}

	d.succeed(ctx, ActionHide, began, event.ModerationEvent{Action: ActionHide, IDs: []string{id}},
		"Notification deleted", fmt.Sprintf("Notification %s hidden", id))
	return nil
}

// HideAll soft-deletes every record in the snapshot in one atomic batch. On
// failure the snapshot is left exactly as it was.
func (d *Dispatcher) HideAll(ctx context.Context) error {
	ids := d.store.IDs()
	ctx, span := d.tracer.Start(ctx, "moderation."+ActionHideAll,
		trace.WithAttributes(attribute.Int("notification.count", len(ids))))
	defer span.End()
	began := time.Now()

	if len(ids) == 0 {
		d.notices.Notify(notice.LevelInfo, "Nothing to delete", "There are no notifications to delete")
		return nil
	}

	if err := d.feed.BatchUpdate(ctx, ids, model.HidePatch()); err != nil {
		d.fail(span, ActionHideAll, began, err, "Failed to delete notifications", "")
		return fmt.Errorf("hide all: %w", err)
	}
	d.store.Clear()

	d.succeed(ctx, ActionHideAll, began, event.ModerationEvent{Action: ActionHideAll, IDs: ids},
		"Notifications deleted", fmt.Sprintf("%d notifications hidden", len(ids)))
	return nil
}

// SetFlagColor replaces the flag of id. FlagNone clears it.
func (d *Dispatcher) SetFlagColor(ctx context.Context, id string, color model.FlagColor) error {
	ctx, span := d.start(ctx, ActionFlag, id)
	defer span.End()
	began := time.Now()

	patch := model.FlagPatch(color)
	cp, local := d.store.Apply(id, patch)
	if err := d.feed.Update(ctx, id, patch); err != nil {
		if local {
			d.store.Restore(cp)
		}
		d.fail(span, ActionFlag, began, err, "Failed to update flag", id)
		return fmt.Errorf("flag %s: %w", id, err)
	}

	value := string(color)
	if color == model.FlagNone {
		value = "none"
	}
	d.succeed(ctx, ActionFlag, began, event.ModerationEvent{Action: ActionFlag, IDs: []string{id}, Value: value},
		"Flag updated", fmt.Sprintf("Notification %s flag set to %s", id, value))
	return nil
}

func (d *Dispatcher) start(ctx context.Context, action, id string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "moderation."+action,
		trace.WithAttributes(attribute.String("notification.id", id)))
}

func (d *Dispatcher) succeed(ctx context.Context, action string, began time.Time, ev event.ModerationEvent, title, message string) {
	d.observe(action, "success", began)
	d.notices.Notify(notice.LevelSuccess, title, message)
	d.logger.Info("moderation action applied",
		zap.String("action", action),
		zap.Strings("ids", ev.IDs))

	if err := d.events.PublishModeration(ctx, ev); err != nil {
		d.logger.Warn("failed to publish moderation event",
			zap.String("action", action),
			zap.Error(err))
	}
}

func (d *Dispatcher) fail(span trace.Span, action string, began time.Time, err error, title, id string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.observe(action, "failure", began)
	d.notices.Notify(notice.LevelError, title, "Please try again")
	d.logger.Error("moderation action failed",
		zap.String("action", action),
		zap.String("id", id),
		zap.Error(err))
}

func (d *Dispatcher) observe(action, status string, began time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.ModerationActionTotal.WithLabelValues(action, status).Inc()
	d.metrics.ModerationActionDuration.WithLabelValues(action, status).Observe(time.Since(began).Seconds())
}
