package event

import (
	"context"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/records"
	"go.uber.org/zap"
)

// Alerter turns new-submission arrivals into published events. The sound
// itself belongs to the operator's client, which consumes the stream.
type Alerter struct {
	pub     Publisher
	logger  *zap.Logger
	timeout time.Duration
}

// NewAlerter creates an alerter publishing on pub.
func NewAlerter(pub Publisher, logger *zap.Logger) *Alerter {
	return &Alerter{pub: pub, logger: logger, timeout: 5 * time.Second}
}

// Alert implements records.Alerter. It publishes asynchronously so the
// synchronizer never blocks on the broker.
func (a *Alerter) Alert(arrival records.Arrival) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		ev := SubmissionEvent{Card: arrival.Card, Info: arrival.Info}
		if err := a.pub.PublishSubmission(ctx, ev); err != nil {
			a.logger.Warn("failed to publish submission alert", zap.Error(err))
			return
		}
		a.logger.Info("new submission",
			zap.Bool("card", arrival.Card),
			zap.Bool("info", arrival.Info))
	}()
}

var _ records.Alerter = (*Alerter)(nil)
