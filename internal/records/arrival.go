package records

import "github.com/a96363877/zain-js-lohan/internal/model"

// Arrival describes what a batch newly introduced compared to the previously
// held snapshot. It is inferred from field presence, not from an explicit
// backend event, so it is a heuristic: an id whose card number was cleared
// and filled again counts as a new arrival.
type Arrival struct {
	Card bool // some id gained a card number
	Info bool // some id gained a national id, email or phone
}

// Any reports whether anything new arrived.
func (a Arrival) Any() bool {
	return a.Card || a.Info
}

// DetectArrival compares two snapshots by id. It is pure.
func DetectArrival(prev, next []model.Notification) Arrival {
	had := make(map[string]model.Notification, len(prev))
	for _, n := range prev {
		had[n.ID] = n
	}

	var a Arrival
	for _, n := range next {
		old, seen := had[n.ID]
		if n.HasCard() && !(seen && old.HasCard()) {
			a.Card = true
		}
		if n.HasGeneralInfo() && !(seen && old.HasGeneralInfo()) {
			a.Info = true
		}
		if a.Card && a.Info {
			break
		}
	}
	return a
}

// NewSubmission reports whether next introduced new card or general info.
func NewSubmission(prev, next []model.Notification) bool {
	return DetectArrival(prev, next).Any()
}

// ComputeStats derives the aggregate counts of a snapshot.
// OnlineUsers is left to the presence tracker.
func ComputeStats(snapshot []model.Notification) model.Stats {
	stats := model.Stats{Total: len(snapshot)}
	for _, n := range snapshot {
		if n.HasCard() {
			stats.WithCard++
		}
	}
	return stats
}

// VisibleOnly drops hidden records, preserving order.
func VisibleOnly(batch []model.Notification) []model.Notification {
	out := make([]model.Notification, 0, len(batch))
	for _, n := range batch {
		if !n.Hidden {
			out = append(out, n)
		}
	}
	return out
}

// AlertPolicy gates the new-submission alert by the operator's settings.
type AlertPolicy struct {
	PlaySounds     bool
	NotifyNewCards bool
	NotifyNewUsers bool
}

// DefaultAlertPolicy alerts on every arrival.
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{PlaySounds: true, NotifyNewCards: true, NotifyNewUsers: true}
}

// ShouldAlert reports whether a fires an alert under p.
func (p AlertPolicy) ShouldAlert(a Arrival) bool {
	if !p.PlaySounds {
		return false
	}
	return (a.Card && p.NotifyNewCards) || (a.Info && p.NotifyNewUsers)
}
