package dashboard

import (
	"fmt"
	"slices"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/records"
)

// RefreshIntervals are the refresh periods the operator may pick, in seconds.
var RefreshIntervals = []int{10, 30, 60, 300}

// DefaultRefreshInterval is used until the operator picks another.
const DefaultRefreshInterval = 30

// Settings are the operator's dashboard preferences.
type Settings struct {
	NotifyNewCards  bool `json:"notifyNewCards"`
	NotifyNewUsers  bool `json:"notifyNewUsers"`
	PlaySounds      bool `json:"playSounds"`
	AutoRefresh     bool `json:"autoRefresh"`
	RefreshInterval int  `json:"refreshInterval"`
}

// DefaultSettings enables every alert and refreshes every 30 seconds.
func DefaultSettings() Settings {
	return Settings{
		NotifyNewCards:  true,
		NotifyNewUsers:  true,
		PlaySounds:      true,
		AutoRefresh:     true,
		RefreshInterval: DefaultRefreshInterval,
	}
}

// Validate rejects refresh intervals outside RefreshIntervals.
func (s Settings) Validate() error {
	if !slices.Contains(RefreshIntervals, s.RefreshInterval) {
		return fmt.Errorf("refresh interval %d not one of %v", s.RefreshInterval, RefreshIntervals)
	}
	return nil
}

// Interval returns the refresh period.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

// AlertPolicy returns the new-submission alert gating for these settings.
func (s Settings) AlertPolicy() records.AlertPolicy {
	return records.AlertPolicy{
		PlaySounds:     s.PlaySounds,
		NotifyNewCards: s.NotifyNewCards,
		NotifyNewUsers: s.NotifyNewUsers,
	}
}
