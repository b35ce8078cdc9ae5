package model

// PresenceState is the tri-state online status of a submitting user.
type PresenceState string

const (
	PresenceUnknown PresenceState = "unknown"
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// PresenceEntry is one value of the presence keyspace.
// Readable is false when the payload could not be decoded.
type PresenceEntry struct {
	State    string `json:"state"`
	Readable bool   `json:"-"`
}

// Online reports whether the entry signals presence.
func (e PresenceEntry) Online() bool {
	return e.Readable && e.State == "online"
}
