package model

import (
	"strings"
	"time"
)

type EntityKind string

const (
	KindAccount EntityKind = "account"
	KindUser    EntityKind = "user"
)

func (k EntityKind) String() string { return string(k) }

// External returns the CRM object the entity is synced to.
func (k EntityKind) External() string {
	if k == KindUser {
		return "contact"
	}
	return "lead"
}

// SegmentField names the message field holding the entity's segments.
func (k EntityKind) SegmentField() string {
	if k == KindUser {
		return "segments"
	}
	return "account_segments"
}

// ParseEntityKind accepts "user"/"account" and the channel names
// "user:update"/"account:update".
func ParseEntityKind(s string) (EntityKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ":update")
	switch s {
	case "user":
		return KindUser, true
	case "account":
		return KindAccount, true
	default:
		return "", false
	}
}

type Segment struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Event struct {
	EventID    string     `json:"event_id"`
	Event      string     `json:"event"`
	Properties *Record    `json:"properties,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// UpdateMessage is one change notification from the platform.
type UpdateMessage struct {
	User            *Record   `json:"user,omitempty"`
	Account         *Record   `json:"account,omitempty"`
	Segments        []Segment `json:"segments,omitempty"`
	AccountSegments []Segment `json:"account_segments,omitempty"`
	Events          []Event   `json:"events,omitempty"`
}

// Entity returns the snapshot of the entity the message addresses.
func (m UpdateMessage) Entity(kind EntityKind) *Record {
	if kind == KindUser {
		return m.User
	}
	return m.Account
}

func (m UpdateMessage) EntityID(kind EntityKind) string {
	id, _ := m.Entity(kind).String("id")
	return id
}

// IndexedAt parses the snapshot's indexed_at; zero when absent or malformed.
func (m UpdateMessage) IndexedAt(kind EntityKind) time.Time {
	raw, ok := m.Entity(kind).String("indexed_at")
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SegmentIDs returns ids of the segments listed under field.
func (m UpdateMessage) SegmentIDs(field string) []string {
	var segs []Segment
	switch field {
	case "segments":
		segs = m.Segments
	case "account_segments":
		segs = m.AccountSegments
	}
	ids := make([]string, 0, len(segs))
	for _, s := range segs {
		ids = append(ids, s.ID)
	}
	return ids
}
