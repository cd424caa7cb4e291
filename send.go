package workflowrun

import (
	"fmt"
	"strings"
	"time"
)

// Send is one recipient notified as part of a run. A row is unique per
// (RunID, Recipient) and doubles as the cooldown lookup source: a recipient with a
// send for the same (project, action) inside the cooldown window is excluded from
// new runs regardless of which run produced the send. Retried runs update the
// existing row rather than duplicating it.
type Send struct {
	ID        string
	RunID     string
	ProjectID string
	// Action is denormalised from the run so that cooldown lookups never join back
	// to the runs table.
	Action    string
	Recipient string
	Status    SendStatus
	// SentAt moves forward on every replay and is the timestamp the cooldown window
	// is measured against.
	SentAt time.Time
	// CreatedAt is set on first insert and never changes.
	CreatedAt time.Time
}

// NormaliseRecipient returns the canonical form of an email address used for send
// identity and cooldown lookups.
func NormaliseRecipient(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type SendStatus int

const (
	SendStatusUnknown    SendStatus = 0
	SendStatusSent       SendStatus = 1
	SendStatusFailed     SendStatus = 2
	SendStatusSuppressed SendStatus = 3
	sendStatusSentinel   SendStatus = 4
)

func (ss SendStatus) String() string {
	switch ss {
	case SendStatusUnknown:
		return "Unknown"
	case SendStatusSent:
		return "Sent"
	case SendStatusFailed:
		return "Failed"
	case SendStatusSuppressed:
		return "Suppressed"
	default:
		return fmt.Sprintf("SendStatus(%d)", ss)
	}
}

func (ss SendStatus) Valid() bool {
	return ss > SendStatusUnknown && ss < sendStatusSentinel
}
