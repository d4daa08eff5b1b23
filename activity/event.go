// Package activity records security relevant events of the login flow.
//
// Recording never fails the caller: sink errors and panics are swallowed and
// counted so that a broken log transport cannot break authentication.
package activity

import (
	"maps"
	"time"
)

type EventType string

// Wire names of the event types, as emitted to sinks
const (
	EventLoginAttempt       EventType = "login_attempt"
	EventLoginSuccess       EventType = "user_login_success"
	EventLoginFailure       EventType = "login_failure"
	EventLogout             EventType = "logout"
	EventUnauthorizedAccess EventType = "unauthorized_access_attempt"
	EventProtectedAccess    EventType = "protected_access"
)

// Event is immutable once recorded; sinks receive their own copy of Extra.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	SourceIP  string
	UserAgent string
	Subject   *string // nil when no identity is known
	Email     string
	Path      string
	Extra     map[string]string
}

func (e Event) clone() Event {
	if e.Subject != nil {
		subject := *e.Subject
		e.Subject = &subject
	}
	e.Extra = maps.Clone(e.Extra)
	return e
}
