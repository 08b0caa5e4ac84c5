// Package events fans sync progress out to websocket and raw TCP listeners.
package events

import "time"

const (
	TypeRunStarted  = "run.started"
	TypeRunPage     = "run.page"
	TypeRunFinished = "run.finished"
)

type SyncEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"` // import, complete or reconcile
	ContentType string    `json:"content_type"`
	Provider    string    `json:"provider"`
	Page        int       `json:"page,omitempty"`
	Processed   int       `json:"processed"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Pending     int       `json:"pending,omitempty"`
	Errors      int       `json:"errors"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher receives progress events. Publish must not block the caller for long.
type Publisher interface {
	Publish(ev SyncEvent)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(SyncEvent) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(SyncEvent)

func (f PublisherFunc) Publish(ev SyncEvent) { f(ev) }
