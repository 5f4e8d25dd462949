package events

import "time"

// Event is something we send to a viewer
type Event interface {
	Type() string
	Time() time.Time
}

type baseEvent struct {
	Type_ string    `json:"type"`
	Time_ time.Time `json:"time"`
}

func (e *baseEvent) Type() string    { return e.Type_ }
func (e *baseEvent) Time() time.Time { return e.Time_ }
