package events

import (
	"time"

	"github.com/thebandlist/presenced/core/presence"
)

const TypeStatus string = "status"

// Source is where a status value came from
type Source string

const (
	SourceCache  Source = "cache"
	SourceWarmUp Source = "warmup"
	SourcePush   Source = "push"
)

type Status struct {
	baseEvent

	UserID presence.UserID `json:"user_id"`
	Status presence.Status `json:"status"`
	Source Source          `json:"source"`
}

func NewStatus(t time.Time, userID presence.UserID, status presence.Status, source Source) *Status {
	return &Status{baseEvent: baseEvent{Type_: TypeStatus, Time_: t}, UserID: userID, Status: status, Source: source}
}
