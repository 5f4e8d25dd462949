package commands

import "github.com/thebandlist/presenced/core/presence"

func init() {
	register(TypeWatch, func() Command { return &Watch{} })
}

const TypeWatch string = "watch"

// Watch starts pushing status changes of a user to the viewer
type Watch struct {
	baseCommand

	UserID presence.UserID `json:"user_id" validate:"required"`
}
