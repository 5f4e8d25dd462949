package commands

import "github.com/thebandlist/presenced/core/presence"

func init() {
	register(TypeUnwatch, func() Command { return &Unwatch{} })
}

const TypeUnwatch string = "unwatch"

type Unwatch struct {
	baseCommand

	UserID presence.UserID `json:"user_id" validate:"required"`
}
