package presence

import (
	"fmt"
	"strconv"
)

// UserID is the snowflake id of a remote user
type UserID uint64

// NilUserID is never a valid user
const NilUserID = UserID(0)

// ParseUserID parses a decimal snowflake id
func ParseUserID(s string) (UserID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return NilUserID, fmt.Errorf("invalid user id '%s'", s)
	}
	return UserID(id), nil
}

func (i UserID) String() string { return strconv.FormatUint(uint64(i), 10) }

// MarshalText encodes ids as strings since they don't fit in a JSON number
func (i UserID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *UserID) UnmarshalText(b []byte) error {
	id, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*i = id
	return nil
}

// GroupID is the id of a group of users, i.e. a guild
type GroupID string

type Status string

const (
	StatusOnline       Status = "online"
	StatusIdle         Status = "idle"
	StatusDoNotDisturb Status = "dnd"
	StatusOffline      Status = "offline"
)

// ParseStatus maps an upstream status value to one of ours, with anything unknown (e.g. invisible) being offline
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusOnline, StatusIdle, StatusDoNotDisturb:
		return Status(s)
	}
	return StatusOffline
}

// CSSClass returns the class used by the site to render a status indicator
func (s Status) CSSClass() string {
	return "etat--" + string(ParseStatus(string(s)))
}

// Member is the status of a single user as seen by the gateway
type Member struct {
	UserID UserID
	Status Status
}

// Listener is called with status changes or polled values for a user
type Listener func(UserID, Status)
