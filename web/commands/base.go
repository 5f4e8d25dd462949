package commands

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/gocommon/jsonx"
)

var validate = validator.New()

// constructors of each command, keyed by the value of its type field
var commandTypes = map[string]func() Command{}

func register(typ string, fn func() Command) {
	commandTypes[typ] = fn
}

// Command is a JSON message from a viewer, e.g. {"type": "watch", "user_id": "1234"}
type Command interface {
	Type() string
}

type baseCommand struct {
	Type_ string `json:"type" validate:"required"`
}

func (c *baseCommand) Type() string { return c.Type_ }

// ReadCommand decodes a viewer message into the command named by its type and validates it
func ReadCommand(data []byte) (Command, error) {
	header := &baseCommand{}
	if err := jsonx.Unmarshal(data, header); err != nil {
		return nil, fmt.Errorf("error reading command: %w", err)
	}

	newCommand, ok := commandTypes[header.Type_]
	if !ok {
		return nil, fmt.Errorf("unknown command type '%s'", header.Type_)
	}

	cmd := newCommand()
	if err := jsonx.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("error reading %s command: %w", header.Type_, err)
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("invalid %s command: %w", header.Type_, err)
	}

	return cmd, nil
}
