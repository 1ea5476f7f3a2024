package room

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var ConnectionIdRule = []validation.Rule{
	validation.Required,
}

var UserIdRule = []validation.Rule{
	validation.Required,
}

var DisplayNameRule = []validation.Rule{
	validation.Required,
}

var RoomCodeRule = []validation.Rule{
	validation.Required,
}

// RoomCodeFormatRule matches codes the service can generate. A code failing
// it names no room.
var RoomCodeFormatRule = []validation.Rule{
	is.Alphanumeric,
	validation.Match(regexp.MustCompile("^[A-Z0-9]{6}$")),
}

func isRoomCode(code string) bool {
	return validation.Validate(code, RoomCodeFormatRule...) == nil
}

func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func (p CreateRoomParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ConnectionId, ConnectionIdRule...),
		validation.Field(&p.UserId, UserIdRule...),
		validation.Field(&p.DisplayName, DisplayNameRule...),
	)
}

func (p JoinRoomParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ConnectionId, ConnectionIdRule...),
		validation.Field(&p.Code, RoomCodeRule...),
		validation.Field(&p.UserId, UserIdRule...),
		validation.Field(&p.DisplayName, DisplayNameRule...),
	)
}
