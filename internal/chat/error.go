package chat

import (
	"errors"
)

var ErrEmptyBody = errors.New("message body is empty")
