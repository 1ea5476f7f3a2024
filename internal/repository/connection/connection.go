package connection

import "errors"

var (
	ErrNotFound          = errors.New("connection not found")
	ErrAlreadyExists     = errors.New("connection already exists")
	ErrSendBufferFull    = errors.New("send buffer full")
	ErrInvalidConnection = errors.New("invalid connection")
)
