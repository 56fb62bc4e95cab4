package trader

import "errors"

var (
	ErrAlreadyConnected   = errors.New("the user is already connected")
	ErrNotConnected       = errors.New("the user is not connected")
	ErrNoOrderToBroadcast = errors.New("there was no order in the message")
	ErrInvalidOrderID     = errors.New("the order id is invalid")
	ErrInvalidParam       = errors.New("the param is invalid")
	ErrTimeout            = errors.New("timeout")
	ErrShutdown           = errors.New("server is shutting down")
)
