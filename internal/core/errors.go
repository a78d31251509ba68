package core

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrResourceExhausted = errors.New("resource exhausted")
)
