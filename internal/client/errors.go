package client

import "errors"

var (
	ErrNotConnected  = errors.New("not connected to server")
	ErrNotLoggedIn   = errors.New("not logged in")
	ErrAlreadyLogged = errors.New("already logged in")
	ErrUnknownUser   = errors.New("unknown user")
	ErrSelfMessage   = errors.New("cannot send a direct message to yourself")
	ErrSelfTarget    = errors.New("cannot target yourself")
	ErrEmptyMessage  = errors.New("message content is required")
)
