package store

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrCallNotFound   = errors.New("call not found")
	ErrUsernameTaken  = errors.New("username already exists")
	ErrEmailTaken     = errors.New("email already exists")
	ErrSelfCall       = errors.New("caller and recipient are the same user")
	ErrInvalidRequest = errors.New("invalid request")
)
