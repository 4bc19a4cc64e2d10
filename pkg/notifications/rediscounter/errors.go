package rediscounter

import "errors"

var (
	ErrClientNil    = errors.New("redis client cannot be nil")
	ErrCountFuncNil = errors.New("unread count function cannot be nil")
)
