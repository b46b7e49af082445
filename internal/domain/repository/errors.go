package repository

import "errors"

var (
	ErrUnknownInterval  = errors.New("unknown interval")
	ErrWindowTooSmall   = errors.New("recompute window smaller than bucket")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("not found")
	ErrBufferFull       = errors.New("tick buffer full")
	ErrNotSupported     = errors.New("not supported by broker")
)
