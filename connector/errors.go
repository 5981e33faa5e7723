package connector

import "errors"

var (
	ErrUnavailable = errors.New("connector unavailable")
	ErrUnknownType = errors.New("unknown connector type")
	ErrNoNodes     = errors.New("connector requires at least one node")
)
