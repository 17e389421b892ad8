package clips

import "errors"

var (
	ErrClipNotFound    = errors.New("clip not found")
	ErrInvalidClipName = errors.New("invalid clip name")
)
