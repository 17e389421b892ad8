package audio

import "errors"

var (
	// ErrJoinTimeout is returned by Stop when the capture loop did not exit
	// within the join timeout. The device is released regardless.
	ErrJoinTimeout = errors.New("audio loop did not stop in time")
)
