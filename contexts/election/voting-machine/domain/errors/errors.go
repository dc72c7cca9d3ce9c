package errors

import "errors"

var (
	ErrBusy          = errors.New("a ballot is already awaiting its result")
	ErrInvalidBallot = errors.New("invalid ballot")
)
