package errors

import "errors"

var (
	ErrInvalidBallot  = errors.New("invalid ballot")
	ErrMarkNotFound   = errors.New("dedup mark not found")
	ErrMarkOwnership  = errors.New("dedup mark is owned by another ballot")
	ErrStoreContended = errors.New("dedup store update contended")
)
