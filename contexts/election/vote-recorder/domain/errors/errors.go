package errors

import "errors"

var (
	ErrInvalidVote     = errors.New("invalid vote")
	ErrLedgerConflict  = errors.New("ballot already recorded with different content")
	ErrResultNotFound  = errors.New("pending result not found")
	ErrInvalidElection = errors.New("invalid election id")
)
