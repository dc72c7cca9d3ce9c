package entities

import (
	"strings"
	"time"
)

// Ballot is one vote-casting attempt made by this machine.
type Ballot struct {
	MachineID     int64
	VoterID       int64
	Choice        int64
	ElectionID    int64
	CorrelationID string
	Timestamp     int64
}

type Outcome int

const (
	OutcomeRecorded Outcome = iota + 1
	OutcomeAlreadyVoted
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecorded:
		return "recorded"
	case OutcomeAlreadyVoted:
		return "already_voted"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// OutcomeFromResult maps the wire result text to an Outcome.
func OutcomeFromResult(result string, recorded string, alreadyVoted string) (Outcome, bool) {
	switch strings.TrimSpace(result) {
	case recorded:
		return OutcomeRecorded, true
	case alreadyVoted:
		return OutcomeAlreadyVoted, true
	default:
		return 0, false
	}
}

type State int

const (
	StateIdle State = iota
	StateAwaitingResult
)

func (s State) String() string {
	if s == StateAwaitingResult {
		return "awaiting_result"
	}
	return "idle"
}

// Receipt is what the machine learned about a ballot.
type Receipt struct {
	Ballot  Ballot
	Outcome Outcome
	Waited  time.Duration
}
