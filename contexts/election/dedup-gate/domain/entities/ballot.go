package entities

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Ballot is a submitted vote as it arrives at the gate. It is never
// persisted; VoterID stops here.
type Ballot struct {
	MachineID     int64
	VoterID       int64
	Choice        int64
	ElectionID    int64
	CorrelationID string
	Timestamp     int64
}

// ForwardedBallot is a Ballot with the voter identity removed.
type ForwardedBallot struct {
	MachineID     int64
	Choice        int64
	ElectionID    int64
	CorrelationID string
}

func (b Ballot) Key() DedupKey {
	return DedupKey{VoterID: b.VoterID, ElectionID: b.ElectionID}
}

func (b Ballot) Forward() ForwardedBallot {
	return ForwardedBallot{
		MachineID:     b.MachineID,
		Choice:        b.Choice,
		ElectionID:    b.ElectionID,
		CorrelationID: b.CorrelationID,
	}
}

// DedupKey identifies one voter in one election.
type DedupKey struct {
	VoterID    int64
	ElectionID int64
}

// String renders the key in the "{voterID},{electionID}" form shared with
// existing store contents.
func (k DedupKey) String() string {
	return fmt.Sprintf("%d,%d", k.VoterID, k.ElectionID)
}

// Mark is the value stored under a DedupKey. Forwarded flips to true once the
// owning ballot has been handed to the recorder.
type Mark struct {
	Timestamp     int64  `json:"timestamp"`
	CorrelationID string `json:"uuid"`
	Forwarded     bool   `json:"forwarded"`
}

func (m Mark) Encode() string {
	raw, _ := json.Marshal(m)
	return string(raw)
}

// DecodeMark reads a stored mark. A bare integer is a timestamp written by
// earlier deployments and is treated as an already forwarded vote.
func DecodeMark(raw string) (Mark, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Mark{Timestamp: ts, Forwarded: true}, nil
	}
	var mark Mark
	if err := json.Unmarshal([]byte(raw), &mark); err != nil {
		return Mark{}, fmt.Errorf("decode dedup mark %q: %w", raw, err)
	}
	return mark, nil
}

type Decision int

const (
	// DecisionForward: this ballot claimed the key.
	DecisionForward Decision = iota
	// DecisionReforward: redelivery of the claiming ballot whose forward never
	// completed.
	DecisionReforward
	DecisionAlreadyVoted
)

func (d Decision) String() string {
	switch d {
	case DecisionForward:
		return "forward"
	case DecisionReforward:
		return "reforward"
	default:
		return "already_voted"
	}
}

// Decide maps the outcome of a conditional reserve to the gate's action.
func Decide(stored Mark, reserved bool, correlationID string) Decision {
	if reserved {
		return DecisionForward
	}
	if !stored.Forwarded && stored.CorrelationID != "" && stored.CorrelationID == correlationID {
		return DecisionReforward
	}
	return DecisionAlreadyVoted
}
