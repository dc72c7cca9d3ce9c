package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Routing attributes carried next to every election payload. Subscriptions
// filter on these server-side, so the literal values are part of the wire
// contract and must stay backward compatible.
const (
	AttrFunction  = "function"
	AttrMachineID = "machineID"

	FunctionSubmit = "submit"
	FunctionRecord = "record"
	FunctionResult = "result"

	ResultSuccessful   = "successful"
	ResultAlreadyVoted = "Already Voted!!!"
)

var ErrMalformedPayload = errors.New("malformed message payload")

// Message is the transport-neutral unit moved by the election topic.
type Message struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	PublishTime     time.Time
	DeliveryAttempt int
}

// Attribute returns the trimmed attribute value, or "" when absent.
func (m Message) Attribute(key string) string {
	if m.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(m.Attributes[key])
}

// Submission is a ballot as cast by a voting machine.
type Submission struct {
	MachineID  int64  `json:"machine_ID"`
	VoterID    int64  `json:"voter_ID"`
	Voting     int64  `json:"voting"`
	ElectionID int64  `json:"election_ID"`
	UUID       string `json:"UUID"`
	Timestamp  int64  `json:"timestamp"`
}

// Forwarded is a ballot admitted by the dedup gate. It never carries the
// voter identifier.
type Forwarded struct {
	MachineID  int64  `json:"machine_ID"`
	Voting     int64  `json:"voting"`
	ElectionID int64  `json:"election_ID"`
	UUID       string `json:"UUID"`
}

// Result reports the outcome of a ballot back to the originating machine.
type Result struct {
	Result string `json:"result"`
	UUID   string `json:"UUID"`
}

func NewSubmissionMessage(s Submission) (Message, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Data:       data,
		Attributes: map[string]string{AttrFunction: FunctionSubmit},
	}, nil
}

func NewForwardedMessage(f Forwarded) (Message, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Data:       data,
		Attributes: map[string]string{AttrFunction: FunctionRecord},
	}, nil
}

func NewResultMessage(r Result, machineID int64) (Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Data: data,
		Attributes: map[string]string{
			AttrFunction:  FunctionResult,
			AttrMachineID: strconv.FormatInt(machineID, 10),
		},
	}, nil
}

type submissionWire struct {
	MachineID  *int64  `json:"machine_ID"`
	VoterID    *int64  `json:"voter_ID"`
	Voting     *int64  `json:"voting"`
	ElectionID *int64  `json:"election_ID"`
	UUID       *string `json:"UUID"`
	Timestamp  *int64  `json:"timestamp"`
}

// DecodeSubmission rejects payloads with missing fields instead of letting
// zero values through; voter 0 and choice 0 are legitimate values.
func DecodeSubmission(data []byte) (Submission, error) {
	var wire submissionWire
	if err := decodeStrict(data, &wire); err != nil {
		return Submission{}, err
	}
	missing := missingFields(map[string]bool{
		"machine_ID":  wire.MachineID == nil,
		"voter_ID":    wire.VoterID == nil,
		"voting":      wire.Voting == nil,
		"election_ID": wire.ElectionID == nil,
		"UUID":        wire.UUID == nil || strings.TrimSpace(*wire.UUID) == "",
		"timestamp":   wire.Timestamp == nil,
	})
	if missing != "" {
		return Submission{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, missing)
	}
	return Submission{
		MachineID:  *wire.MachineID,
		VoterID:    *wire.VoterID,
		Voting:     *wire.Voting,
		ElectionID: *wire.ElectionID,
		UUID:       strings.TrimSpace(*wire.UUID),
		Timestamp:  *wire.Timestamp,
	}, nil
}

type forwardedWire struct {
	MachineID  *int64  `json:"machine_ID"`
	Voting     *int64  `json:"voting"`
	ElectionID *int64  `json:"election_ID"`
	UUID       *string `json:"UUID"`
}

func DecodeForwarded(data []byte) (Forwarded, error) {
	var wire forwardedWire
	if err := decodeStrict(data, &wire); err != nil {
		return Forwarded{}, err
	}
	missing := missingFields(map[string]bool{
		"machine_ID":  wire.MachineID == nil,
		"voting":      wire.Voting == nil,
		"election_ID": wire.ElectionID == nil,
		"UUID":        wire.UUID == nil || strings.TrimSpace(*wire.UUID) == "",
	})
	if missing != "" {
		return Forwarded{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, missing)
	}
	return Forwarded{
		MachineID:  *wire.MachineID,
		Voting:     *wire.Voting,
		ElectionID: *wire.ElectionID,
		UUID:       strings.TrimSpace(*wire.UUID),
	}, nil
}

func DecodeResult(data []byte) (Result, error) {
	var result Result
	if err := decodeStrict(data, &result); err != nil {
		return Result{}, err
	}
	result.UUID = strings.TrimSpace(result.UUID)
	if result.UUID == "" {
		return Result{}, fmt.Errorf("%w: missing UUID", ErrMalformedPayload)
	}
	switch result.Result {
	case ResultSuccessful, ResultAlreadyVoted:
	default:
		return Result{}, fmt.Errorf("%w: unknown result %q", ErrMalformedPayload, result.Result)
	}
	return result, nil
}

func decodeStrict(data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func missingFields(checks map[string]bool) string {
	order := []string{"machine_ID", "voter_ID", "voting", "election_ID", "UUID", "timestamp"}
	var missing []string
	for _, name := range order {
		if checks[name] {
			missing = append(missing, name)
		}
	}
	return strings.Join(missing, ", ")
}
