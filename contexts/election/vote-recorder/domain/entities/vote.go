package entities

import (
	"sort"
	"time"
)

// VoteRecord is one committed vote. BallotUUID is the idempotency key that
// makes a redelivered ballot a no-op; it is never joined back to a voter.
type VoteRecord struct {
	ElectionID int64
	MachineID  int64
	Choice     int64
	BallotUUID string
	RecordedAt time.Time
}

// ResultNotice is the pending "recorded" answer for a ballot, stored in the
// same transaction as its VoteRecord.
type ResultNotice struct {
	BallotUUID  string
	MachineID   int64
	Result      string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Receipt describes what RecordVote found or changed.
type Receipt struct {
	Inserted        bool
	ResultPublished bool
}

type ChoiceCount struct {
	Choice int64
	Votes  int
}

type Tally struct {
	ElectionID int64
	Total      int
	Choices    []ChoiceCount
}

// CountVotes tallies votes for one election, ordered by choice.
func CountVotes(electionID int64, votes []VoteRecord) Tally {
	counts := make(map[int64]int)
	tally := Tally{ElectionID: electionID}
	for _, vote := range votes {
		if vote.ElectionID != electionID {
			continue
		}
		counts[vote.Choice]++
		tally.Total++
	}
	tally.Choices = make([]ChoiceCount, 0, len(counts))
	for choice, n := range counts {
		tally.Choices = append(tally.Choices, ChoiceCount{Choice: choice, Votes: n})
	}
	sort.Slice(tally.Choices, func(i, j int) bool {
		return tally.Choices[i].Choice < tally.Choices[j].Choice
	})
	return tally
}

// SameBallot reports whether two records describe the same vote, ignoring
// the time it was recorded.
func (v VoteRecord) SameBallot(other VoteRecord) bool {
	return v.BallotUUID == other.BallotUUID &&
		v.ElectionID == other.ElectionID &&
		v.MachineID == other.MachineID &&
		v.Choice == other.Choice
}
