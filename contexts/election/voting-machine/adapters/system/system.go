package system

import (
	"math/rand/v2"
	"sync"
	"time"

	"ballotbox/contexts/election/voting-machine/ports"

	"github.com/google/uuid"
)

type Clock struct{}

func (Clock) Now() time.Time { return time.Now().UTC() }

// UUIDGenerator issues time-based (version 1) correlation ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// RandomVoters draws voter ids from [0, VoterRange) and choices from
// [0, Choices).
type RandomVoters struct {
	VoterRange int64
	Choices    int64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomVoters(voterRange int64, choices int64, seed uint64) *RandomVoters {
	if voterRange <= 0 {
		voterRange = 100
	}
	if choices <= 0 {
		choices = 5
	}
	return &RandomVoters{
		VoterRange: voterRange,
		Choices:    choices,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (r *RandomVoters) Next() (int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int64N(r.VoterRange), r.rng.Int64N(r.Choices)
}

var (
	_ ports.Clock       = Clock{}
	_ ports.IDGenerator = UUIDGenerator{}
	_ ports.VoterSource = (*RandomVoters)(nil)
)
