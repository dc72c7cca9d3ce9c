package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestElectionContextRespectsBoundaries(t *testing.T) {
	for _, v := range collectViolations(filepath.Join("..", "contexts")) {
		t.Errorf("%s:%d imports %q (%s)", v.File, v.Line, v.Import, v.Rule)
	}
}

func TestApplicationLayerRejectsInfrastructure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "contexts")
	dir := filepath.Join(root, "election", "dedup-gate", "application", "commands")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	src := `package commands

import (
	"context"

	"ballotbox/contexts/election/vote-recorder/ports"
	"ballotbox/internal/platform/messaging"
	"github.com/redis/go-redis/v9"
)

var _ context.Context
var _ ports.Clock
var _ messaging.Broker
var _ redis.Cmdable
`
	if err := os.WriteFile(filepath.Join(dir, "bad.go"), []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rules := map[string]int{}
	for _, v := range collectViolations(root) {
		rules[v.Rule]++
	}
	if rules["cross-module imports are forbidden"] != 1 {
		t.Fatalf("expected one cross-module violation, got %v", rules)
	}
	if rules["application must not import runtime infrastructure"] != 1 {
		t.Fatalf("expected one infrastructure violation, got %v", rules)
	}
	// the foreign ports package, the messaging package and redis all fall outside the allowlist
	if rules["application import is outside explicit allowlist"] != 3 {
		t.Fatalf("expected three allowlist violations, got %v", rules)
	}
}

func TestPortsMayOnlyDescribeDomainAndContracts(t *testing.T) {
	root := filepath.Join(t.TempDir(), "contexts")
	dir := filepath.Join(root, "election", "vote-recorder", "ports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	src := `package ports

import (
	"context"

	"ballotbox/contexts/election/vote-recorder/adapters/memory"
	"ballotbox/contexts/election/vote-recorder/domain/entities"
	messagesv1 "ballotbox/contracts/gen/messages/v1"
)

var _ context.Context
var _ *memory.Store
var _ entities.VoteRecord
var _ messagesv1.Message
`
	if err := os.WriteFile(filepath.Join(dir, "ports.go"), []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	violations := collectViolations(root)
	if len(violations) != 2 {
		t.Fatalf("expected the adapter import to be flagged twice, got %+v", violations)
	}
	for _, v := range violations {
		if v.Import != "ballotbox/contexts/election/vote-recorder/adapters/memory" {
			t.Fatalf("unexpected violation %+v", v)
		}
	}
}
