package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	v := NewViper()
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Backend != BrokerPubSub || cfg.Dedup.Backend != DedupRedis {
		t.Fatalf("unexpected default backends %+v %+v", cfg.Broker, cfg.Dedup)
	}
	if cfg.Dedup.RetryAttempts != 60 || cfg.Dedup.RetryDelay != time.Second {
		t.Fatalf("unexpected dedup retry defaults %+v", cfg.Dedup)
	}
	if cfg.Ledger.RetryAttempts != 60 || cfg.Ledger.RetryDelay != 10*time.Second {
		t.Fatalf("unexpected ledger retry defaults %+v", cfg.Ledger)
	}
	if cfg.Machine.ResultWait != 10*time.Second || cfg.Machine.RoundDelay != time.Second {
		t.Fatalf("unexpected machine timing defaults %+v", cfg.Machine)
	}
	if cfg.Machine.VoterRange != 100 || cfg.Machine.Choices != 5 {
		t.Fatalf("unexpected ballot ranges %+v", cfg.Machine)
	}
}

func TestLoadReadsLegacyEnvironment(t *testing.T) {
	t.Setenv("GCP_PROJECT", "election-project")
	t.Setenv("TOPIC_NAME", "election")
	t.Setenv("ELECTION_SUB_ID", "dedup-sub")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("Debug", "1")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Debug {
		t.Fatalf("expected Debug env to enable debug mode")
	}
	if cfg.Dedup.RedisAddr != "redis:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.Dedup.RedisAddr)
	}
	if !strings.Contains(cfg.Ledger.PostgresDSN, "host=db") || !strings.Contains(cfg.Ledger.PostgresDSN, "dbname=election") {
		t.Fatalf("unexpected postgres dsn %q", cfg.Ledger.PostgresDSN)
	}
	for _, role := range []Role{RoleDedupGate, RoleVoteRecorder, RoleVotingMachine, RoleAPI} {
		if err := cfg.Validate(role); err != nil {
			t.Fatalf("validate %s: %v", role, err)
		}
	}
}

func TestLoadPrefersExplicitDSN(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_DSN", "postgres://votes@elsewhere/election")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.PostgresDSN != "postgres://votes@elsewhere/election" {
		t.Fatalf("unexpected dsn %q", cfg.Ledger.PostgresDSN)
	}
}

func TestValidateListsEveryMissingField(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = cfg.Validate(RoleDedupGate)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"GCP_PROJECT", "TOPIC_NAME", "ELECTION_SUB_ID", "REDIS_HOST"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}

	err = cfg.Validate(RoleVoteRecorder)
	if err == nil || !strings.Contains(err.Error(), "POSTGRES_DSN") {
		t.Fatalf("expected ledger dsn error, got %v", err)
	}
}

func TestValidateMemoryBackendsNeedNoInfrastructure(t *testing.T) {
	v := NewViper()
	v.Set("broker_backend", BrokerMemory)
	v.Set("dedup_backend", DedupMemory)
	v.Set("topic_name", "election")
	v.Set("election_sub_id", "dedup-sub")
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(RoleDedupGate); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cfg.Validate(RoleVotingMachine); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsUnknownBackendAndRole(t *testing.T) {
	v := NewViper()
	v.Set("broker_backend", "kafka")
	v.Set("topic_name", "election")
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(RoleVotingMachine); err == nil || !strings.Contains(err.Error(), "BROKER_BACKEND") {
		t.Fatalf("expected broker backend error, got %v", err)
	}
	if err := cfg.Validate(Role("tallier")); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestLoadRejectsUnknownLogFormat(t *testing.T) {
	v := NewViper()
	v.Set("log_format", "xml")
	if _, err := Load(v); err == nil {
		t.Fatalf("expected log format error")
	}
}

func TestLoadKeepsMigrationFlagsApart(t *testing.T) {
	t.Setenv("DEDUP_AUTO_MIGRATE", "true")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Dedup.AutoMigrate || cfg.Ledger.AutoMigrate {
		t.Fatalf("expected only the dedup store to migrate, got dedup=%v ledger=%v", cfg.Dedup.AutoMigrate, cfg.Ledger.AutoMigrate)
	}

	t.Setenv("DEDUP_AUTO_MIGRATE", "false")
	t.Setenv("AUTO_MIGRATE", "true")
	cfg, err = Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dedup.AutoMigrate || !cfg.Ledger.AutoMigrate {
		t.Fatalf("expected only the ledger to migrate, got dedup=%v ledger=%v", cfg.Dedup.AutoMigrate, cfg.Ledger.AutoMigrate)
	}
}
