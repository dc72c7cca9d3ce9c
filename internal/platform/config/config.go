package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role names one of the election processes. Each role validates only the
// settings it actually needs.
type Role string

const (
	RoleDedupGate     Role = "dedup-gate"
	RoleVoteRecorder  Role = "vote-recorder"
	RoleVotingMachine Role = "voting-machine"
	RoleAPI           Role = "api"
)

const (
	BrokerPubSub = "pubsub"
	BrokerMemory = "memory"

	DedupRedis    = "redis"
	DedupPostgres = "postgres"
	DedupBolt     = "bolt"
	DedupMemory   = "memory"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	Debug       bool
	LogFormat   string

	Broker  BrokerConfig
	Topics  TopicsConfig
	Dedup   DedupConfig
	Ledger  LedgerConfig
	Machine MachineConfig
	HTTP    HTTPConfig
}

type BrokerConfig struct {
	Backend             string
	ProjectID           string
	AckDeadline         time.Duration
	MaxOutstanding      int
	DeadLetterTopic     string
	MaxDeliveryAttempts int
}

type TopicsConfig struct {
	Election       string
	SubscriptionID string
}

type DedupConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BoltPath      string
	PostgresDSN   string
	RetryAttempts int
	RetryDelay    time.Duration
	// AutoMigrate creates vote_dedup at startup when the postgres backend is
	// used. Independent of LedgerConfig.AutoMigrate.
	AutoMigrate bool
}

type LedgerConfig struct {
	PostgresDSN   string
	RetryAttempts int
	RetryDelay    time.Duration
	RelayInterval time.Duration
	RelayBatch    int
	// AutoMigrate creates the ledger and result outbox tables at startup.
	// Production schemas are provisioned out of band.
	AutoMigrate bool
}

type MachineConfig struct {
	ElectionID int64
	MachineID  int64
	ResultWait time.Duration
	RoundDelay time.Duration
	Rounds     int
	VoterRange int64
	Choices    int64
}

type HTTPConfig struct {
	Port string
}

// Keys double as environment variable names once upper-cased.
const (
	keyServiceName         = "service_name"
	keyDebug               = "debug"
	keyLogFormat           = "log_format"
	keyBrokerBackend       = "broker_backend"
	keyProjectID           = "gcp_project"
	keyAckDeadline         = "ack_deadline"
	keyMaxOutstanding      = "max_outstanding"
	keyDeadLetterTopic     = "dead_letter_topic"
	keyMaxDeliveryAttempts = "max_delivery_attempts"
	keyTopic               = "topic_name"
	keySubscriptionID      = "election_sub_id"
	keyDedupBackend        = "dedup_backend"
	keyRedisHost           = "redis_host"
	keyRedisPort           = "redis_port"
	keyRedisPassword       = "redis_password"
	keyRedisDB             = "redis_db"
	keyBoltPath            = "bolt_path"
	keyDedupRetryAttempts  = "dedup_retry_attempts"
	keyDedupRetryDelay     = "dedup_retry_delay"
	keyPostgresDSN         = "postgres_dsn"
	keyPostgresHost        = "postgres_host"
	keyLedgerRetryAttempts = "ledger_retry_attempts"
	keyLedgerRetryDelay    = "ledger_retry_delay"
	keyRelayInterval       = "relay_interval"
	keyRelayBatch          = "relay_batch"
	keyAutoMigrate         = "auto_migrate"
	keyDedupAutoMigrate    = "dedup_auto_migrate"
	keyElectionID          = "election_id"
	keyMachineID           = "machine_id"
	keyResultWait          = "result_wait"
	keyRoundDelay          = "round_delay"
	keyRounds              = "rounds"
	keyVoterRange          = "voter_range"
	keyChoices             = "choices"
	keyHTTPPort            = "http_port"
)

// Keys exported for flag binding in cmd/*.
const (
	KeyDebug      = keyDebug
	KeyElectionID = keyElectionID
	KeyMachineID  = keyMachineID
	KeyResultWait = keyResultWait
	KeyRoundDelay = keyRoundDelay
	KeyRounds     = keyRounds
	KeyHTTPPort   = keyHTTPPort
)

// NewViper returns a viper instance reading the process environment with
// every default applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	// The legacy services enabled debug output when "Debug" was set.
	_ = v.BindEnv(keyDebug, "DEBUG", "Debug")

	v.SetDefault(keyServiceName, "ballotbox")
	v.SetDefault(keyDebug, false)
	v.SetDefault(keyLogFormat, "json")
	v.SetDefault(keyBrokerBackend, BrokerPubSub)
	v.SetDefault(keyAckDeadline, 60*time.Second)
	v.SetDefault(keyMaxOutstanding, 16)
	v.SetDefault(keyMaxDeliveryAttempts, 5)
	v.SetDefault(keyDedupBackend, DedupRedis)
	v.SetDefault(keyRedisPort, 6379)
	v.SetDefault(keyRedisPassword, "election")
	v.SetDefault(keyRedisDB, 0)
	v.SetDefault(keyBoltPath, "dedup.bolt")
	v.SetDefault(keyDedupRetryAttempts, 60)
	v.SetDefault(keyDedupRetryDelay, time.Second)
	v.SetDefault(keyLedgerRetryAttempts, 60)
	v.SetDefault(keyLedgerRetryDelay, 10*time.Second)
	v.SetDefault(keyRelayInterval, 5*time.Second)
	v.SetDefault(keyRelayBatch, 50)
	v.SetDefault(keyAutoMigrate, false)
	v.SetDefault(keyDedupAutoMigrate, false)
	v.SetDefault(keyResultWait, 10*time.Second)
	v.SetDefault(keyRoundDelay, time.Second)
	v.SetDefault(keyRounds, 0)
	v.SetDefault(keyVoterRange, 100)
	v.SetDefault(keyChoices, 5)
	v.SetDefault(keyHTTPPort, "8080")
	return v
}

// Load reads configuration from v, or from the environment when v is nil.
// It does not validate; call Validate with the process role.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = NewViper()
	}

	cfg := Config{
		ServiceName: strings.TrimSpace(v.GetString(keyServiceName)),
		Debug:       v.GetBool(keyDebug),
		LogFormat:   strings.ToLower(strings.TrimSpace(v.GetString(keyLogFormat))),
		Broker: BrokerConfig{
			Backend:             strings.ToLower(strings.TrimSpace(v.GetString(keyBrokerBackend))),
			ProjectID:           strings.TrimSpace(v.GetString(keyProjectID)),
			AckDeadline:         v.GetDuration(keyAckDeadline),
			MaxOutstanding:      v.GetInt(keyMaxOutstanding),
			DeadLetterTopic:     strings.TrimSpace(v.GetString(keyDeadLetterTopic)),
			MaxDeliveryAttempts: v.GetInt(keyMaxDeliveryAttempts),
		},
		Topics: TopicsConfig{
			Election:       strings.TrimSpace(v.GetString(keyTopic)),
			SubscriptionID: strings.TrimSpace(v.GetString(keySubscriptionID)),
		},
		Dedup: DedupConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString(keyDedupBackend))),
			RedisPassword: v.GetString(keyRedisPassword),
			RedisDB:       v.GetInt(keyRedisDB),
			BoltPath:      strings.TrimSpace(v.GetString(keyBoltPath)),
			RetryAttempts: v.GetInt(keyDedupRetryAttempts),
			RetryDelay:    v.GetDuration(keyDedupRetryDelay),
			AutoMigrate:   v.GetBool(keyDedupAutoMigrate),
		},
		Ledger: LedgerConfig{
			RetryAttempts: v.GetInt(keyLedgerRetryAttempts),
			RetryDelay:    v.GetDuration(keyLedgerRetryDelay),
			RelayInterval: v.GetDuration(keyRelayInterval),
			RelayBatch:    v.GetInt(keyRelayBatch),
			AutoMigrate:   v.GetBool(keyAutoMigrate),
		},
		Machine: MachineConfig{
			ElectionID: v.GetInt64(keyElectionID),
			MachineID:  v.GetInt64(keyMachineID),
			ResultWait: v.GetDuration(keyResultWait),
			RoundDelay: v.GetDuration(keyRoundDelay),
			Rounds:     v.GetInt(keyRounds),
			VoterRange: v.GetInt64(keyVoterRange),
			Choices:    v.GetInt64(keyChoices),
		},
		HTTP: HTTPConfig{
			Port: strings.TrimSpace(v.GetString(keyHTTPPort)),
		},
	}

	if host := strings.TrimSpace(v.GetString(keyRedisHost)); host != "" {
		cfg.Dedup.RedisAddr = fmt.Sprintf("%s:%d", host, v.GetInt(keyRedisPort))
	}
	dsn := strings.TrimSpace(v.GetString(keyPostgresDSN))
	if dsn == "" {
		if host := strings.TrimSpace(v.GetString(keyPostgresHost)); host != "" {
			dsn = fmt.Sprintf("host=%s user=admin password=adminpassword dbname=election port=5432 sslmode=disable", host)
		}
	}
	cfg.Ledger.PostgresDSN = dsn
	cfg.Dedup.PostgresDSN = dsn

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("unsupported LOG_FORMAT %q", cfg.LogFormat)
	}
	return cfg, nil
}

// ElectionSet reports whether an election id was supplied; zero is a valid
// id so presence is tracked through viper.
func ElectionSet(v *viper.Viper) bool {
	return v != nil && v.IsSet(keyElectionID)
}

func MachineSet(v *viper.Viper) bool {
	return v != nil && v.IsSet(keyMachineID)
}

// Validate checks every setting required by role and reports all missing or
// invalid fields at once.
func (c Config) Validate(role Role) error {
	var problems []string
	need := func(ok bool, problem string) {
		if !ok {
			problems = append(problems, problem)
		}
	}

	brokerFields := func() {
		switch c.Broker.Backend {
		case BrokerPubSub:
			need(c.Broker.ProjectID != "", "GCP_PROJECT is required for the pubsub broker")
		case BrokerMemory:
		default:
			problems = append(problems, fmt.Sprintf("BROKER_BACKEND %q is not one of pubsub, memory", c.Broker.Backend))
		}
		need(c.Topics.Election != "", "TOPIC_NAME is required")
		need(c.Broker.MaxOutstanding > 0, "MAX_OUTSTANDING must be positive")
		need(c.Broker.MaxDeliveryAttempts >= 0, "MAX_DELIVERY_ATTEMPTS must not be negative")
		if c.Broker.DeadLetterTopic != "" {
			need(c.Broker.DeadLetterTopic != c.Topics.Election, "DEAD_LETTER_TOPIC must differ from TOPIC_NAME")
		}
	}
	ledgerFields := func() {
		need(c.Ledger.PostgresDSN != "", "POSTGRES_DSN or POSTGRES_HOST is required")
		need(c.Ledger.RetryAttempts > 0, "LEDGER_RETRY_ATTEMPTS must be positive")
	}

	switch role {
	case RoleDedupGate:
		brokerFields()
		need(c.Topics.SubscriptionID != "", "ELECTION_SUB_ID is required")
		need(c.Dedup.RetryAttempts > 0, "DEDUP_RETRY_ATTEMPTS must be positive")
		switch c.Dedup.Backend {
		case DedupRedis:
			need(c.Dedup.RedisAddr != "", "REDIS_HOST is required for the redis dedup store")
		case DedupPostgres:
			need(c.Dedup.PostgresDSN != "", "POSTGRES_DSN or POSTGRES_HOST is required for the postgres dedup store")
		case DedupBolt:
			need(c.Dedup.BoltPath != "", "BOLT_PATH is required for the bolt dedup store")
		case DedupMemory:
		default:
			problems = append(problems, fmt.Sprintf("DEDUP_BACKEND %q is not one of redis, postgres, bolt, memory", c.Dedup.Backend))
		}
	case RoleVoteRecorder:
		brokerFields()
		ledgerFields()
		need(c.Topics.SubscriptionID != "", "ELECTION_SUB_ID is required")
		need(c.Ledger.RelayInterval > 0, "RELAY_INTERVAL must be positive")
	case RoleVotingMachine:
		brokerFields()
		need(c.Machine.MachineID >= 0, "machine id must not be negative")
		need(c.Machine.ElectionID >= 0, "election id must not be negative")
		need(c.Machine.ResultWait > 0, "RESULT_WAIT must be positive")
		need(c.Machine.RoundDelay >= 0, "ROUND_DELAY must not be negative")
		need(c.Machine.VoterRange > 0, "VOTER_RANGE must be positive")
		need(c.Machine.Choices > 0, "CHOICES must be positive")
	case RoleAPI:
		ledgerFields()
		need(c.HTTP.Port != "", "HTTP_PORT is required")
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid %s configuration: %s", role, strings.Join(problems, "; "))
	}
	return nil
}
