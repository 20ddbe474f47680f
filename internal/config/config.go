package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	base "github.com/olucodehub/2aside-platform-sub000/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaTopics struct {
	RequestsCreated     string
	CyclesMatched       string
	ProofUploaded       string
	PairsExpired        string
	SettlementRequested string
	WalletCredited      string
	ReferralQualified   string
	DeadLetter          string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type ScheduleConfig struct {
	MergeTimes []string
	Timezone   string
	JoinWindow time.Duration
	CutoffLead time.Duration
}

type DeadlineConfig struct {
	Proof        time.Duration
	Confirmation time.Duration
	Extension    time.Duration
	CancelGuard  time.Duration
}

type LimitsConfig struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
}

type ProofConfig struct {
	Dir       string
	MaxBytes  int64
	Retention time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Schedule  ScheduleConfig
	Deadlines DeadlineConfig
	Limits    LimitsConfig
	Proof     ProofConfig
	RateLimit RateLimitConfig
	JWTSecret string
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("ASIDE_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ASIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("ASIDE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "merge-service")
	v.SetDefault("kafka.topics.requests_created", "merge.requests.created")
	v.SetDefault("kafka.topics.cycles_matched", "merge.cycles.matched")
	v.SetDefault("kafka.topics.proof_uploaded", "merge.pairs.proof_uploaded")
	v.SetDefault("kafka.topics.pairs_expired", "merge.pairs.expired")
	v.SetDefault("kafka.topics.settlement_requested", "merge.settlement.requested")
	v.SetDefault("kafka.topics.wallet_credited", "merge.wallet.credited")
	v.SetDefault("kafka.topics.referral_qualified", "merge.referral.qualified")
	v.SetDefault("kafka.topics.dead_letter", "merge.dead_letter")
	v.SetDefault("schedule.merge_times", "09:00,15:00,21:00")
	v.SetDefault("schedule.timezone", "Africa/Lagos")
	v.SetDefault("jwt_secret", "")

	minAmount, err := envDecimal("MIN_AMOUNT", decimal.NewFromInt(1000))
	if err != nil {
		return nil, err
	}
	maxAmount, err := envDecimal("MAX_AMOUNT", decimal.NewFromInt(10_000_000))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "aside_merge")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "aside")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "aside")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", "localhost:6379"),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				RequestsCreated:     envString("KAFKA_REQUESTS_CREATED_TOPIC", v.GetString("kafka.topics.requests_created")),
				CyclesMatched:       envString("KAFKA_CYCLES_MATCHED_TOPIC", v.GetString("kafka.topics.cycles_matched")),
				ProofUploaded:       envString("KAFKA_PROOF_UPLOADED_TOPIC", v.GetString("kafka.topics.proof_uploaded")),
				PairsExpired:        envString("KAFKA_PAIRS_EXPIRED_TOPIC", v.GetString("kafka.topics.pairs_expired")),
				SettlementRequested: envString("KAFKA_SETTLEMENT_REQUESTED_TOPIC", v.GetString("kafka.topics.settlement_requested")),
				WalletCredited:      envString("KAFKA_WALLET_CREDITED_TOPIC", v.GetString("kafka.topics.wallet_credited")),
				ReferralQualified:   envString("KAFKA_REFERRAL_QUALIFIED_TOPIC", v.GetString("kafka.topics.referral_qualified")),
				DeadLetter:          envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Schedule: ScheduleConfig{
			MergeTimes: envCSV("MERGE_TIMES", splitCSV(v.GetString("schedule.merge_times"))),
			Timezone:   envString("MERGE_TIMEZONE", v.GetString("schedule.timezone")),
			JoinWindow: envDuration("JOIN_WINDOW", 5*time.Minute),
			CutoffLead: envDuration("CUTOFF_LEAD", time.Hour),
		},
		Deadlines: DeadlineConfig{
			Proof:        envDuration("PROOF_DEADLINE", 4*time.Hour),
			Confirmation: envDuration("CONFIRMATION_DEADLINE", 4*time.Hour),
			Extension:    envDuration("EXTENSION_DURATION", time.Hour),
			CancelGuard:  envDuration("CANCEL_GUARD", 10*time.Minute),
		},
		Limits: LimitsConfig{
			MinAmount: minAmount,
			MaxAmount: maxAmount,
		},
		Proof: ProofConfig{
			Dir:       envString("PROOF_DIR", "/var/lib/aside/proofs"),
			MaxBytes:  int64(envInt("PROOF_MAX_BYTES", 5<<20)),
			Retention: envDuration("PROOF_RETENTION", 30*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: envInt("RATE_LIMIT_REQUESTS", 30),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		JWTSecret: envString("JWT_SECRET", v.GetString("jwt_secret")),
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if len(cfg.Schedule.MergeTimes) == 0 {
		return nil, fmt.Errorf("at least one merge time required")
	}
	if cfg.Schedule.JoinWindow <= 0 {
		return nil, fmt.Errorf("join window must be positive")
	}
	if cfg.Deadlines.Proof <= 0 || cfg.Deadlines.Confirmation <= 0 || cfg.Deadlines.Extension <= 0 {
		return nil, fmt.Errorf("deadlines must be positive")
	}
	if cfg.Limits.MinAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("min amount must be positive")
	}
	if cfg.Limits.MaxAmount.LessThan(cfg.Limits.MinAmount) {
		return nil, fmt.Errorf("max amount must not be below min amount")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("ASIDE_JWT_SECRET required")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv("ASIDE_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("ASIDE_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv("ASIDE_" + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envDecimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw := envString(key, "")
	if raw == "" {
		return def, nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ASIDE_%s must be a decimal: %w", key, err)
	}
	return parsed, nil
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv("ASIDE_" + key); v != "" {
		if out := splitCSV(v); len(out) > 0 {
			return out
		}
	}
	if v := os.Getenv(key); v != "" {
		if out := splitCSV(v); len(out) > 0 {
			return out
		}
	}
	return def
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
