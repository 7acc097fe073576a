package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig      `mapstructure:"log"`
	HTTP       HTTPConfig     `mapstructure:"http"`
	MySQL      DatabaseConfig `mapstructure:"mysql"`
	ClickHouse DatabaseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	CloseIO    CloseIOConfig  `mapstructure:"closeio"`
	Sync       SyncConfig     `mapstructure:"sync"`
	Worker     WorkerConfig   `mapstructure:"worker"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	SharedSecret string `mapstructure:"shared_secret"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type CloseIOConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	RPS       float64       `mapstructure:"rps"`
	Burst     int           `mapstructure:"burst"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

// AttributeMapping pairs an internal attribute path with a CRM field path.
type AttributeMapping struct {
	Hull    string `mapstructure:"hull"`
	CloseIO string `mapstructure:"closeio"`
}

type LeadIdentifier struct {
	Internal string `mapstructure:"internal"` // domain | external_id
	External string `mapstructure:"external"` // CRM field, default url
}

// Messages is the catalog of skip reasons.
type Messages struct {
	SegmentMismatch string `mapstructure:"segment_mismatch"`
	NotLinked       string `mapstructure:"not_linked"`
	LookupFailed    string `mapstructure:"lookup_failed"`
}

type SyncConfig struct {
	AccountSegments []string `mapstructure:"account_segments"`
	UserSegments    []string `mapstructure:"user_segments"`

	LeadStatus     string         `mapstructure:"lead_status"` // status id or "hull-default"
	LeadIdentifier LeadIdentifier `mapstructure:"lead_identifier"`

	LeadAttributesOutbound    []AttributeMapping `mapstructure:"lead_attributes_outbound"`
	ContactAttributesOutbound []AttributeMapping `mapstructure:"contact_attributes_outbound"`
	LeadAttributesInbound     []string           `mapstructure:"lead_attributes_inbound"`
	ContactAttributesInbound  []string           `mapstructure:"contact_attributes_inbound"`

	Messages     Messages      `mapstructure:"messages"`
	Concurrency  int           `mapstructure:"concurrency"`
	ReferenceTTL time.Duration `mapstructure:"reference_ttl"`
}

type WorkerConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (HULLCLOSE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	// a missing user file is fine (defaults + env); a broken one is not
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil && !isNotFound(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// env override (HULLCLOSE_CLOSEIO_API_KEY, ...)
	v.SetEnvPrefix("HULLCLOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}
