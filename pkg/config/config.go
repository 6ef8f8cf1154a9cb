package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is built once at process start and handed to each component
// constructor. Nothing reads the environment after MustLoad returns.
type Config struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local"`
	Postgres  PG        `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Kafka     Kafka     `yaml:"kafka"`
	Engine    Engine    `yaml:"engine"`
	Outbox    Outbox    `yaml:"outbox"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type PG struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"1m"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	EventsTopic   string   `yaml:"events_topic" env:"KAFKA_EVENTS_TOPIC" env-default:"inventory_events"`
	InboundTopic  string   `yaml:"inbound_topic" env:"KAFKA_INBOUND_TOPIC" env-default:"fulfillment_events"`
	ConsumerGroup string   `yaml:"consumer_group" env:"KAFKA_CONSUMER_GROUP" env-default:"order-inventory-engine"`
}

type Engine struct {
	// CASRetries bounds the re-read/re-apply loop after a ledger version
	// conflict before the request fails as transient contention.
	CASRetries int `yaml:"cas_retries" env:"ENGINE_CAS_RETRIES" env-default:"5"`

	// HoldTTL is how long an order may sit in reserved before the reaper
	// fires a payment timeout for it.
	HoldTTL time.Duration `yaml:"hold_ttl" env:"ENGINE_HOLD_TTL" env-default:"15m"`

	ReaperInterval time.Duration `yaml:"reaper_interval" env:"ENGINE_REAPER_INTERVAL" env-default:"30s"`
}

type Outbox struct {
	BatchSize int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"50"`
	Interval  time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL" env-default:"500ms"`
}

type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" env-default:"localhost:4318"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/local.yaml"
	}

	var cfg Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			log.Fatalf("error reading config from env: %v", err)
		}
		return &cfg
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
