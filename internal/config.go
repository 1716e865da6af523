package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	OpsPort  int    `env:"OPS_PORT,default=9090" validate:"min=1,max=65535,nefield=Port"`

	BusBackend string `env:"BUS_BACKEND,default=memory" validate:"oneof=memory redis"`
	RedisURL   string `env:"REDIS_URL" validate:"required_if=BusBackend redis"`

	StoreBackend   string        `env:"STORE_BACKEND,default=badger" validate:"oneof=badger sql"`
	BadgerFilepath string        `env:"BADGER_FILEPATH,default=./data/badger" validate:"required_if=StoreBackend badger"`
	SQLDialect     string        `env:"SQL_DIALECT,default=sqlite" validate:"oneof=sqlite mysql postgres"`
	SQLDSN         string        `env:"SQL_DSN" validate:"required_if=StoreBackend sql"`
	DedupWindow    time.Duration `env:"DEDUP_WINDOW,default=24h" validate:"min=0"`

	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=5s" validate:"gt=0"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256" validate:"min=1"`
	// DELIVERY_TIMEOUT is how long a publisher waits on a full subscriber buffer before warning. It keeps waiting.
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=2s" validate:"gt=0"`
	IngestRetryInitial   time.Duration `env:"INGEST_RETRY_INITIAL,default=100ms" validate:"gt=0"`
	IngestRetryMax       time.Duration `env:"INGEST_RETRY_MAX,default=5s" validate:"gtefield=IngestRetryInitial"`
	AnnouncePersisted    bool          `env:"ANNOUNCE_PERSISTED,default=true"`

	// MODERATION_WORDS_FILE lists censored words, one per line. Moderation is off when empty.
	ModerationWordsFile       string `env:"MODERATION_WORDS_FILE"`
	ModerationCharReplacement string `env:"MODERATION_CHARACTER_REPLACEMENT,default=*" validate:"len=1"`

	JWTSecret string `env:"JWT_SECRET,required=true" validate:"min=16"`
}

var validate = validator.New()

// LoadConfig reads the configuration from the environment and checks it.
func LoadConfig() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
