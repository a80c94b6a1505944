package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string   `mapstructure:"service_name"`
	Env         string   `mapstructure:"env"`
	Port        string   `mapstructure:"port"`
	Database    Database `mapstructure:"database"`
	AWS         AWS      `mapstructure:"aws"`
	Redis       Redis    `mapstructure:"redis"`
	Watchdog    Watchdog `mapstructure:"watchdog"`
	Telemetry   Telem    `mapstructure:"telemetry"`
	Dispatch    Dispatch `mapstructure:"dispatch"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type AWS struct {
	Region                    string `mapstructure:"region"`
	PaymentCommandsTopicArn   string `mapstructure:"payment_commands_topic_arn"`
	InventoryCommandsTopicArn string `mapstructure:"inventory_commands_topic_arn"`
	ShippingCommandsTopicArn  string `mapstructure:"shipping_commands_topic_arn"`
	DeadLetterTopicArn        string `mapstructure:"dead_letter_topic_arn"`
	EventsQueueURL            string `mapstructure:"events_queue_url"`
}

type Redis struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type Watchdog struct {
	Policy   string        `mapstructure:"policy"`
	SLA      time.Duration `mapstructure:"sla"`
	Interval time.Duration `mapstructure:"interval"`
}

type Telem struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type Dispatch struct {
	Attempts  uint          `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("unable to get current file")
	}

	configDir := filepath.Join(filepath.Dir(filename))
	viper.SetConfigName(getConfigName())
	viper.SetConfigType("json")
	viper.AddConfigPath(configDir)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ORDER")

	setDefaultsFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaultsFromEnv() {
	viper.SetDefault("service_name", "order-service")
	viper.SetDefault("env", getEnv("ENV", "local"))
	viper.SetDefault("port", getEnv("PORT", "8080"))

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "order_saga")
	viper.SetDefault("database.ssl_mode", "disable")

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	viper.SetDefault("aws.region", getEnv("AWS_DEFAULT_REGION", "us-east-1"))
	viper.SetDefault("aws.payment_commands_topic_arn",
		getEnv("PAYMENT_COMMANDS_TOPIC_ARN", "arn:aws:sns:us-east-1:000000000000:payment-commands.fifo"))
	viper.SetDefault("aws.inventory_commands_topic_arn",
		getEnv("INVENTORY_COMMANDS_TOPIC_ARN", "arn:aws:sns:us-east-1:000000000000:inventory-commands.fifo"))
	viper.SetDefault("aws.shipping_commands_topic_arn",
		getEnv("SHIPPING_COMMANDS_TOPIC_ARN", "arn:aws:sns:us-east-1:000000000000:shipping-commands.fifo"))
	viper.SetDefault("aws.dead_letter_topic_arn",
		getEnv("DEAD_LETTER_TOPIC_ARN", "arn:aws:sns:us-east-1:000000000000:order-saga-dead-letter"))
	viper.SetDefault("aws.events_queue_url",
		getEnv("EVENTS_QUEUE_URL", "http://localhost:4566/000000000000/order-saga-events.fifo"))

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", getEnv("REDIS_ADDR", "localhost:6379"))
	viper.SetDefault("redis.ttl", "10m")

	viper.SetDefault("watchdog.policy", "alert")
	viper.SetDefault("watchdog.sla", "15m")
	viper.SetDefault("watchdog.interval", "1m")

	viper.SetDefault("telemetry.otlp_endpoint", getEnv("OTLP_ENDPOINT", "localhost:4318"))

	viper.SetDefault("dispatch.attempts", 5)
	viper.SetDefault("dispatch.base_delay", "200ms")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetDatabaseURL constructs database URL from config
func (c *Config) GetDatabaseURL() string {
	if url := viper.GetString("database.url"); url != "" {
		return url
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
