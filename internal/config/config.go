package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds application configuration.
type Config struct {
	ITCHFile    string
	MaxMessages int
	Serve       bool
	Port        int
	MetricsPort int
	LogLevel    string
	GinMode     string
	// ChannelBuffer sizes the sequencer and publisher channels.
	ChannelBuffer   int
	DebugInvariants bool

	NATS  NATSConfig
	Redis RedisConfig
	OTel  OTelConfig
}

type NATSConfig struct {
	URL string // empty disables the NATS fill publisher
}

type RedisConfig struct {
	Addr     string // empty disables the Redis fill publisher
	Password string
	DB       int
}

type OTelConfig struct {
	Endpoint    string // empty disables trace export
	Environment string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		ITCHFile:        getEnv("ITCH_FILE", "12302019.NASDAQ_ITCH50"),
		MaxMessages:     getEnvInt("MAX_MESSAGES", 1_000_000),
		Serve:           getEnvBool("SERVE", false),
		Port:            getEnvInt("PORT", 8080),
		MetricsPort:     getEnvInt("METRICS_PORT", 9090),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		GinMode:         getEnv("GIN_MODE", "release"),
		ChannelBuffer:   getEnvInt("CHANNEL_BUFFER", 4096),
		DebugInvariants: getEnvBool("ARBITER_DEBUG_INVARIANTS", false),
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		OTel: OTelConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
	}
}

// RegisterFlags binds command line flags on top of the loaded values, so a
// flag wins over its environment variable.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ITCHFile, "file", c.ITCHFile, "ITCH 5.0 file to replay")
	fs.IntVar(&c.MaxMessages, "max", c.MaxMessages, "maximum number of order events to replay (0 = all)")
	fs.BoolVar(&c.Serve, "serve", c.Serve, "keep serving diagnostics after the replay")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP diagnostics port")
	fs.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Metrics server port")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug/info/warn/error)")
	fs.StringVar(&c.GinMode, "gin-mode", c.GinMode, "Gin mode (debug/release)")
	fs.IntVar(&c.ChannelBuffer, "buffer", c.ChannelBuffer, "pipeline channel buffer size")
	fs.BoolVar(&c.DebugInvariants, "check-invariants", c.DebugInvariants, "verify book invariants after every event")
	fs.StringVar(&c.NATS.URL, "nats-url", c.NATS.URL, "NATS server URL for fill publishing")
	fs.StringVar(&c.Redis.Addr, "redis-addr", c.Redis.Addr, "Redis address for fill streams")
	fs.StringVar(&c.OTel.Endpoint, "otlp-endpoint", c.OTel.Endpoint, "OTLP gRPC collector endpoint")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}
