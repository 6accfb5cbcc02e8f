package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env            string
	LogLevel       string
	HTTPAddr       string
	CorsOrigin     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownTimout time.Duration

	GraphQLEndpoint string
	GraphQLTimeout  time.Duration

	// FallbackStrategy is parsed by fallback.ParseStrategy.
	FallbackStrategy string
	FallbackIDRange  int
	SearchDebounce   time.Duration

	NATSURL string

	WSMessagesPerSec float64
	WSMessageBurst   int
	WSMaxMessageLen  int64
}

func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		LogLevel:         getEnv("LOG_LEVEL", ""),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		CorsOrigin:       getEnv("CORS_ORIGIN", "*"),
		ReadTimeout:      getDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:     getDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimout:   getDuration("HTTP_SHUTDOWN_TIMEOUT", 20*time.Second),
		GraphQLEndpoint:  getEnv("GRAPHQL_ENDPOINT", "https://rickandmortyapi.com/graphql"),
		GraphQLTimeout:   getDuration("GRAPHQL_TIMEOUT", 10*time.Second),
		FallbackStrategy: getEnv("FALLBACK_STRATEGY", "list"),
		FallbackIDRange:  getInt("FALLBACK_ID_RANGE", 200),
		SearchDebounce:   getDuration("SEARCH_DEBOUNCE", 0),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		WSMessagesPerSec: getFloat("WS_MESSAGES_PER_SEC", 10),
		WSMessageBurst:   getInt("WS_MESSAGE_BURST", 20),
		WSMaxMessageLen:  getInt64("WS_MAX_MESSAGE_BYTES", 4096),
	}
	if strings.TrimSpace(cfg.GraphQLEndpoint) == "" {
		return Config{}, fmt.Errorf("GRAPHQL_ENDPOINT must not be empty")
	}
	if cfg.FallbackIDRange <= 0 {
		return Config{}, fmt.Errorf("FALLBACK_ID_RANGE must be > 0")
	}
	if cfg.SearchDebounce < 0 {
		return Config{}, fmt.Errorf("SEARCH_DEBOUNCE must not be negative")
	}
	if cfg.WSMessagesPerSec <= 0 || cfg.WSMessageBurst <= 0 {
		return Config{}, fmt.Errorf("WS_MESSAGES_PER_SEC and WS_MESSAGE_BURST must be > 0")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
