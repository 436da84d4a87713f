package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// Driver selects the database/sql driver: "sqlite3" (default) or "pgx".
	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool

	DBConnectAttempts int
	DBConnectBackoff  time.Duration

	MQTTBroker          string
	MQTTPort            int
	MQTTClientID        string
	MQTTTopic           string
	MQTTConnectAttempts int
	MQTTConnectBackoff  time.Duration

	WSPath               string
	WSSendTimeout        time.Duration
	WSMaxConcurrentSends int

	// RedisAddr enables the live "latest value" mirror when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// MQTTAddress is the broker URL the consumer dials.
func (c Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := ParseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	switch driver {
	case "sqlite3":
	case "pgx":
		if dsn == "" {
			return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER is %q", driver)
		}
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, pgx)", driver)
	}
	path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if path == "" {
		path = "data/sensors.db"
	}

	maxOpenConns, err := intFromEnv("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := intFromEnv("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := durationFromEnv("DB_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return Config{}, err
	}
	logSQL, err := boolFromEnv("DB_LOG_SQL", false)
	if err != nil {
		return Config{}, err
	}
	dbAttempts, err := positiveIntFromEnv("DB_CONNECT_ATTEMPTS", 10)
	if err != nil {
		return Config{}, err
	}
	dbBackoff, err := durationFromEnv("DB_CONNECT_BACKOFF", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}
	mqttPort, err := positiveIntFromEnv("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "sensor-ingest"
	}
	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = "measurements"
	}
	mqttAttempts, err := positiveIntFromEnv("MQTT_CONNECT_ATTEMPTS", 3)
	if err != nil {
		return Config{}, err
	}
	mqttBackoff, err := durationFromEnv("MQTT_CONNECT_BACKOFF", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	wsPath := strings.TrimSpace(os.Getenv("WS_PATH"))
	if wsPath == "" {
		wsPath = "/ws"
	}
	if !strings.HasPrefix(wsPath, "/") {
		return Config{}, fmt.Errorf("invalid WS_PATH %q (must start with /)", wsPath)
	}
	wsSendTimeout, err := durationFromEnv("WS_SEND_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	wsMaxSends, err := positiveIntFromEnv("WS_MAX_CONCURRENT_SENDS", 64)
	if err != nil {
		return Config{}, err
	}

	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB, err := intFromEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	redisTTL, err := durationFromEnv("REDIS_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:               appEnv,
		LogLevel:             level,
		HTTPAddr:             httpAddr,
		Driver:               driver,
		DSN:                  dsn,
		Path:                 path,
		MaxOpenConns:         maxOpenConns,
		MaxIdleConns:         maxIdleConns,
		ConnMaxLifetime:      connMaxLifetime,
		LogSQL:               logSQL,
		DBConnectAttempts:    dbAttempts,
		DBConnectBackoff:     dbBackoff,
		MQTTBroker:           mqttBroker,
		MQTTPort:             mqttPort,
		MQTTClientID:         mqttClientID,
		MQTTTopic:            mqttTopic,
		MQTTConnectAttempts:  mqttAttempts,
		MQTTConnectBackoff:   mqttBackoff,
		WSPath:               wsPath,
		WSSendTimeout:        wsSendTimeout,
		WSMaxConcurrentSends: wsMaxSends,
		RedisAddr:            redisAddr,
		RedisPassword:        redisPassword,
		RedisDB:              redisDB,
		RedisTTL:             redisTTL,
	}, nil
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func intFromEnv(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func positiveIntFromEnv(key string, def int) (int, error) {
	n, err := intFromEnv(key, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %d (must be > 0)", key, n)
	}
	return n, nil
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q (must not be negative)", key, s)
	}
	return d, nil
}

func boolFromEnv(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}
