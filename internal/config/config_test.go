package config

import (
	"log/slog"
	"testing"
	"time"
)

var envKeys = []string{
	"APP_ENV", "LOG_LEVEL", "HTTP_ADDR",
	"DB_DRIVER", "DB_DSN", "SQLITE_PATH", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
	"DB_CONN_MAX_LIFETIME", "DB_LOG_SQL", "DB_CONNECT_ATTEMPTS", "DB_CONNECT_BACKOFF",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID", "MQTT_TOPIC", "MQTT_CONNECT_ATTEMPTS", "MQTT_CONNECT_BACKOFF",
	"WS_PATH", "WS_SEND_TIMEOUT", "WS_MAX_CONCURRENT_SENDS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", got.HTTPAddr, ":8080")
	}
	if got.Driver != "sqlite3" {
		t.Errorf("Driver = %q, want sqlite3", got.Driver)
	}
	if got.DBConnectAttempts != 10 || got.DBConnectBackoff != 10*time.Second {
		t.Errorf("DB connect policy = %d/%s, want 10/10s", got.DBConnectAttempts, got.DBConnectBackoff)
	}
	if got.MQTTConnectAttempts != 3 || got.MQTTConnectBackoff != 10*time.Second {
		t.Errorf("MQTT connect policy = %d/%s, want 3/10s", got.MQTTConnectAttempts, got.MQTTConnectBackoff)
	}
	if got.MQTTAddress() != "tcp://localhost:1883" {
		t.Errorf("MQTTAddress() = %q", got.MQTTAddress())
	}
	if got.MQTTTopic != "measurements" {
		t.Errorf("MQTTTopic = %q, want measurements", got.MQTTTopic)
	}
	if got.WSPath != "/ws" {
		t.Errorf("WSPath = %q, want /ws", got.WSPath)
	}
	if got.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty", got.RedisAddr)
	}
}

func TestLoadFromEnv_AppEnv_Valid(t *testing.T) {
	tests := []struct {
		name   string
		appEnv string
		want   string
	}{
		{name: "dev", appEnv: "dev", want: "dev"},
		{name: "prod", appEnv: "prod", want: "prod"},
		{name: "dev with whitespace", appEnv: "  dev  ", want: "dev"},
		{name: "prod with whitespace", appEnv: "\nprod\t", want: "prod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_ENV", tt.appEnv)

			got, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() error = %v, want nil", err)
			}
			if got.AppEnv != tt.want {
				t.Errorf("AppEnv = %q, want %q", got.AppEnv, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "app env staging", key: "APP_ENV", value: "staging"},
		{name: "app env uppercase", key: "APP_ENV", value: "DEV"},
		{name: "log level", key: "LOG_LEVEL", value: "loud"},
		{name: "driver", key: "DB_DRIVER", value: "mysql"},
		{name: "max open conns", key: "DB_MAX_OPEN_CONNS", value: "many"},
		{name: "lifetime", key: "DB_CONN_MAX_LIFETIME", value: "forever"},
		{name: "log sql", key: "DB_LOG_SQL", value: "sometimes"},
		{name: "db attempts zero", key: "DB_CONNECT_ATTEMPTS", value: "0"},
		{name: "mqtt port", key: "MQTT_PORT", value: "-1"},
		{name: "mqtt backoff negative", key: "MQTT_CONNECT_BACKOFF", value: "-5s"},
		{name: "ws path", key: "WS_PATH", value: "ws"},
		{name: "redis ttl", key: "REDIS_TTL", value: "1 day"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv_Postgres(t *testing.T) {
	t.Run("requires DSN", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DB_DRIVER", "pgx")

		if _, err := LoadFromEnv(); err == nil {
			t.Fatal("LoadFromEnv() error = nil, want non-nil")
		}
	})

	t.Run("accepts DSN", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DB_DRIVER", "pgx")
		t.Setenv("DB_DSN", " postgres://sensors@db:5432/sensors ")

		got, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("LoadFromEnv() error = %v, want nil", err)
		}
		if got.DSN != "postgres://sensors@db:5432/sensors" {
			t.Errorf("DSN = %q", got.DSN)
		}
	})
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", "  :9090  ")
	t.Setenv("MQTT_BROKER", "broker")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("DB_LOG_SQL", "true")
	t.Setenv("DB_CONNECT_ATTEMPTS", "4")
	t.Setenv("WS_SEND_TIMEOUT", "750ms")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "2")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", got.HTTPAddr)
	}
	if got.MQTTAddress() != "tcp://broker:8883" {
		t.Errorf("MQTTAddress() = %q", got.MQTTAddress())
	}
	if !got.LogSQL {
		t.Error("LogSQL = false, want true")
	}
	if got.DBConnectAttempts != 4 {
		t.Errorf("DBConnectAttempts = %d, want 4", got.DBConnectAttempts)
	}
	if got.WSSendTimeout != 750*time.Millisecond {
		t.Errorf("WSSendTimeout = %s, want 750ms", got.WSSendTimeout)
	}
	if got.RedisAddr != "cache:6379" || got.RedisDB != 2 {
		t.Errorf("redis = %q/%d", got.RedisAddr, got.RedisDB)
	}
}

func TestParseLogLevel_Valid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want slog.Level
	}{
		{name: "debug", in: "debug", want: slog.LevelDebug},
		{name: "info", in: "info", want: slog.LevelInfo},
		{name: "warn", in: "warn", want: slog.LevelWarn},
		{name: "warning", in: "warning", want: slog.LevelWarn},
		{name: "error", in: "error", want: slog.LevelError},
		{name: "case insensitive", in: "DeBuG", want: slog.LevelDebug},
		{name: "trims whitespace", in: "  warn \n", want: slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if err != nil {
				t.Fatalf("ParseLogLevel(%q) error = %v, want nil", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel_Invalid(t *testing.T) {
	for _, in := range []string{"", "nope", "warns", "1"} {
		t.Run(in, func(t *testing.T) {
			got, err := ParseLogLevel(in)
			if err == nil {
				t.Fatalf("ParseLogLevel(%q) error = nil, want non-nil", in)
			}
			if got != slog.LevelInfo {
				t.Errorf("ParseLogLevel(%q) = %v, want %v on error", in, got, slog.LevelInfo)
			}
		})
	}
}
