package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers     []string
	StatusTopic string
}

type PickupConfig struct {
	MinLead   time.Duration
	ClosedDay time.Weekday
	OpenHour  int
	CloseHour int
}

type ShippingConfig struct {
	DeliveryDwell time.Duration
	SweepInterval time.Duration
}

type Config struct {
	App struct {
		Port        string
		ServiceName string
	}
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Pickup   PickupConfig
	Shipping ShippingConfig
	Proxy    struct {
		MarkupFactor float64
	}
}

func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{}
	cfg.App.Port = getenv("APP_PORT", "8080")
	cfg.App.ServiceName = getenv("SERVICE_NAME", "fulfillment-service")

	cfg.Postgres = PostgresConfig{
		Host:            getenv("DB_HOST", "localhost"),
		Port:            getenv("DB_PORT", "5432"),
		User:            getenv("DB_USER", "postgres"),
		Password:        getenv("DB_PASSWORD", "postgres"),
		DBName:          getenv("DB_NAME", "fulfillment"),
		SSLMode:         getenv("DB_SSLMODE", "disable"),
		MaxConns:        int32(getenvInt("DB_MAX_CONNS", 10)),
		MinConns:        int32(getenvInt("DB_MIN_CONNS", 2)),
		MaxConnLifetime: getenvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		MigrationsPath:  getenv("DB_MIGRATIONS_PATH", "migrations"),
	}

	cfg.Redis.Addr = getenv("REDIS_ADDR", "localhost:6379")

	cfg.Kafka.Brokers = splitCSV(getenv("KAFKA_BROKERS", "localhost:9092"))
	cfg.Kafka.StatusTopic = getenv("KAFKA_STATUS_TOPIC", "order.status.changed")

	cfg.Pickup = PickupConfig{
		MinLead:   getenvDuration("PICKUP_MIN_LEAD", 2*time.Hour),
		ClosedDay: time.Weekday(getenvInt("PICKUP_CLOSED_WEEKDAY", int(time.Sunday))),
		OpenHour:  getenvInt("PICKUP_OPEN_HOUR", 9),
		CloseHour: getenvInt("PICKUP_CLOSE_HOUR", 20),
	}

	cfg.Shipping = ShippingConfig{
		DeliveryDwell: getenvDuration("SHIPPING_DELIVERY_DWELL", 72*time.Hour),
		SweepInterval: getenvDuration("SHIPPING_SWEEP_INTERVAL", 10*time.Minute),
	}

	cfg.Proxy.MarkupFactor = getenvFloat("PROXY_MARKUP_FACTOR", 1.15)

	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
