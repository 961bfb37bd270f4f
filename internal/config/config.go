package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	App      App
	Database Database
	Tenants  Tenants
	JWT      JWT
	Presence Presence
	Redis    Redis
	AMQP     AMQP
	Tracing  Tracing
	Storage  Storage
}

type App struct {
	Port     string `env:"PORT" env-default:"8080"`
	Env      string `env:"APP_ENV" env-default:"dev"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

type Database struct {
	Host     string `env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `env:"POSTGRES_PORT" env-default:"5432"`
	User     string `env:"POSTGRES_USER" env-default:"chat_user"`
	DBName   string `env:"POSTGRES_DB" env-default:"crm"`
	Password string `env:"POSTGRES_PASSWORD" env-default:"password"`
	SSLMode  string `env:"POSTGRES_SSLMODE" env-default:"disable"`
}

// DSN points at the control-plane schema.
func (d Database) DSN() string {
	return fmt.Sprintf(
		`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// SchemaDSN scopes every session of the pool to one tenant schema.
func (d Database) SchemaDSN(schema string) string {
	return d.DSN() + " search_path=" + schema
}

type Tenants struct {
	AutoMigrate bool `env:"TENANT_AUTO_MIGRATE" env-default:"true"`
}

type JWT struct {
	Secret string `env:"JWT_SECRET" env-required:"true"`
}

type Presence struct {
	Grace time.Duration `env:"PRESENCE_GRACE" env-default:"10s"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
	Channel  string `env:"REDIS_CHANNEL" env-default:"chat:events"`
}

// Enabled reports whether the cross-instance relay should run.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type AMQP struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" env-default:"chat.events"`
}

type Tracing struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" env-default:"crm-chat"`
}

type Storage struct {
	UploadDir string `env:"UPLOAD_DIR" env-default:"uploads"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment variables: %w", err)
	}
	return cfg, nil
}
