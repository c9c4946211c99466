package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds configuration for both the client and the development backend.
type Config struct {
	Client   ClientConfig   `mapstructure:"client"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Popup    PopupConfig    `mapstructure:"popup"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
}

type ClientConfig struct {
	// BaseURL is the notification backend, e.g. "http://localhost:8090".
	BaseURL  string `mapstructure:"base_url"`
	PageSize int    `mapstructure:"page_size"`
	// ResyncTimeout bounds the background unread-count resync after a mutation.
	ResyncTimeout time.Duration `mapstructure:"resync_timeout"`
}

type AuthConfig struct {
	KeycloakURL  string `mapstructure:"keycloak_url"`
	Realm        string `mapstructure:"realm"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	// AccessToken/RefreshToken start a session without the password grant.
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
}

type RealtimeConfig struct {
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	Factor           float64       `mapstructure:"factor"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	MinTokenValidity time.Duration `mapstructure:"min_token_validity"`
}

type PopupConfig struct {
	MaxItems int           `mapstructure:"max_items"`
	Duration time.Duration `mapstructure:"duration"`
	ActorTTL time.Duration `mapstructure:"actor_ttl"`
}

type ServerConfig struct {
	Port              string        `mapstructure:"port"`
	Env               string        `mapstructure:"env"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RetentionDays     int           `mapstructure:"retention_days"`
}

type DatabaseConfig struct {
	// Host left empty selects the in-memory store.
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	// Brokers left empty disables the consumer.
	Brokers         []string `mapstructure:"brokers"`
	ConsumerGroupID string   `mapstructure:"consumer_group_id"`
	Topics          []string `mapstructure:"topics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from a .env file, environment variables and an
// optional config.yaml. Environment variables override file values.
// Prefix: PINNOTIFY_
func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// Environment variables (e.g. PINNOTIFY_CLIENT_BASE_URL -> client.base_url)
	v.SetEnvPrefix("PINNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain names for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("auth.keycloak_url", "KEYCLOAK_URL")
	v.BindEnv("server.port", "PORT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.base_url", "http://localhost:8090")
	v.SetDefault("client.page_size", 20)
	v.SetDefault("client.resync_timeout", 10*time.Second)

	v.SetDefault("auth.keycloak_url", "http://localhost:8081")
	v.SetDefault("auth.realm", "pins")
	v.SetDefault("auth.client_id", "pinnotify-web")

	v.SetDefault("realtime.base_delay", time.Second)
	v.SetDefault("realtime.factor", 2.0)
	v.SetDefault("realtime.max_delay", 30*time.Second)
	v.SetDefault("realtime.max_attempts", 10)
	v.SetDefault("realtime.heartbeat_timeout", 45*time.Second)
	v.SetDefault("realtime.min_token_validity", 30*time.Second)

	v.SetDefault("popup.max_items", 5)
	v.SetDefault("popup.duration", 6*time.Second)
	v.SetDefault("popup.actor_ttl", 5*time.Minute)

	v.SetDefault("server.port", "8090")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.jwt_secret", "dev-secret")
	v.SetDefault("server.heartbeat_interval", 15*time.Second)
	v.SetDefault("server.retention_days", 30)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "pinnotify")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.consumer_group_id", "pinnotify-devserver")
	v.SetDefault("kafka.topics", []string{"pin-activity", "chat-events", "activity-commands"})

	v.SetDefault("log.level", "")
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
