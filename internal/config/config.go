package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/Linhhh07/Iot/internal/mqtt"
	"github.com/Linhhh07/Iot/internal/realtime"
	"github.com/Linhhh07/Iot/internal/store"
)

type Config struct {
	Port           string        `mapstructure:"port"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	ResyncSchedule string        `mapstructure:"resync_schedule"`
	StaticDir      string        `mapstructure:"static_dir"`
	DisplayTZ      string        `mapstructure:"display_tz"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	OTLPEndpoint   string        `mapstructure:"otel_exporter_otlp_endpoint"`

	Log    LogConfig    `mapstructure:"log"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Ingest IngestConfig `mapstructure:"ingest"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	WS     WSConfig     `mapstructure:"ws"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicRoot      string        `mapstructure:"topic_root"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type IngestConfig struct {
	Retained  bool `mapstructure:"retained"`
	Workers   int  `mapstructure:"workers"`
	QueueSize int  `mapstructure:"queue_size"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type WSConfig struct {
	SendQueue    int           `mapstructure:"send_queue"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var defaults = map[string]any{
	"port":                        "3000",
	"query_timeout":               "5s",
	"resync_schedule":             "",
	"static_dir":                  "frontend/public",
	"display_tz":                  "Asia/Ho_Chi_Minh",
	"cors_origins":                []string{"*"},
	"otel_exporter_otlp_endpoint": "",
	"log.level":                   "info",
	"log.format":                  "text",
	"mqtt.broker_url":             "",
	"mqtt.client_id":              "iot-bridge",
	"mqtt.username":               "",
	"mqtt.password":               "",
	"mqtt.topic_root":             "esp",
	"mqtt.publish_timeout":        "5s",
	"ingest.retained":             false,
	"ingest.workers":              4,
	"ingest.queue_size":           256,
	"db.driver":                   "mysql",
	"db.host":                     "localhost",
	"db.port":                     "",
	"db.user":                     "",
	"db.password":                 "",
	"db.name":                     "iot",
	"db.sslmode":                  "disable",
	"db.sqlite_path":              "iot.db",
	"db.max_open_conns":           10,
	"db.max_idle_conns":           5,
	"db.conn_max_lifetime":        "30m",
	"redis.addr":                  "",
	"redis.password":              "",
	"redis.db":                    0,
	"ws.send_queue":               64,
	"ws.ping_interval":            "30s",
	"ws.write_timeout":            "10s",
}

// Load layers defaults, an optional YAML file and the environment, in that
// order. A .env file in the working directory is read into the environment
// first when present. cfgFile falls back to CONFIG_FILE.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = os.Getenv("CONFIG_FILE")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))

	slog.Debug("config loaded", "port", cfg.Port, "mqtt", cfg.MQTT.BrokerURL, "db_driver", cfg.DB.Driver, "file", v.ConfigFileUsed())
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MQTT.BrokerURL) == "" {
		errs = append(errs, errors.New("MQTT_BROKER_URL is required"))
	}
	errs = append(errs, c.validateDB()...)
	if c.Ingest.Workers <= 0 {
		errs = append(errs, errors.New("INGEST_WORKERS must be positive"))
	}
	if c.Ingest.QueueSize <= 0 {
		errs = append(errs, errors.New("INGEST_QUEUE_SIZE must be positive"))
	}
	if c.WS.SendQueue < 0 {
		errs = append(errs, errors.New("WS_SEND_QUEUE must not be negative"))
	}
	if _, err := time.LoadLocation(c.DisplayTZ); err != nil {
		errs = append(errs, fmt.Errorf("DISPLAY_TZ: %w", err))
	}
	if s := strings.TrimSpace(c.ResyncSchedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, fmt.Errorf("RESYNC_SCHEDULE: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateDB() []error {
	var errs []error
	switch c.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(c.DB.SQLitePath) == "" {
			errs = append(errs, errors.New("DB_SQLITE_PATH is required for sqlite"))
		}
	case "mysql", "postgres":
		for key, val := range map[string]string{"DB_HOST": c.DB.Host, "DB_USER": c.DB.User, "DB_NAME": c.DB.Name} {
			if strings.TrimSpace(val) == "" {
				errs = append(errs, fmt.Errorf("%s is required for %s", key, c.DB.Driver))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not one of mysql, postgres, sqlite", c.DB.Driver))
	}
	return errs
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.DisplayTZ)
}

func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:          c.DB.Driver,
		Host:            c.DB.Host,
		Port:            c.DB.Port,
		User:            c.DB.User,
		Password:        c.DB.Password,
		Name:            c.DB.Name,
		SSLMode:         c.DB.SSLMode,
		SQLitePath:      c.DB.SQLitePath,
		MaxOpenConns:    c.DB.MaxOpenConns,
		MaxIdleConns:    c.DB.MaxIdleConns,
		ConnMaxLifetime: c.DB.ConnMaxLifetime,
	}
}

func (c *Config) MQTTOptions() mqtt.Options {
	return mqtt.Options{
		BrokerURL:      c.MQTT.BrokerURL,
		ClientID:       c.MQTT.ClientID,
		Username:       c.MQTT.Username,
		Password:       c.MQTT.Password,
		PublishTimeout: c.MQTT.PublishTimeout,
	}
}

func (c *Config) HubOptions() realtime.Options {
	return realtime.Options{
		SendQueue:    c.WS.SendQueue,
		PingInterval: c.WS.PingInterval,
		WriteTimeout: c.WS.WriteTimeout,
	}
}
