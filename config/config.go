package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	TrackHub   TrackHubConfig   `yaml:"trackhub"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Carriers   CarriersConfig   `yaml:"carriers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds the pgx connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	StatusChangedTopicName   string `yaml:"status_changed_topic_name"`
	RefreshRequestsTopicName string `yaml:"refresh_requests_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type TrackHubConfig struct {
	HTTPAddr              string `yaml:"http_addr"`
	WorkerHTTPAddr        string `yaml:"worker_http_addr"`
	APIConsumerGroup      string `yaml:"api_consumer_group"`
	WorkerConsumerGroup   string `yaml:"worker_consumer_group"`
	StatusViewTTLSeconds  int    `yaml:"status_view_ttl_seconds"`
	MappingsReloadSeconds int    `yaml:"mappings_reload_seconds"`
	CarrierTimezone       string `yaml:"carrier_timezone"`
}

type SweepConfig struct {
	IntervalMinutes       int  `yaml:"interval_minutes"`
	BatchSize             int  `yaml:"batch_size"`
	LookbackDays          int  `yaml:"lookback_days"`
	DefaultMinDelayMillis int  `yaml:"default_min_delay_ms"`
	RetryBaseSeconds      int  `yaml:"retry_base_seconds"`
	MaxRetries            *int `yaml:"max_retries"`
	PanicCooldownSeconds  int  `yaml:"panic_cooldown_seconds"`
	StopTimeoutSeconds    int  `yaml:"stop_timeout_seconds"`
	Autostart             bool `yaml:"autostart"`
	// DistributedPacing shares per-carrier spacing across workers through Redis.
	DistributedPacing bool `yaml:"distributed_pacing"`
}

func (s SweepConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s SweepConfig) Lookback() time.Duration {
	return time.Duration(s.LookbackDays) * 24 * time.Hour
}

func (s SweepConfig) DefaultMinDelay() time.Duration {
	return time.Duration(s.DefaultMinDelayMillis) * time.Millisecond
}

func (s SweepConfig) RetryBaseDelay() time.Duration {
	return time.Duration(s.RetryBaseSeconds) * time.Second
}

func (s SweepConfig) PanicCooldown() time.Duration {
	return time.Duration(s.PanicCooldownSeconds) * time.Second
}

func (s SweepConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSeconds) * time.Second
}

type ClassifierConfig struct {
	KeywordsFile string `yaml:"keywords_file"`
	Watch        bool   `yaml:"watch"`
}

// CarrierConfig holds the union of credentials used by the adapters.
// Each adapter reads only the fields it needs.
type CarrierConfig struct {
	Disabled bool `yaml:"disabled"`
	Simulate bool `yaml:"simulate"`

	BaseURL      string `yaml:"base_url"`
	AuthURL      string `yaml:"auth_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	License      string `yaml:"license"`
	SiteID       string `yaml:"site_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
	Customer     string `yaml:"customer"`
	AccountNo    string `yaml:"account_no"`
	LangID       string `yaml:"lang_id"`

	TimeoutSeconds     int `yaml:"timeout_seconds"`
	MinDelayMillis     int `yaml:"min_delay_ms"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

func (c CarrierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c CarrierConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMillis) * time.Millisecond
}

type CarriersConfig struct {
	UPS   CarrierConfig `yaml:"ups"`
	DHL   CarrierConfig `yaml:"dhl"`
	SDA   CarrierConfig `yaml:"sda"`
	BRT   CarrierConfig `yaml:"brt"`
	FedEx CarrierConfig `yaml:"fedex"`
	TNT   CarrierConfig `yaml:"tnt"`
}

// LoadConfig reads the YAML file at filename. An optional .env file is loaded
// first and ${VAR} references in the YAML are expanded from the environment.
func LoadConfig(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config Config
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal YAML")
	}

	config.withDefaults()
	return &config, nil
}

func (c *Config) withDefaults() {
	if c.Kafka.StatusChangedTopicName == "" {
		c.Kafka.StatusChangedTopicName = "shipment.status_changed"
	}
	if c.Kafka.RefreshRequestsTopicName == "" {
		c.Kafka.RefreshRequestsTopicName = "shipment.refresh_requested"
	}

	if c.TrackHub.HTTPAddr == "" {
		c.TrackHub.HTTPAddr = ":8080"
	}
	if c.TrackHub.WorkerHTTPAddr == "" {
		c.TrackHub.WorkerHTTPAddr = ":8082"
	}
	if c.TrackHub.APIConsumerGroup == "" {
		c.TrackHub.APIConsumerGroup = "track-api"
	}
	if c.TrackHub.WorkerConsumerGroup == "" {
		c.TrackHub.WorkerConsumerGroup = "track-worker"
	}
	if c.TrackHub.StatusViewTTLSeconds <= 0 {
		c.TrackHub.StatusViewTTLSeconds = 600
	}
	if c.TrackHub.CarrierTimezone == "" {
		c.TrackHub.CarrierTimezone = "Europe/Rome"
	}

	s := &c.Sweep
	if s.IntervalMinutes <= 0 {
		s.IntervalMinutes = 20
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.LookbackDays <= 0 {
		s.LookbackDays = 14
	}
	if s.DefaultMinDelayMillis <= 0 {
		s.DefaultMinDelayMillis = 1000
	}
	if s.RetryBaseSeconds <= 0 {
		s.RetryBaseSeconds = 30
	}
	if s.MaxRetries == nil || *s.MaxRetries < 0 {
		n := 5
		s.MaxRetries = &n
	}
	if s.PanicCooldownSeconds <= 0 {
		s.PanicCooldownSeconds = 60
	}
	if s.StopTimeoutSeconds <= 0 {
		s.StopTimeoutSeconds = 10
	}

	// UPS rejects bursts below five seconds.
	if c.Carriers.UPS.MinDelayMillis <= 0 {
		c.Carriers.UPS.MinDelayMillis = 5000
	}
}
