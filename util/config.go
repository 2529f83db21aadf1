package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const Name = "hutgate"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host         string
		HttpPort     int    `yaml:"httpPort"`
		SslDomain    string `yaml:"sslDomain"`
		InstanceName string `yaml:"instanceName"`
		Insecure     bool   `yaml:"insecure"`
		LogLevel     string `yaml:"logLevel"`
		Database     string `yaml:"database"`

		// LedgerRetention is how long processed activities are kept.
		LedgerRetention time.Duration `yaml:"ledgerRetention"`

		// Autocert serves TLS with certificates obtained from Let's Encrypt
		// for SslDomain.
		Autocert  bool   `yaml:"autocert"`
		CertCache string `yaml:"certCache"`
	}
	Cache    CacheConfig
	Nats     NatsConfig
	Origin   OriginConfig
	Delivery DeliveryConfig
}

type CacheConfig struct {
	Dsn            string
	IsCluster      bool          `yaml:"isCluster"`
	MaxConnections int           `yaml:"maxConnections"`
	Ttl            time.Duration `yaml:"ttl"`
	RefreshAfter   time.Duration `yaml:"refreshAfter"`
}

type NatsConfig struct {
	Hosts     []string
	Jetstream []StreamConfig `yaml:"jetstream"`
	Delivery  struct {
		Stream      string
		Subject     string
		Consumer    string
		MaxAttempts int `yaml:"maxAttempts"`
	}
}

// StreamConfig declares a JetStream stream and the consumers bound to it.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxMsgs   int64 `yaml:"maxMsgs"`
	MaxBytes  int64 `yaml:"maxBytes"`
	Consumers []ConsumerConfig
}

// ConsumerConfig is a pull consumer unless DeliverSubject is set.
type ConsumerConfig struct {
	Name           string
	Durable        string
	DeliverSubject string   `yaml:"deliverSubject"`
	FilterSubjects []string `yaml:"filterSubjects"`
}

func (c ConsumerConfig) IsPush() bool {
	return c.DeliverSubject != ""
}

type OriginConfig struct {
	SubjectPrefix string        `yaml:"subjectPrefix"`
	Timeout       time.Duration `yaml:"timeout"`
}

type DeliveryConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// Hostname returns the public base URL of this instance.
func (c *AppConfig) Hostname() string {
	scheme := "https"
	if c.Conf.Insecure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Conf.SslDomain)
}

// ReadConf loads the configuration from path, or from the resolved default
// location when path is empty. Environment variables override file values.
func ReadConf(path string) (*AppConfig, error) {

	c := &AppConfig{}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Could not load .env file: %v", err)
	}

	configPath := path
	if configPath == "" {
		configPath = ResolveFilePath(ConfigFileName)
	}

	buf, err := os.ReadFile(configPath)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		log.Infof("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warnf("Could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Infof("Created default config file at %s", userConfigPath)
			}
		}
	}

	if err = yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err = c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()

	if c.Conf.SslDomain == "" {
		return nil, fmt.Errorf("conf.sslDomain must be set")
	}

	return c, nil
}

func (c *AppConfig) applyEnv() error {
	if v := os.Getenv("HUTGATE_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("HUTGATE_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HUTGATE_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}

	if v := os.Getenv("HUTGATE_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if v := os.Getenv("HUTGATE_INSTANCE_NAME"); v != "" {
		c.Conf.InstanceName = v
	}

	if os.Getenv("HUTGATE_INSECURE") == "true" {
		c.Conf.Insecure = true
	}

	if v := os.Getenv("HUTGATE_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}

	if v := os.Getenv("HUTGATE_DATABASE"); v != "" {
		c.Conf.Database = v
	}

	if os.Getenv("HUTGATE_AUTOCERT") == "true" {
		c.Conf.Autocert = true
	}

	if v := os.Getenv("HUTGATE_CACHE_DSN"); v != "" {
		c.Cache.Dsn = v
	}

	if os.Getenv("HUTGATE_CACHE_CLUSTER") == "true" {
		c.Cache.IsCluster = true
	}

	if v := os.Getenv("HUTGATE_NATS_HOSTS"); v != "" {
		c.Nats.Hosts = strings.Split(v, ",")
	}

	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.InstanceName == "" {
		c.Conf.InstanceName = Name
	}
	if c.Conf.Database == "" {
		c.Conf.Database = "activities.db"
	}
	if c.Conf.LedgerRetention <= 0 {
		c.Conf.LedgerRetention = 30 * 24 * time.Hour
	}
	if c.Conf.CertCache == "" {
		c.Conf.CertCache = "certs"
	}
	if c.Cache.Ttl <= 0 {
		c.Cache.Ttl = time.Hour
	}
	if c.Cache.RefreshAfter <= 0 {
		c.Cache.RefreshAfter = 24 * time.Hour
	}
	if c.Cache.MaxConnections <= 0 {
		c.Cache.MaxConnections = 10
	}
	if c.Origin.SubjectPrefix == "" {
		c.Origin.SubjectPrefix = "hut"
	}
	if c.Origin.Timeout <= 0 {
		c.Origin.Timeout = 5 * time.Second
	}
	if c.Delivery.Timeout <= 0 {
		c.Delivery.Timeout = 30 * time.Second
	}
	if c.Delivery.Concurrency <= 0 {
		c.Delivery.Concurrency = 8
	}
	if c.Nats.Delivery.Stream == "" {
		c.Nats.Delivery.Stream = "FEDERATION_OUTBOX"
	}
	if c.Nats.Delivery.Subject == "" {
		c.Nats.Delivery.Subject = "federation.outbox.deliver"
	}
	if c.Nats.Delivery.Consumer == "" {
		c.Nats.Delivery.Consumer = "federation-delivery"
	}
	if c.Nats.Delivery.MaxAttempts <= 0 {
		c.Nats.Delivery.MaxAttempts = 10
	}
}
