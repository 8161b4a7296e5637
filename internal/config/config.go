// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BrokerSystems lists the accepted BROKER_SYSTEM values.
var BrokerSystems = []string{"kafka", "nats", "rabbitmq", "memory"}

// Config holds all configuration for the service.
type Config struct {
	Env          string
	BrokerSystem string
	Brokers      []string
	ClientID     string
	GroupID      string

	JobsTopic       string
	StatusTopic     string
	DeadLetterTopic string

	Port     int
	LogLevel string

	RetryInitialDelay time.Duration
	RetryMaxRetries   int
	ShutdownGrace     time.Duration
	HandlerTimeout    time.Duration

	// EnvFile is the dotenv file that was loaded, empty if none was found.
	EnvFile string
}

// EnvFileFor returns the dotenv file name for an APP_ENV value.
func EnvFileFor(appEnv string) string {
	switch appEnv {
	case "production":
		return ".env.production"
	case "development":
		return ".env.development"
	default:
		return ".env"
	}
}

// Load reads the dotenv file selected by APP_ENV from dir, then builds the
// Config from the environment. Variables already set in the environment win
// over the file. A missing file is not an error.
func Load(dir string) (*Config, error) {
	file := filepath.Join(dir, EnvFileFor(os.Getenv("APP_ENV")))
	loaded := ""
	if err := godotenv.Load(file); err == nil {
		loaded = file
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", file, err)
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.EnvFile = loaded
	return cfg, nil
}

// FromEnv builds the Config from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return def
		}
		return n
	}
	ms := func(key string, def int) time.Duration {
		return time.Duration(intVar(key, def)) * time.Millisecond
	}

	cfg := &Config{
		Env:               getenv("APP_ENV", "development"),
		BrokerSystem:      strings.ToLower(getenv("BROKER_SYSTEM", "kafka")),
		Brokers:           splitList(getenv("KAFKA_BROKER", "localhost:9092")),
		ClientID:          getenv("KAFKA_CLIENT_ID", "bor-message-client"),
		GroupID:           getenv("KAFKA_GROUP_ID", "bor-message-group"),
		JobsTopic:         getenv("KAFKA_TOPIC_ETL_JOBS", "bor-etl-jobs"),
		StatusTopic:       getenv("KAFKA_TOPIC_ETL_STATUS", "bor-etl-status"),
		DeadLetterTopic:   os.Getenv("DEAD_LETTER_TOPIC"),
		Port:              intVar("PORT", 4430),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		RetryInitialDelay: ms("BROKER_RETRY_INITIAL_DELAY_MS", 300),
		RetryMaxRetries:   intVar("BROKER_RETRY_MAX_RETRIES", 10),
		ShutdownGrace:     ms("SHUTDOWN_GRACE_MS", 10000),
		HandlerTimeout:    ms("HANDLER_TIMEOUT_MS", 0),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(BrokerSystems, c.BrokerSystem) {
		errs = append(errs, fmt.Errorf("BROKER_SYSTEM %q must be one of %s", c.BrokerSystem, strings.Join(BrokerSystems, ", ")))
	}
	if c.BrokerSystem != "memory" && len(c.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKER must list at least one address"))
	}
	if c.JobsTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC_ETL_JOBS is required"))
	}
	if c.StatusTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC_ETL_STATUS is required"))
	}
	if c.DeadLetterTopic != "" && (c.DeadLetterTopic == c.JobsTopic || c.DeadLetterTopic == c.StatusTopic) {
		errs = append(errs, errors.New("DEAD_LETTER_TOPIC must differ from the handled topics"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.RetryInitialDelay < 0 {
		errs = append(errs, errors.New("BROKER_RETRY_INITIAL_DELAY_MS must not be negative"))
	}
	if c.RetryMaxRetries < 0 {
		errs = append(errs, errors.New("BROKER_RETRY_MAX_RETRIES must not be negative"))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, errors.New("SHUTDOWN_GRACE_MS must not be negative"))
	}
	if c.HandlerTimeout < 0 {
		errs = append(errs, errors.New("HANDLER_TIMEOUT_MS must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// String renders the config for logging with broker credentials redacted.
func (c *Config) String() string {
	brokers := make([]string, len(c.Brokers))
	for i, b := range c.Brokers {
		brokers[i] = redact(b)
	}
	return fmt.Sprintf(
		"env=%s broker=%s brokers=[%s] client=%s group=%s jobs=%s status=%s dlq=%s port=%d log=%s",
		c.Env, c.BrokerSystem, strings.Join(brokers, ","), c.ClientID, c.GroupID,
		c.JobsTopic, c.StatusTopic, c.DeadLetterTopic, c.Port, c.LogLevel,
	)
}

func redact(addr string) string {
	u, err := url.Parse(addr)
	if err != nil || u.User == nil {
		return addr
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
