package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/broker"
	"github.com/miladsoleymani/jobrelay/core"
	"github.com/miladsoleymani/jobrelay/internal/config"
	"github.com/miladsoleymani/jobrelay/internal/logging"

	// Transports register themselves with the broker package.
	_ "github.com/miladsoleymani/jobrelay/plugins/kafka"
	_ "github.com/miladsoleymani/jobrelay/plugins/memory"
	_ "github.com/miladsoleymani/jobrelay/plugins/nats"
	_ "github.com/miladsoleymani/jobrelay/plugins/rabbitmq"
)

var (
	envDir       string
	brokerFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "jobrelay",
	Short: "Relay ETL job events between HTTP and a message broker",
	Long: `jobrelay accepts ETL job requests and status updates over HTTP, publishes
them to a message broker and reacts to the messages it consumes.

Available commands:
  serve      Run the HTTP API and the topic dispatcher
  produce    Publish a single message to a topic
  consume    Print messages arriving on one or more topics

Configuration is read from the environment and from the dotenv file selected
by APP_ENV (.env.production, .env.development or .env).`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envDir, "env-dir", ".", "Directory containing the dotenv files")
	rootCmd.PersistentFlags().StringVar(&brokerFlag, "broker", "", "Override BROKER_SYSTEM (kafka, nats, rabbitmq, memory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override LOG_LEVEL")
}

// loadRuntime reads and validates the configuration and builds the logger.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envDir)
	if err != nil {
		return nil, nil, err
	}
	if brokerFlag != "" {
		cfg.BrokerSystem = brokerFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newBroker instantiates the configured transport.
func newBroker(cfg *config.Config, group string, logger *zap.Logger) (core.Broker, error) {
	b, err := broker.Create(cfg.BrokerSystem, broker.Config{
		Brokers:  cfg.Brokers,
		ClientID: cfg.ClientID,
		Group:    group,
		Logger:   logger.Named(cfg.BrokerSystem),
	})
	if err != nil {
		return nil, fmt.Errorf("create %s broker: %w", cfg.BrokerSystem, err)
	}
	return b, nil
}

func retryPolicy(cfg *config.Config) core.RetryPolicy {
	p := core.DefaultRetryPolicy()
	p.InitialDelay = cfg.RetryInitialDelay
	p.MaxRetries = cfg.RetryMaxRetries
	return p
}
