package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/miladsoleymani/jobrelay/core"
)

var produceTimeout time.Duration

var produceCmd = &cobra.Command{
	Use:   "produce <topic> <message> [key]",
	Short: "Publish a single message to a topic",
	Long: `Publish one message to the configured broker. The message is sent
exactly as given; use a JSON string to publish a structured payload.

Examples:
  jobrelay produce bor-etl-jobs '{"jobId":"etl-1","jobType":"import","userId":"u1"}'
  jobrelay produce bor-etl-status '{"jobId":"etl-1","status":"RUNNING"}' etl-1`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), produceTimeout)
		defer cancel()

		var key string
		if len(args) == 3 {
			key = args[2]
		}
		return runProduce(ctx, cmd, args[0], args[1], key)
	},
}

func init() {
	rootCmd.AddCommand(produceCmd)
	produceCmd.Flags().DurationVar(&produceTimeout, "timeout", 30*time.Second, "Give up after this long")
}

func runProduce(ctx context.Context, cmd *cobra.Command, topic, msg, key string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg.ClientID += "-producer"
	b, err := newBroker(cfg, "", logger)
	if err != nil {
		return err
	}
	client := core.New(b, core.WithLogger(logger), core.WithRetryPolicy(retryPolicy(cfg)))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connecting to %s broker at %v...\n", cfg.BrokerSystem, cfg.Brokers)
	if err := client.Connect(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error sending message:", err)
		return err
	}
	defer client.Disconnect(context.Background())

	var opts []core.PublishOption
	if key != "" {
		opts = append(opts, core.WithKey(key))
	}
	fmt.Fprintf(out, "Sending message to topic: %s\n", topic)
	if err := client.Publish(ctx, topic, msg, opts...); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error sending message:", err)
		return err
	}
	fmt.Fprintln(out, "Message sent successfully!")
	return nil
}
