package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miladsoleymani/jobrelay/core"
)

const defaultConsumerGroup = "bor-message-test-consumer"

var consumeCmd = &cobra.Command{
	Use:   "consume <topic1,topic2,...> [group]",
	Short: "Print messages arriving on one or more topics",
	Long: `Subscribe to a comma-separated list of topics and print every message
until interrupted. JSON values are pretty-printed.

Examples:
  jobrelay consume bor-etl-jobs,bor-etl-status
  jobrelay consume bor-etl-status my-debug-group`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		group := defaultConsumerGroup
		if len(args) == 2 {
			group = args[1]
		}
		return runConsume(ctx, cmd.OutOrStdout(), splitTopics(args[0]), group)
	},
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func splitTopics(s string) []string {
	var topics []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

func runConsume(ctx context.Context, out io.Writer, topics []string, group string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	b, err := newBroker(cfg, group, logger)
	if err != nil {
		return err
	}
	client := core.New(b, core.WithLogger(logger), core.WithRetryPolicy(retryPolicy(cfg)))

	fmt.Fprintf(out, "Connecting to %s broker at %v...\n", cfg.BrokerSystem, cfg.Brokers)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	var mu sync.Mutex
	printer := func(c core.Context) error {
		mu.Lock()
		defer mu.Unlock()
		printMessage(out, c, time.Now())
		return nil
	}
	for _, t := range topics {
		if err := client.Handle(t, printer); err != nil {
			return err
		}
	}
	// Dispatch is stopped by Disconnect, not by the signal context.
	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	fmt.Fprintf(out, "Listening on %s (group %s). Press Ctrl+C to exit.\n", strings.Join(topics, ", "), group)

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "Disconnecting consumer...")
		return nil
	case <-client.Done():
		return client.Err()
	}
}

// printMessage writes one message. The header shows the broker timestamp, or
// now when the transport did not supply one.
func printMessage(out io.Writer, c core.Context, now time.Time) {
	key := "(none)"
	if k := c.Key(); len(k) > 0 {
		key = string(k)
	}
	ts := c.Timestamp()
	if ts.IsZero() {
		ts = now
	}
	fmt.Fprintf(out, "\n[%s] New message from topic: %s (partition: %d)\n",
		ts.UTC().Format(time.RFC3339), c.Topic(), c.Partition())
	fmt.Fprintf(out, "Key: %s\n", key)
	fmt.Fprintf(out, "Value: %s\n", formatValue(c.Value()))
}

// formatValue indents JSON values and returns anything else unchanged.
func formatValue(v []byte) string {
	if len(v) == 0 {
		return "(empty)"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return string(v)
	}
	return buf.String()
}
