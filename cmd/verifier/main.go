package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ismaiel54/lob-replay-sim/internal/logging"
	"github.com/ismaiel54/lob-replay-sim/internal/msg"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <duration_seconds> [brokers]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 30 127.0.0.1:9092\n", os.Args[0])
		os.Exit(1)
	}

	var durationSeconds int
	if _, err := fmt.Sscanf(os.Args[1], "%d", &durationSeconds); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid duration: %v\n", err)
		os.Exit(1)
	}

	kafkaCfg := msg.LoadConfig()
	if len(os.Args) >= 3 {
		kafkaCfg.Brokers = msg.SplitBrokers(os.Args[2])
	}
	// a fresh group per invocation re-reads every topic from the start
	kafkaCfg.Group = fmt.Sprintf("%s-%d", kafkaCfg.Group, time.Now().UnixNano())

	logger, err := logging.NewLogger("verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting verifier",
		zap.Int("duration_seconds", durationSeconds),
		zap.Strings("brokers", kafkaCfg.Brokers),
		zap.String("group", kafkaCfg.Group),
	)

	consumer, err := msg.NewConsumer(kafkaCfg, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	ledger := msg.NewLedger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSeconds)*time.Second)
	defer cancel()

	err = consumer.Run(ctx, func(_ context.Context, d msg.Delivery) error {
		fresh := ledger.Apply(d)
		logger.Debug("consumed message",
			zap.String("event_id", d.EventID()),
			zap.String("topic", d.Topic),
			zap.Int32("partition", d.Partition),
			zap.Int64("offset", d.Offset),
			zap.Bool("duplicate", !fresh),
		)
		return nil
	})

	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("consumer error", zap.Error(err))
	}

	reports := ledger.Check()
	failed, incomplete := 0, 0

	fmt.Println("\n=== Verification Results ===")
	fmt.Printf("Runs seen: %d\n", len(reports))
	fmt.Printf("Redelivered messages: %d\n", ledger.Duplicates())
	if _, skipped := consumer.Stats(); skipped > 0 {
		fmt.Printf("Undecodable messages: %d\n", skipped)
	}

	for _, r := range reports {
		switch {
		case !r.Complete:
			incomplete++
			fmt.Printf("  Run %s: %d fills, no summary yet\n", r.RunID, r.Fills)
		case !r.OK():
			failed++
			fmt.Printf("  Run %s: %d fills, FAILED\n", r.RunID, r.Fills)
			for _, p := range r.Problems {
				fmt.Printf("    - %s\n", p)
			}
		default:
			fmt.Printf("  Run %s: %d fills, ok\n", r.RunID, r.Fills)
		}
	}

	if failed > 0 {
		fmt.Printf("\n❌ VERIFICATION FAILED: %d run(s) do not conserve inventory and cash\n", failed)
		os.Exit(1)
	}
	if incomplete > 0 {
		fmt.Printf("\n⚠️  %d run(s) incomplete\n", incomplete)
	}

	fmt.Println("\n✅ VERIFICATION PASSED: fills reconcile with run summaries")
	os.Exit(0)
}
