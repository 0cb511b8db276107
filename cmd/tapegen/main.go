package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/ismaiel54/lob-replay-sim/internal/logging"
	"github.com/ismaiel54/lob-replay-sim/internal/tape"
	"go.uber.org/zap"
)

func main() {
	def := tape.DefaultSynthConfig()
	var (
		count      = flag.Int("count", def.Events, "Number of events to generate")
		seed       = flag.Int64("seed", def.Seed, "Random seed for deterministic generation")
		out        = flag.String("out", "-", "Output file (- for stdout)")
		startPrice = flag.Int64("start-price", int64(def.StartPrice), "Initial midprice in ticks")
		tick       = flag.Int64("tick", int64(def.TickSize), "Price grid step in ticks")
		levels     = flag.Int("levels", def.Levels, "Grid steps from the mid where orders may rest")
		maxSize    = flag.Int64("max-size", int64(def.MaxSize), "Largest order size")
		logLevel   = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logger, err := logging.NewLogger("tapegen", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := def
	cfg.Seed = *seed
	cfg.Events = *count
	cfg.StartPrice = book.Price(*startPrice)
	cfg.TickSize = book.Price(*tick)
	cfg.Levels = *levels
	cfg.MaxSize = book.Qty(*maxSize)

	logger.Info("generating tape",
		zap.Int("count", cfg.Events),
		zap.Int64("seed", cfg.Seed),
		zap.Int64("start_price", int64(cfg.StartPrice)),
		zap.String("out", *out),
	)

	events := tape.Synthesize(cfg)

	var dst io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			logger.Fatal("failed to create output file", zap.Error(err))
		}
		defer f.Close()
		dst = f
	}
	buf := bufio.NewWriter(dst)

	w := tape.NewWriter(buf)
	for _, ev := range events {
		if err := w.Write(ev); err != nil {
			logger.Fatal("failed to write event", zap.Error(err))
		}
	}
	if err := w.Flush(); err != nil {
		logger.Fatal("failed to flush tape", zap.Error(err))
	}
	if err := buf.Flush(); err != nil {
		logger.Fatal("failed to flush output", zap.Error(err))
	}

	counts := make(map[book.Kind]int)
	for _, ev := range events {
		counts[ev.Kind]++
	}
	logger.Info("tape generated",
		zap.Int("events", len(events)),
		zap.Int("adds", counts[book.Add]),
		zap.Int("cancels", counts[book.Cancel]),
		zap.Int("deletes", counts[book.Delete]),
		zap.Int("executions", counts[book.ExecuteVisible]),
	)
}
