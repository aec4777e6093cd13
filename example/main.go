package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/workpump"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// sqlite keeps the backlog across restarts; stop and start the demo to
	// watch rehydration pick it up
	st, err := workpump.OpenStore(context.Background(), workpump.StoreConfig{
		Driver: "sqlite",
		DSN:    "workpump-demo.db",
	})
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close() //nolint:errcheck

	p, err := workpump.New(
		workpump.WithStore(st),
		workpump.WithProcessor(flakyProcessor),
		workpump.WithPollInterval(time.Second),
		workpump.WithWorkers(3),
		workpump.WithRetryPolicy(workpump.RetryPolicy{
			Attempts:     4,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		}),
		workpump.WithTitle("Order Processing Demo"),
		workpump.WithPort(8080),
		workpump.WithLogger(logger),
		workpump.WithOutcomeCallback(func(it workpump.WorkItem) {
			if it.State == workpump.StateFailed {
				logger.Warn("order failed", "item_id", it.ID, "attempts", it.AttemptCount)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   workpump Demo                                       ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║   Metrics at http://localhost:8080/metrics            ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   • a producer inserts an order every ~0.5s           ║")
	fmt.Println("  ║   • 3 workers, 4 attempts with backoff                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go StartProducer(ctx, p, logger)

	if err := p.Start(ctx); err != nil {
		slog.Error("workpump error", "error", err)
		os.Exit(1)
	}
}
