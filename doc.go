// Package workpump moves work items from a durable store through an
// in-memory queue to a bounded pool of workers.
//
// An external writer inserts items into the store. A poller admits them into
// the queue in creation order and marks them queued. Workers pop items, run
// them through a [Processor] with exponential-backoff retry, and persist the
// terminal state: processed or failed. On startup a rehydration pass admits
// every item a previous process stored but never queued.
//
// # Quick Start
//
//	st, _ := workpump.OpenStore(ctx, workpump.StoreConfig{Driver: "sqlite", DSN: "workpump.db"})
//	defer st.Close()
//
//	p, _ := workpump.New(
//	    workpump.WithStore(st),
//	    workpump.WithProcessor(func(ctx context.Context, it workpump.WorkItem) error {
//	        return send(ctx, it.Payload)
//	    }),
//	)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	p.Start(ctx) // blocks until ctx is cancelled and in-flight work drains
//
// # Configuration
//
// Pipelines use the functional options pattern:
//
//	p, err := workpump.New(
//	    workpump.WithStore(st),
//	    workpump.WithProcessor(process),
//	    workpump.WithPollInterval(2 * time.Second),
//	    workpump.WithBatchSize(100),
//	    workpump.WithWorkers(8),
//	    workpump.WithRetryPolicy(workpump.RetryPolicy{Attempts: 5, InitialDelay: time.Second}),
//	    workpump.WithPort(9090),
//	)
//
// # Failure Handling
//
// A processor error is retried up to the policy's attempt count, waiting
// InitialDelay * 2^(n-1) after the nth failure. Wrap [ErrPermanent] to fail
// an item without further attempts. Panics are recovered and retried.
// Cancellation is never a failure: an item interrupted by shutdown stays
// queued.
//
// # Known Gap
//
// The queue lives in memory. Items that were queued but not finished when
// the process died are not recovered by rehydration and remain queued in
// the store until an operator intervenes.
package workpump
