package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jpalmerr/workpump"
)

// StartProducer inserts a new item every 200-800ms until ctx is cancelled,
// simulating an external writer that knows nothing about the pipeline.
func StartProducer(ctx context.Context, p *workpump.Pipeline, logger *slog.Logger) {
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(200+rand.Intn(600)) * time.Millisecond):
		}

		it, err := p.Enqueue(ctx, fmt.Sprintf(`{"order": %d}`, n))
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("enqueue failed", "error", err)
			}
			continue
		}
		logger.Debug("enqueued", "item_id", it.ID)
	}
}

// flakyProcessor takes 100-500ms and fails about one attempt in three. One
// order in twenty is rejected outright.
func flakyProcessor(ctx context.Context, it workpump.WorkItem) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(100+rand.Intn(400)) * time.Millisecond):
	}

	switch r := rand.Intn(60); {
	case r < 3:
		return fmt.Errorf("order %s: invalid payload: %w", it.ID, workpump.ErrPermanent)
	case r < 20:
		return fmt.Errorf("order %s: upstream timeout", it.ID)
	}
	return nil
}
