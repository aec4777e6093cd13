// Package worker consumes admitted items from the in-memory queue and runs
// them through a [Processor] with bounded parallelism and retry.
//
// A [Pool] holds a fixed number of permits. Its dispatch loop acquires a
// permit before popping, so an item is only taken off the queue when a slot
// is free to run it. Each execution re-reads the item from the store,
// persists the attempt count before calling the processor, and writes the
// terminal state when the retry loop ends.
//
// Cancelling the context passed to [Pool.Run] stops dispatch. Executions
// already running keep their permit until they return; Run waits for them.
package worker
