// Package poller admits work items from the durable store into the
// in-memory queue.
//
// The main components are:
//
//   - [Poller]: runs one admission cycle immediately on start, then on a
//     fixed interval, until stopped
//   - [Poller.Rehydrate]: startup recovery that admits every unqueued row
//     before the worker pool begins consuming
//
// Admission pushes first and persists the queued flag second, in one write
// per batch. A crash between the two re-admits the batch on the next cycle,
// so processors may observe an item more than once across restarts.
package poller
