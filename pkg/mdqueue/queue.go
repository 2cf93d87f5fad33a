// Package mdqueue implements the CLI↔monitor update queue described in
// spec §4.1 and reaffirmed by the Design Notes (§9): "a typed
// append-only queue the monitor drains... apply order is insertion
// order; acknowledgement is the visible generation-number increment."
// It replaces the original's on-disk FIFO plus socket-ping pair with a
// single persistent, crash-safe queue backed by
// github.com/beeker1121/goque, so a CLI process can enqueue an Update
// and exit without waiting for the monitor, and a monitor restart never
// loses a pending update.
package mdqueue

import (
	"fmt"

	"github.com/beeker1121/goque"
	"github.com/mdcore/mdcore/pkg/mdsuper"
)

// Queue is one container's append-only update channel (spec §5: "the
// only cross-process mutable channel; it is append-only and drained in
// order").
type Queue struct {
	q *goque.Queue
}

// Open opens (creating if absent) the on-disk queue rooted at dir, one
// directory per container per spec §4.1's per-container queue.
func Open(dir string) (*Queue, error) {
	q, err := goque.OpenQueue(dir)
	if err != nil {
		return nil, fmt.Errorf("mdqueue: opening queue at %s: %w", dir, err)
	}
	return &Queue{q: q}, nil
}

// Close releases the queue's underlying storage handle.
func (q *Queue) Close() error { return q.q.Close() }

// Len reports the number of updates currently pending.
func (q *Queue) Len() uint64 { return q.q.Length() }

// Enqueue appends u to the tail of the queue (the CLI-side half of the
// append-only boundary). goque gob-encodes the value internally.
func (q *Queue) Enqueue(u mdsuper.Update) error {
	if _, err := q.q.EnqueueObject(u); err != nil {
		return fmt.Errorf("mdqueue: enqueuing update: %w", err)
	}
	return nil
}

// Dequeue removes and returns the oldest pending update (the monitor's
// drain side). It returns goque.ErrEmpty (unwrapped) when the queue is
// empty, so callers can distinguish "nothing to do" from a real error.
func (q *Queue) Dequeue() (mdsuper.Update, error) {
	item, err := q.q.Dequeue()
	if err != nil {
		if err == goque.ErrEmpty {
			return mdsuper.Update{}, err
		}
		return mdsuper.Update{}, fmt.Errorf("mdqueue: dequeuing update: %w", err)
	}
	var u mdsuper.Update
	if err := item.ToObject(&u); err != nil {
		return mdsuper.Update{}, fmt.Errorf("mdqueue: decoding update: %w", err)
	}
	return u, nil
}

// Drain applies every pending update, in insertion order, via apply,
// stopping at the first error (the monitor's main drain loop, spec
// §4.1: "the monitor drains, re-validates, applies, and persists").
func (q *Queue) Drain(apply func(mdsuper.Update) error) error {
	for {
		u, err := q.Dequeue()
		if err == goque.ErrEmpty {
			return nil
		}
		if err != nil {
			return err
		}
		if err := apply(u); err != nil {
			return fmt.Errorf("mdqueue: applying update %s: %w", u.Kind, err)
		}
	}
}
