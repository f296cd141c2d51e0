package turboq

// Producer is the capability set shared by every engine's producer
// handle: prepare a writable span, publish it exactly as prepared, or
// publish a narrower prefix of it.
//
// Prepare returns a nil span and ErrWouldBlock when the queue cannot
// admit the message right now (backpressure) — a control-flow signal,
// not a failure. On MPSC,
// Prepare panics instead if size exceeds the queue's configured max
// message size: that is a programmer error, not a flow-control
// condition, and panicking keeps it from being silently confused with
// ordinary backpressure.
type Producer interface {
	// Prepare returns a writable byte span of the requested size, or a
	// nil span and ErrWouldBlock if the queue is full. The caller must
	// fill the span and call Commit or CommitSize before the next call
	// to Prepare.
	Prepare(size int) ([]byte, error)

	// Commit publishes the span exactly as returned by the prior Prepare.
	Commit()

	// CommitSize publishes a prefix of the prepared span narrowed to
	// size. Returns ErrCommitOverrun if size exceeds the prepared size.
	CommitSize(size int) error
}

// Consumer is the capability set shared by every engine's consumer
// handle.
type Consumer interface {
	// Fetch returns the next readable byte span, or a nil span and
	// ErrWouldBlock if the queue is currently empty.
	Fetch() ([]byte, error)

	// Consume releases the most recently fetched message back to the
	// producer. On SPMC this is a no-op: broadcast consumers have
	// nothing to reclaim (see SPMCConsumer.Consume).
	Consume()

	// Reset drops every message currently visible to this consumer.
	Reset()
}

// byteProducer and byteFetcher are the narrow interfaces the generic
// helpers in helpers.go need — Prepare+Commit for Enqueue, Fetch alone
// for the peek-only Fetch helper, and Fetch+Consume for Dequeue. Kept
// separate from Producer/Consumer above so a caller can satisfy them
// with nothing more than what each helper actually uses.
type byteProducer interface {
	Prepare(size int) ([]byte, error)
	Commit()
}

type byteFetcher interface {
	Fetch() ([]byte, error)
}

type byteConsumer interface {
	Fetch() ([]byte, error)
	Consume()
}
