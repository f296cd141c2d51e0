// Package turboq provides shared-memory, lock-free byte-message queues
// for inter-process and inter-thread communication on a single host.
//
// Three queue kinds are provided, each backed by a memory-mapped file so
// independent processes can attach to the same queue by name and
// exchange raw byte payloads with no syscalls on the fast path:
//
//   - SPSC: single producer, single consumer.
//   - SPMC: single producer, many independent broadcast consumers.
//   - MPSC: many producers, single consumer.
//
// # Quick start
//
//	src, err := memsrc.NewDefault(memsrc.Auto)
//	q, err := turboq.CreateSPSC(src, "events", turboq.SPSCOptions{CapacityHint: 1 << 20})
//	producer, err := q.CreateProducer()
//	consumer, err := q.CreateConsumer()
//
//	buf, err := producer.Prepare(len(payload))
//	if err != nil {
//	    // queue full (turboq.ErrWouldBlock), back off and retry
//	}
//	copy(buf, payload)
//	producer.Commit()
//
//	buf, err = consumer.Fetch()
//	if err != nil {
//	    // queue empty (turboq.ErrWouldBlock)
//	}
//	// ... read buf ...
//	consumer.Consume()
//
// # Typed helpers
//
// For trivially-copyable values, Enqueue/Dequeue/Fetch avoid manual span
// handling:
//
//	var v uint64 = 42
//	turboq.Enqueue(producer, v)
//	var out uint64
//	turboq.Dequeue(consumer, &out)
//
// # Backpressure and readiness
//
// All operations are non-blocking. Prepare returns a nil span and
// [ErrWouldBlock] when the queue is full; Fetch returns the same pair
// when it is empty. [IsWouldBlock] distinguishes this from a hard
// error — callers decide whether to spin-pause, yield, sleep, or drop.
// For spin-pausing, [code.hybscloud.com/spin.Wait] is the idiomatic
// choice:
//
//	sw := spin.Wait{}
//	for {
//	    buf, err := producer.Prepare(n)
//	    if err == nil {
//	        break
//	    }
//	    sw.Once()
//	}
//
// # Queue kinds and topology
//
// Each kind enforces a singleton role via an advisory whole-file lock on
// the backing file, matching the role that must be unique for that
// topology:
//
//	Kind  Producers  Consumers  Locked role
//	SPSC  1          1          consumer
//	SPMC  1          many       producer
//	MPSC  many       1          consumer
//
// SPMC is a broadcast queue, not a work-distribution queue: every
// attached consumer independently observes every message committed
// after it attached, via its own local cursor. There is no shared
// reclamation state and no drop detection — a slow consumer can be
// overrun by the producer without warning. See SPMCConsumer.Fetch for
// the hazard this implies.
//
// # Memory sources
//
// A queue's backing file comes from a [memsrc.Source]: [memsrc.Default]
// discovers a tmpfs or hugetlbfs mount by scanning the host's mount
// table, and [memsrc.Anonymous] backs a queue purely in memory via
// memfd_create, for same-process or fork-sharing use with no path on
// disk at all.
//
// # Error handling
//
// Hard conditions — attachment failure, singleton violation, a
// CommitSize call that exceeds the prepared size — are returned errors,
// wrapping one of [ErrTagMismatch], [ErrSizeMismatch],
// [ErrSingletonViolation], or [ErrCommitOverrun]. The soft condition —
// backpressure on Prepare, emptiness on Fetch — is also a returned
// error, [ErrWouldBlock], but one callers are expected to retry past
// rather than treat as a failure; [IsWouldBlock] (and the broader
// [IsSemantic] and [IsNonFailure] from the same taxonomy) tell the two
// apart.
//
// # Dependencies
//
//   - code.hybscloud.com/atomix — ordered atomics for the cross-process
//     position counters and commit flags overlaid on the mapped region.
//   - code.hybscloud.com/iox — ErrWouldBlock and the control-flow error
//     taxonomy.
//   - code.hybscloud.com/spin — spin-pause backoff for MPSC's CAS
//     reservation loop and for callers retrying on backpressure.
//   - golang.org/x/sys/unix — mmap, advisory file locking, and the
//     anonymous-file primitives in internal/region and memsrc.
package turboq
