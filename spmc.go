package turboq

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"

	"github.com/ksergey/turboq/internal/region"
	"github.com/ksergey/turboq/memsrc"
)

const spmcTag = "turboq/SPMC"

// spmcHeader carries only producerPos — unlike SPSC there is no shared
// consumerPos: the producer never waits for any consumer. Each
// consumer's cursor lives only in its own process memory.
type spmcHeader struct {
	tag [16]byte
	_   [cacheLine - 16]byte

	producerPos atomix.Uint64
	_           [cacheLine - 8]byte
}

const spmcHeaderSize = unsafe.Sizeof(spmcHeader{})
const spmcDataStart = uint64((spmcHeaderSize + cacheLine - 1) &^ (cacheLine - 1))

// SPMC reuses SPSC's message header layout verbatim: same size,
// payloadOffset, and payloadSize fields, same wrap encoding.
type spmcMessageHeader = spscMessageHeader

const spmcMessageHeaderSize = spscMessageHeaderSize

// SPMCOptions configures SPMC queue creation.
type SPMCOptions struct {
	// CapacityHint is the requested size of the queue file in bytes,
	// header included. Rounded up to the host page size.
	CapacityHint int
}

// SPMCQueue is an attached single-producer multi-consumer broadcast
// queue file.
type SPMCQueue struct {
	file    *region.File
	data    []byte
	header  *spmcHeader
	payload []byte

	producerIssued atomic.Bool
}

// OpenSPMC attaches to an existing SPMC queue named name.
func OpenSPMC(src memsrc.Source, name string) (*SPMCQueue, error) {
	f, _, err := src.Open(name, memsrc.OpenOnly)
	if err != nil {
		return nil, fmt.Errorf("turboq: open SPMC %q: %w", name, err)
	}
	rf := region.New(f)
	size, err := rf.Size()
	if err != nil {
		rf.Close()
		return nil, err
	}
	if size <= int64(spmcDataStart) {
		rf.Close()
		return nil, ErrSizeMismatch
	}
	return attachSPMC(rf, size, false)
}

// CreateSPMC attaches to the named SPMC queue, creating and
// initializing it if it does not already exist.
func CreateSPMC(src memsrc.Source, name string, opts SPMCOptions) (*SPMCQueue, error) {
	if opts.CapacityHint <= 0 || uint64(opts.CapacityHint) < spmcDataStart {
		return nil, ErrInvalidOption
	}
	f, pageSize, err := src.Open(name, memsrc.OpenOrCreate)
	if err != nil {
		return nil, fmt.Errorf("turboq: create SPMC %q: %w", name, err)
	}
	rf := region.New(f)

	canonical := alignUp(uint64(opts.CapacityHint), uint64(pageSize))
	if canonical < spmcDataStart+cacheLine {
		canonical = alignUp(spmcDataStart+cacheLine, uint64(pageSize))
	}

	size, err := rf.Size()
	if err != nil {
		rf.Close()
		return nil, err
	}

	created := size == 0
	if created {
		if err := rf.Truncate(int64(canonical)); err != nil {
			rf.Close()
			return nil, err
		}
		size = int64(canonical)
	} else if uint64(size) != canonical {
		rf.Close()
		return nil, ErrSizeMismatch
	}

	return attachSPMC(rf, size, created)
}

func attachSPMC(rf *region.File, size int64, created bool) (*SPMCQueue, error) {
	mapped, err := rf.Map(int(size))
	if err != nil {
		rf.Close()
		return nil, err
	}

	q := &SPMCQueue{
		file:   rf,
		data:   mapped,
		header: (*spmcHeader)(unsafe.Pointer(&mapped[0])),
	}
	q.payload = mapped[spmcDataStart:]

	if created {
		copy(q.header.tag[:], spmcTag)
	} else if !tagMatches(q.header.tag[:], spmcTag) {
		region.Unmap(mapped)
		rf.Close()
		return nil, ErrTagMismatch
	}
	return q, nil
}

// Close unmaps the queue and closes its backing file handle.
func (q *SPMCQueue) Close() error {
	if err := region.Unmap(q.data); err != nil {
		return err
	}
	return q.file.Close()
}

// Capacity returns the size of the payload area in bytes.
func (q *SPMCQueue) Capacity() int {
	return len(q.payload)
}

// CreateProducer returns the single producer handle. SPMC allows at
// most one live producer; a second call on this same queue handle, or
// a concurrent call from another process attached to the same backing
// file, fails with ErrSingletonViolation until the producer holding the
// role is closed.
func (q *SPMCQueue) CreateProducer() (*SPMCProducer, error) {
	if !q.producerIssued.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("turboq: create SPMC producer: %w", ErrSingletonViolation)
	}
	if err := q.file.TryLockExclusive(); err != nil {
		q.producerIssued.Store(false)
		return nil, fmt.Errorf("turboq: create SPMC producer: %w", ErrSingletonViolation)
	}
	p := &SPMCProducer{q: q}
	p.producerPosCache = q.header.producerPos.LoadAcquire()
	return p, nil
}

// CreateConsumer returns a new broadcast consumer handle. Consumers are
// unrestricted: any number may attach. A new consumer starts at the
// live edge — both cursors are initialized to the current producerPos
// (relaxed load) — so it sees only messages committed after it
// attached.
func (q *SPMCQueue) CreateConsumer() (*SPMCConsumer, error) {
	c := &SPMCConsumer{q: q}
	pos := q.header.producerPos.LoadRelaxed()
	c.producerPosCache = pos
	c.consumerPosCache = pos
	return c, nil
}

// SPMCProducer is the single-writer side of a SPMC queue.
type SPMCProducer struct {
	q *SPMCQueue

	producerPosCache uint64
	lastHeader       *spmcMessageHeader
}

func (p *SPMCProducer) headerAt(offset uint64) *spmcMessageHeader {
	return (*spmcMessageHeader)(unsafe.Pointer(&p.q.payload[offset]))
}

// Prepare returns a writable span of size bytes. SPMC never applies
// backpressure: the producer writes freely, overwriting old data a
// slow consumer has not yet read. Broadcast delivery has no single
// reader to wait on, so there is no consumer position a producer could
// even check.
func (p *SPMCProducer) Prepare(size int) ([]byte, error) {
	sz := uint64(size)
	aligned := alignUp(sz+spmcMessageHeaderSize, cacheLine)
	data := p.q.payload

	hdr := p.headerAt(p.producerPosCache)
	if p.producerPosCache+aligned+spmcMessageHeaderSize > uint64(len(data)) {
		aligned2 := alignUp(sz, cacheLine)
		hdr.size = aligned2
		hdr.payloadOffset = 0
		hdr.payloadSize = sz
		p.lastHeader = hdr
		p.producerPosCache = aligned2
		return data[0:sz:sz], nil
	}

	hdr.payloadOffset = p.producerPosCache + spmcMessageHeaderSize
	hdr.size = aligned - spmcMessageHeaderSize
	hdr.payloadSize = sz
	p.lastHeader = hdr
	start := hdr.payloadOffset
	p.producerPosCache += aligned
	return data[start : start+sz : start+sz], nil
}

// Commit publishes the span exactly as prepared.
func (p *SPMCProducer) Commit() {
	p.q.header.producerPos.StoreRelease(p.producerPosCache)
}

// CommitSize publishes a prefix of the prepared span narrowed to size.
func (p *SPMCProducer) CommitSize(size int) error {
	sz := uint64(size)
	if p.lastHeader == nil || sz > p.lastHeader.payloadSize {
		return ErrCommitOverrun
	}
	p.lastHeader.payloadSize = sz
	p.Commit()
	return nil
}

// SPMCConsumer is one of potentially many independent broadcast readers
// of a SPMC queue. It is stateless relative to shared memory: it
// remembers only its own local cursors.
type SPMCConsumer struct {
	q *SPMCQueue

	consumerPosCache uint64
	producerPosCache uint64
	lastHeader       *spmcMessageHeader
}

// Fetch returns the next readable span, or nil if the queue is empty
// from this consumer's point of view.
//
// Fetch advances the local cursor to payloadOffset+size immediately,
// before the caller has read the returned span — not after Consume. If
// the producer wraps before the caller finishes copying the bytes out,
// they can be clobbered mid-read. Delaying the advance to Consume would
// not help: a broadcast consumer can be preempted for an unbounded time
// between Fetch and Consume, and there is no reclamation state for it
// to coordinate with the producer even if it were.
func (c *SPMCConsumer) Fetch() ([]byte, error) {
	if c.consumerPosCache == c.producerPosCache {
		c.producerPosCache = c.q.header.producerPos.LoadAcquire()
		if c.consumerPosCache == c.producerPosCache {
			return nil, ErrWouldBlock
		}
	}
	hdr := (*spmcMessageHeader)(unsafe.Pointer(&c.q.payload[c.consumerPosCache]))
	c.lastHeader = hdr
	c.consumerPosCache = hdr.payloadOffset + hdr.size
	return c.q.payload[hdr.payloadOffset : hdr.payloadOffset+hdr.payloadSize : hdr.payloadOffset+hdr.payloadSize], nil
}

// Consume is a no-op on SPMC. There is no shared consumerPos to
// advance and nothing to reclaim — Fetch already did the only state
// update a broadcast consumer ever makes.
func (c *SPMCConsumer) Consume() {}

// Reset drops every message currently visible to this consumer by
// jumping its cursor to the live edge.
func (c *SPMCConsumer) Reset() {
	c.producerPosCache = c.q.header.producerPos.LoadAcquire()
	c.consumerPosCache = c.producerPosCache
}

// Close releases this producer's hold on the singleton role. After
// Close, a subsequent CreateProducer call on this queue handle — or on
// a fresh attach from another process — succeeds.
func (p *SPMCProducer) Close() error {
	if err := p.q.file.Unlock(); err != nil {
		return err
	}
	p.q.producerIssued.Store(false)
	return nil
}
