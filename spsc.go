package turboq

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"

	"github.com/ksergey/turboq/internal/region"
	"github.com/ksergey/turboq/memsrc"
)

const spscTag = "turboq/SPSC"

// spscHeader is the queue-kind-specific prefix overlaid on the mapped
// region. producerPos and consumerPos each occupy their own cache line
// so a concurrent reader/writer never shares a line with the other.
type spscHeader struct {
	tag [16]byte
	_   [cacheLine - 16]byte

	producerPos atomix.Uint64
	_           [cacheLine - 8]byte

	consumerPos atomix.Uint64
	_           [cacheLine - 8]byte
}

const spscHeaderSize = unsafe.Sizeof(spscHeader{})
const spscDataStart = uint64((spscHeaderSize + cacheLine - 1) &^ (cacheLine - 1))

// spscMessageHeader is embedded in the payload area immediately before
// each message. Unlike the position counters, its fields are plain
// (non-atomic): visibility is established by the producerPos/consumerPos
// release-acquire pair, not per-field atomics.
type spscMessageHeader struct {
	size          uint64
	payloadOffset uint64
	payloadSize   uint64
}

const spscMessageHeaderSize = uint64(unsafe.Sizeof(spscMessageHeader{}))

// SPSCOptions configures SPSC queue creation.
type SPSCOptions struct {
	// CapacityHint is the requested size of the queue file in bytes,
	// header included. Rounded up to the host page size to produce the
	// queue file's canonical size; the payload area is what remains after
	// the header.
	CapacityHint int
}

// SPSCQueue is an attached single-producer single-consumer queue file.
// A SPSCQueue itself does not read or write messages — it owns the
// mapping and is used to mint Producer and Consumer handles.
type SPSCQueue struct {
	file    *region.File
	data    []byte
	header  *spscHeader
	payload []byte

	consumerIssued atomic.Bool
}

// OpenSPSC attaches to an existing SPSC queue named name. It fails if
// the file does not exist or its tag does not match.
func OpenSPSC(src memsrc.Source, name string) (*SPSCQueue, error) {
	f, _, err := src.Open(name, memsrc.OpenOnly)
	if err != nil {
		return nil, fmt.Errorf("turboq: open SPSC %q: %w", name, err)
	}
	rf := region.New(f)
	size, err := rf.Size()
	if err != nil {
		rf.Close()
		return nil, err
	}
	if size <= int64(spscDataStart) {
		rf.Close()
		return nil, ErrSizeMismatch
	}
	return attachSPSC(rf, size, false, SPSCOptions{})
}

// CreateSPSC attaches to the named SPSC queue, creating and initializing
// it if it does not already exist. If it exists, its size must equal
// the canonical size recomputed from opts.
func CreateSPSC(src memsrc.Source, name string, opts SPSCOptions) (*SPSCQueue, error) {
	if opts.CapacityHint <= 0 || uint64(opts.CapacityHint) < spscDataStart {
		return nil, ErrInvalidOption
	}
	f, pageSize, err := src.Open(name, memsrc.OpenOrCreate)
	if err != nil {
		return nil, fmt.Errorf("turboq: create SPSC %q: %w", name, err)
	}
	rf := region.New(f)

	canonical := alignUp(uint64(opts.CapacityHint), uint64(pageSize))
	if canonical < spscDataStart+cacheLine {
		canonical = alignUp(spscDataStart+cacheLine, uint64(pageSize))
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

	return attachSPSC(rf, size, created, opts)
}

func attachSPSC(rf *region.File, size int64, created bool, _ SPSCOptions) (*SPSCQueue, error) {
	mapped, err := rf.Map(int(size))
	if err != nil {
		rf.Close()
		return nil, err
	}

	q := &SPSCQueue{
		file:   rf,
		data:   mapped,
		header: (*spscHeader)(unsafe.Pointer(&mapped[0])),
	}
	q.payload = mapped[spscDataStart:]

	if created {
		copy(q.header.tag[:], spscTag)
	} else if !tagMatches(q.header.tag[:], spscTag) {
		region.Unmap(mapped)
		rf.Close()
		return nil, ErrTagMismatch
	}
	return q, nil
}

// Close unmaps the queue and closes its backing file handle. It does
// not touch shared state; the backing file survives unless externally
// deleted.
func (q *SPSCQueue) Close() error {
	if err := region.Unmap(q.data); err != nil {
		return err
	}
	return q.file.Close()
}

// Capacity returns the size of the payload area in bytes.
func (q *SPSCQueue) Capacity() int {
	return len(q.payload)
}

// CreateProducer returns a new producer handle. Any number of producer
// handles may be constructed; logically only one is ever valid for a
// given queue, but the SPSC engine only enforces singleton-ness on the
// consumer side, the role whose cursor actually needs protecting from
// a second concurrent holder.
func (q *SPSCQueue) CreateProducer() (*SPSCProducer, error) {
	p := &SPSCProducer{q: q}
	p.producerPosCache = q.header.producerPos.LoadAcquire()
	consumerPos := q.header.consumerPos.LoadAcquire()
	if consumerPos > p.producerPosCache {
		p.minFreeSpace = consumerPos - p.producerPosCache - 1
	} else {
		p.minFreeSpace = uint64(len(q.payload)) - p.producerPosCache - spscMessageHeaderSize
	}
	return p, nil
}

// CreateConsumer returns a new consumer handle. SPSC allows at most one
// live consumer; a second call on this same queue handle, or a
// concurrent call from another process attached to the same backing
// file, fails with ErrSingletonViolation until the consumer holding the
// role is closed.
func (q *SPSCQueue) CreateConsumer() (*SPSCConsumer, error) {
	if !q.consumerIssued.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("turboq: create SPSC consumer: %w", ErrSingletonViolation)
	}
	if err := q.file.TryLockExclusive(); err != nil {
		q.consumerIssued.Store(false)
		return nil, fmt.Errorf("turboq: create SPSC consumer: %w", ErrSingletonViolation)
	}
	c := &SPSCConsumer{q: q}
	c.producerPosCache = q.header.producerPos.LoadAcquire()
	c.consumerPosCache = q.header.consumerPos.LoadAcquire()
	return c, nil
}

// SPSCProducer is the single-writer side of a SPSC queue.
type SPSCProducer struct {
	q *SPSCQueue

	producerPosCache uint64
	minFreeSpace     uint64
	lastHeader       *spscMessageHeader
}

func (p *SPSCProducer) headerAt(offset uint64) *spscMessageHeader {
	return (*spscMessageHeader)(unsafe.Pointer(&p.q.payload[offset]))
}

// Prepare returns a writable span of size bytes, or a nil span and
// ErrWouldBlock if the queue cannot admit the message right now. It
// tries the cached free-space estimate first, refreshes it from the
// consumer's published position on a miss, and falls back to wrapping
// to the start of the payload area when there isn't enough room left
// before the end.
func (p *SPSCProducer) Prepare(size int) ([]byte, error) {
	sz := uint64(size)
	aligned := alignUp(sz+spscMessageHeaderSize, cacheLine)

	place := func() []byte {
		hdr := p.headerAt(p.producerPosCache)
		hdr.size = aligned - spscMessageHeaderSize
		hdr.payloadOffset = p.producerPosCache + spscMessageHeaderSize
		hdr.payloadSize = sz
		p.lastHeader = hdr
		start := hdr.payloadOffset
		p.producerPosCache += aligned
		p.minFreeSpace -= aligned
		return p.q.payload[start : start+sz : start+sz]
	}

	if aligned <= p.minFreeSpace {
		return place(), nil
	}

	consumerPos := p.q.header.consumerPos.LoadAcquire()
	if consumerPos > p.producerPosCache {
		p.minFreeSpace = consumerPos - p.producerPosCache - 1
		if aligned <= p.minFreeSpace {
			return place(), nil
		}
		return nil, ErrWouldBlock
	}

	// consumerPos <= producerPosCache: free region extends to the end
	// of the payload area; reserve room for at least one more header.
	p.minFreeSpace = uint64(len(p.q.payload)) - p.producerPosCache - spscMessageHeaderSize
	if aligned <= p.minFreeSpace {
		return place(), nil
	}

	// Attempt a wrap: skip to offset 0, provided the wrapped message's
	// tail still lands strictly before consumerPos (keeps full/empty
	// distinct).
	aligned2 := alignUp(sz, cacheLine)
	if aligned2 < consumerPos {
		hdr := p.headerAt(p.producerPosCache)
		hdr.size = aligned2
		hdr.payloadOffset = 0
		hdr.payloadSize = sz
		p.lastHeader = hdr
		p.producerPosCache = aligned2
		p.minFreeSpace = 0
		return p.q.payload[0:sz:sz], nil
	}
	return nil, ErrWouldBlock
}

// Commit publishes the span exactly as prepared.
func (p *SPSCProducer) Commit() {
	p.q.header.producerPos.StoreRelease(p.producerPosCache)
}

// CommitSize publishes a prefix of the prepared span narrowed to size.
func (p *SPSCProducer) CommitSize(size int) error {
	sz := uint64(size)
	if p.lastHeader == nil || sz > p.lastHeader.payloadSize {
		return ErrCommitOverrun
	}
	p.lastHeader.payloadSize = sz
	p.Commit()
	return nil
}

// SPSCConsumer is the single-reader side of a SPSC queue.
type SPSCConsumer struct {
	q *SPSCQueue

	consumerPosCache uint64
	producerPosCache uint64
	lastHeader       *spscMessageHeader
}

// Fetch returns the next readable span, or a nil span and ErrWouldBlock
// if the queue is empty.
func (c *SPSCConsumer) Fetch() ([]byte, error) {
	if c.consumerPosCache == c.producerPosCache {
		c.producerPosCache = c.q.header.producerPos.LoadAcquire()
		if c.consumerPosCache == c.producerPosCache {
			return nil, ErrWouldBlock
		}
	}
	hdr := (*spscMessageHeader)(unsafe.Pointer(&c.q.payload[c.consumerPosCache]))
	c.lastHeader = hdr
	return c.q.payload[hdr.payloadOffset : hdr.payloadOffset+hdr.payloadSize : hdr.payloadOffset+hdr.payloadSize], nil
}

// Consume releases the last fetched message. A single assignment
// handles both the normal and wrap cases: a wrap header's
// payloadOffset+size equals the wrap target's tail, which the producer
// arranged to land strictly before consumerPos at wrap time.
func (c *SPSCConsumer) Consume() {
	c.consumerPosCache = c.lastHeader.payloadOffset + c.lastHeader.size
	c.q.header.consumerPos.StoreRelease(c.consumerPosCache)
}

// Reset drops every message currently visible to this consumer. Only
// safe to call when no fetched message is outstanding.
func (c *SPSCConsumer) Reset() {
	c.producerPosCache = c.q.header.producerPos.LoadAcquire()
	c.consumerPosCache = c.producerPosCache
	c.q.header.consumerPos.StoreRelease(c.consumerPosCache)
}

// Close releases this consumer's hold on the singleton role. After
// Close, a subsequent CreateConsumer call on this queue handle — or on
// a fresh attach from another process — succeeds.
func (c *SPSCConsumer) Close() error {
	if err := c.q.file.Unlock(); err != nil {
		return err
	}
	c.q.consumerIssued.Store(false)
	return nil
}
