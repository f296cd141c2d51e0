package turboq

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"github.com/ksergey/turboq/internal/region"
	"github.com/ksergey/turboq/memsrc"
)

const mpscTag = "turboq/MPSC"

// mpscHeader carries the queue's sizing parameters as plain (non-atomic)
// fields — they are fixed at creation and never mutated afterward — plus
// the two position counters, each in its own cache line. Field order
// (consumerPos before producerPos) follows the original layout this
// engine is grounded on.
type mpscHeader struct {
	tag            [16]byte
	maxMessageSize uint64
	length         uint64
	_              [cacheLine - 32]byte

	consumerPos atomix.Uint64
	_           [cacheLine - 8]byte

	producerPos atomix.Uint64
	_           [cacheLine - 8]byte
}

const mpscHeaderSize = unsafe.Sizeof(mpscHeader{})
const mpscDataStart = uint64((mpscHeaderSize + cacheLine - 1) &^ (cacheLine - 1))

// mpscMessageHeader sits at the start of every fixed-size slot.
type mpscMessageHeader struct {
	payloadSize uint64
}

const mpscMessageHeaderSize = uint64(unsafe.Sizeof(mpscMessageHeader{}))

// mpscCommitState is one slot's commit flag, cache-line isolated so a
// producer publishing one slot never contends with a consumer
// reclaiming an adjacent one.
type mpscCommitState struct {
	committed atomix.Bool
	_         [cacheLine - 1]byte
}

const mpscCommitStateSize = uint64(unsafe.Sizeof(mpscCommitState{}))

// MPSCOptions configures MPSC queue creation.
type MPSCOptions struct {
	// MaxMessageSizeHint is the largest payload, in bytes, any message
	// will carry. Rounded up to produce the queue's fixed slot size.
	MaxMessageSizeHint int
	// LengthHint is the requested number of slots. Rounded up to the
	// next power of two.
	LengthHint int
}

// MPSCQueue is an attached multi-producer single-consumer queue file: a
// fixed-slot ring plus a parallel per-slot commit-state array.
type MPSCQueue struct {
	file         *region.File
	data         []byte
	header       *mpscHeader
	slotsStart   uint64
	commitStates []mpscCommitState

	consumerIssued atomic.Bool
}

// OpenMPSC attaches to an existing MPSC queue named name.
func OpenMPSC(src memsrc.Source, name string) (*MPSCQueue, error) {
	f, pageSize, err := src.Open(name, memsrc.OpenOnly)
	if err != nil {
		return nil, fmt.Errorf("turboq: open MPSC %q: %w", name, err)
	}
	rf := region.New(f)
	size, err := rf.Size()
	if err != nil {
		rf.Close()
		return nil, err
	}
	if size <= int64(mpscDataStart) {
		rf.Close()
		return nil, ErrSizeMismatch
	}
	return attachMPSC(rf, size, false, pageSize, 0, 0)
}

// CreateMPSC attaches to the named MPSC queue, creating and
// initializing it if it does not already exist. The canonical file
// size is recomputed from opts each time, so a mismatched reattach is
// caught rather than silently accepted:
//
//	maxMessageSize = alignUp(maxMessageSizeHint + sizeof(MessageHeader), L)
//	length         = upperPowerOfTwo(lengthHint)
//	size = alignUp(dataStart + maxMessageSize*length + sizeof(CommitState)*length, pageSize)
func CreateMPSC(src memsrc.Source, name string, opts MPSCOptions) (*MPSCQueue, error) {
	if opts.MaxMessageSizeHint <= 0 || opts.LengthHint <= 0 {
		return nil, ErrInvalidOption
	}
	f, pageSize, err := src.Open(name, memsrc.OpenOrCreate)
	if err != nil {
		return nil, fmt.Errorf("turboq: create MPSC %q: %w", name, err)
	}
	rf := region.New(f)

	maxMessageSize := alignUp(uint64(opts.MaxMessageSizeHint)+mpscMessageHeaderSize, cacheLine)
	length := upperPow2(uint64(opts.LengthHint))
	canonical := alignUp(mpscDataStart+maxMessageSize*length+mpscCommitStateSize*length, uint64(pageSize))

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

	return attachMPSC(rf, size, created, pageSize, maxMessageSize, length)
}

func attachMPSC(rf *region.File, size int64, created bool, pageSize int, maxMessageSize, length uint64) (*MPSCQueue, error) {
	mapped, err := rf.Map(int(size))
	if err != nil {
		rf.Close()
		return nil, err
	}

	q := &MPSCQueue{
		file:   rf,
		data:   mapped,
		header: (*mpscHeader)(unsafe.Pointer(&mapped[0])),
	}

	if created {
		copy(q.header.tag[:], mpscTag)
		q.header.maxMessageSize = maxMessageSize
		q.header.length = length
	} else {
		if !tagMatches(q.header.tag[:], mpscTag) {
			region.Unmap(mapped)
			rf.Close()
			return nil, ErrTagMismatch
		}
		maxMessageSize = q.header.maxMessageSize
		length = q.header.length
		if maxMessageSize == 0 || length == 0 {
			region.Unmap(mapped)
			rf.Close()
			return nil, ErrTagMismatch
		}
		expected := alignUp(mpscDataStart+maxMessageSize*length+mpscCommitStateSize*length, uint64(pageSize))
		if uint64(size) != expected {
			region.Unmap(mapped)
			rf.Close()
			return nil, ErrSizeMismatch
		}
	}

	q.slotsStart = mpscDataStart
	commitStart := q.slotsStart + maxMessageSize*length
	q.commitStates = unsafe.Slice((*mpscCommitState)(unsafe.Pointer(&mapped[commitStart])), length)

	return q, nil
}

// Close unmaps the queue and closes its backing file handle.
func (q *MPSCQueue) Close() error {
	if err := region.Unmap(q.data); err != nil {
		return err
	}
	return q.file.Close()
}

// MaxMessageSize returns the largest payload a single message may
// carry.
func (q *MPSCQueue) MaxMessageSize() int {
	return int(q.header.maxMessageSize - mpscMessageHeaderSize)
}

// Length returns the number of fixed-size slots in the ring.
func (q *MPSCQueue) Length() int {
	return int(q.header.length)
}

func (q *MPSCQueue) slotAt(idx uint64) (*mpscMessageHeader, *mpscCommitState, []byte) {
	maxMessageSize := q.header.maxMessageSize
	off := q.slotsStart + idx*maxMessageSize
	slot := q.data[off : off+maxMessageSize]
	hdr := (*mpscMessageHeader)(unsafe.Pointer(&slot[0]))
	return hdr, &q.commitStates[idx], slot[mpscMessageHeaderSize:]
}

// CreateProducer returns a new producer handle. Any number of
// producers may attach; producerPos is mutated by any of them via
// compare-and-swap.
func (q *MPSCQueue) CreateProducer() (*MPSCProducer, error) {
	p := &MPSCProducer{q: q}
	p.consumerPosCache = q.header.consumerPos.LoadAcquire()
	return p, nil
}

// CreateConsumer returns the single consumer handle. MPSC allows at
// most one live consumer; a second call on this same queue handle, or
// a concurrent call from another process attached to the same backing
// file, fails with ErrSingletonViolation until the consumer holding the
// role is closed.
func (q *MPSCQueue) CreateConsumer() (*MPSCConsumer, error) {
	if !q.consumerIssued.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("turboq: create MPSC consumer: %w", ErrSingletonViolation)
	}
	if err := q.file.TryLockExclusive(); err != nil {
		q.consumerIssued.Store(false)
		return nil, fmt.Errorf("turboq: create MPSC consumer: %w", ErrSingletonViolation)
	}
	c := &MPSCConsumer{q: q}
	c.producerPosCache = q.header.producerPos.LoadAcquire()
	c.consumerPosCache = q.header.consumerPos.LoadAcquire()
	return c, nil
}

// MPSCProducer is one of potentially many writers into an MPSC queue.
type MPSCProducer struct {
	q *MPSCQueue

	consumerPosCache uint64
	lastMsg          *mpscMessageHeader
	lastCommit       *mpscCommitState
}

// Prepare reserves the next slot and returns its writable payload span,
// or a nil span and ErrWouldBlock if the queue is full. Prepare panics
// if size exceeds the queue's configured max message size — that is a
// programmer error distinct from ordinary backpressure, and conflating
// the two would let a caller busy-loop forever on a message that can
// never fit.
func (p *MPSCProducer) Prepare(size int) ([]byte, error) {
	sz := uint64(size)
	if sz+mpscMessageHeaderSize > p.q.header.maxMessageSize {
		panic("turboq: message exceeds MPSC max message size")
	}

	length := p.q.header.length
	sw := spin.Wait{}
	for {
		cur := p.q.header.producerPos.LoadAcquire()
		if cur-p.consumerPosCache >= length {
			p.consumerPosCache = p.q.header.consumerPos.LoadAcquire()
			if cur-p.consumerPosCache >= length {
				return nil, ErrWouldBlock
			}
		}
		if p.q.header.producerPos.CompareAndSwapAcqRel(cur, cur+1) {
			msgHdr, commit, payload := p.q.slotAt(cur & (length - 1))
			msgHdr.payloadSize = sz
			p.lastMsg = msgHdr
			p.lastCommit = commit
			return payload[:sz:sz], nil
		}
		sw.Once()
	}
}

// Commit release-stores true into the reserved slot's commit flag,
// publishing it to the consumer.
func (p *MPSCProducer) Commit() {
	p.lastCommit.committed.StoreRelease(true)
}

// CommitSize publishes a prefix of the prepared span narrowed to size.
func (p *MPSCProducer) CommitSize(size int) error {
	sz := uint64(size)
	if p.lastMsg == nil || sz > p.lastMsg.payloadSize {
		return ErrCommitOverrun
	}
	p.lastMsg.payloadSize = sz
	p.Commit()
	return nil
}

// MPSCConsumer is the single reader of an MPSC queue.
type MPSCConsumer struct {
	q *MPSCQueue

	consumerPosCache uint64
	producerPosCache uint64
	lastMsg          *mpscMessageHeader
	lastCommit       *mpscCommitState
}

// Fetch returns the next readable span, or a nil span and ErrWouldBlock
// either because the queue is empty or because the next slot is
// reserved but not yet published (commit flag still false).
//
// Producers reserve slots in CAS-win order but publish in arbitrary
// real-time order; Fetch refuses to advance past an unfinished slot, so
// the observed order is the reservation order, not the commit order.
func (c *MPSCConsumer) Fetch() ([]byte, error) {
	if c.consumerPosCache == c.producerPosCache {
		c.producerPosCache = c.q.header.producerPos.LoadAcquire()
		if c.consumerPosCache == c.producerPosCache {
			return nil, ErrWouldBlock
		}
	}
	length := c.q.header.length
	msgHdr, commit, payload := c.q.slotAt(c.consumerPosCache & (length - 1))
	if !commit.committed.LoadAcquire() {
		return nil, ErrWouldBlock
	}
	c.lastMsg = msgHdr
	c.lastCommit = commit
	return payload[:msgHdr.payloadSize:msgHdr.payloadSize], nil
}

// Consume advances past the last fetched message, clears its commit
// flag so a future producer may re-reserve the slot, and publishes the
// new consumerPos.
func (c *MPSCConsumer) Consume() {
	c.consumerPosCache++
	c.lastCommit.committed.StoreRelease(false)
	c.q.header.consumerPos.StoreRelease(c.consumerPosCache)
}

// Reset drops every reserved-and-committed message up to the currently
// observed producer position, clearing their commit flags.
func (c *MPSCConsumer) Reset() {
	c.producerPosCache = c.q.header.producerPos.LoadAcquire()
	length := c.q.header.length
	for c.consumerPosCache != c.producerPosCache {
		_, commit, _ := c.q.slotAt(c.consumerPosCache & (length - 1))
		commit.committed.StoreRelease(false)
		c.consumerPosCache++
	}
	c.q.header.consumerPos.StoreRelease(c.consumerPosCache)
}

// Close releases this consumer's hold on the singleton role. After
// Close, a subsequent CreateConsumer call on this queue handle — or on
// a fresh attach from another process — succeeds.
func (c *MPSCConsumer) Close() error {
	if err := c.q.file.Unlock(); err != nil {
		return err
	}
	c.q.consumerIssued.Store(false)
	return nil
}
