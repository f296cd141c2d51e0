package turboq_test

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/ksergey/turboq"
	"github.com/ksergey/turboq/memsrc"
)

func newMPSC(t *testing.T, maxMessageSize, length int) *turboq.MPSCQueue {
	t.Helper()
	q, err := turboq.CreateMPSC(memsrc.Anonymous{}, t.Name(), turboq.MPSCOptions{
		MaxMessageSizeHint: maxMessageSize,
		LengthHint:         length,
	})
	if err != nil {
		t.Fatalf("CreateMPSC: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

// S5 MPSC many producers, one consumer: every message from every
// producer is delivered exactly once.
func TestMPSCManyProducersOneConsumer(t *testing.T) {
	q := newMPSC(t, 64, 256)
	c, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	const nProducers = 8
	perProducer := 200
	if turboq.RaceEnabled {
		perProducer = 40
	}

	var wg sync.WaitGroup
	for pi := 0; pi < nProducers; pi++ {
		p, err := q.CreateProducer()
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(p *turboq.MPSCProducer, pi int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := uint64(pi)<<32 | uint64(i)
				for !turboq.Enqueue(p, v) {
				}
			}
		}(p, pi)
	}

	total := nProducers * perProducer
	seen := make(map[uint64]int)
	for len(seen) < total || sum(seen) < total {
		var v uint64
		if turboq.Dequeue(c, &v) {
			seen[v]++
		}
	}
	wg.Wait()

	for pi := 0; pi < nProducers; pi++ {
		for i := 0; i < perProducer; i++ {
			v := uint64(pi)<<32 | uint64(i)
			if seen[v] != 1 {
				t.Fatalf("message producer=%d seq=%d delivered %d times", pi, i, seen[v])
			}
		}
	}
}

func sum(m map[uint64]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func TestMPSCFullBackpressure(t *testing.T) {
	q := newMPSC(t, 32, 4)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}

	filled := 0
	for turboq.Enqueue(p, uint64(filled)) {
		filled++
		if filled > 100 {
			t.Fatal("producer never reports full")
		}
	}
	if filled != 4 {
		t.Fatalf("expected exactly 4 slots to fill, got %d", filled)
	}
}

func TestMPSCPrepareOversizePanics(t *testing.T) {
	q := newMPSC(t, 16, 4)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Prepare to panic on an oversized message")
		}
	}()
	p.Prepare(1024)
}

func TestMPSCSingletonConsumer(t *testing.T) {
	q := newMPSC(t, 32, 8)
	c1, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}
	_ = c1

	if _, err := q.CreateConsumer(); err == nil {
		t.Fatal("expected second CreateConsumer to fail")
	}
}

// Cross-attach singleton enforcement: two independently-opened Queue
// handles over the same backing file, exercising the real flock path
// rather than the in-process atomic.Bool short-circuit.
func TestMPSCSingletonConsumerCrossAttach(t *testing.T) {
	dir := t.TempDir()
	src, err := memsrc.NewDefaultAt(dir, os.Getpagesize())
	if err != nil {
		t.Fatal(err)
	}

	q1, err := turboq.CreateMPSC(src, t.Name(), turboq.MPSCOptions{MaxMessageSizeHint: 32, LengthHint: 8})
	if err != nil {
		t.Fatalf("CreateMPSC (first handle): %v", err)
	}
	defer q1.Close()

	q2, err := turboq.OpenMPSC(src, t.Name())
	if err != nil {
		t.Fatalf("OpenMPSC (second handle): %v", err)
	}
	defer q2.Close()

	c1, err := q1.CreateConsumer()
	if err != nil {
		t.Fatalf("first handle's CreateConsumer: %v", err)
	}

	if _, err := q2.CreateConsumer(); err == nil {
		t.Fatal("second handle's CreateConsumer should fail while the first holds the flock")
	}

	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := q2.CreateConsumer(); err != nil {
		t.Fatalf("CreateConsumer on the second handle should succeed after the first closes: %v", err)
	}
}

func TestMPSCUncommittedSlotBlocksConsumer(t *testing.T) {
	q := newMPSC(t, 32, 8)
	p1, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	p2, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	c, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	buf1, err := p1.Prepare(8)
	if err != nil {
		t.Fatalf("p1 prepare should succeed: %v", err)
	}
	copy(buf1, bytes.Repeat([]byte{1}, 8))
	// Leave p1's slot uncommitted; reserve and commit a second one.
	buf2, err := p2.Prepare(8)
	if err != nil {
		t.Fatalf("p2 prepare should succeed: %v", err)
	}
	copy(buf2, bytes.Repeat([]byte{2}, 8))
	p2.Commit()

	if _, err := c.Fetch(); err == nil {
		t.Fatal("consumer must not see slot 2 while slot 1 is reserved but uncommitted")
	}

	p1.Commit()
	out, err := c.Fetch()
	if err != nil || !bytes.Equal(out, bytes.Repeat([]byte{1}, 8)) {
		t.Fatalf("expected slot 1's payload once committed, got %v (err=%v)", out, err)
	}
	c.Consume()

	out, err = c.Fetch()
	if err != nil || !bytes.Equal(out, bytes.Repeat([]byte{2}, 8)) {
		t.Fatalf("expected slot 2's payload next, got %v (err=%v)", out, err)
	}
	c.Consume()
}

func TestMPSCResetDrainsAllAndClearsFlags(t *testing.T) {
	q := newMPSC(t, 16, 8)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	c, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if !turboq.Enqueue(p, uint64(i)) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	c.Reset()

	var out uint64
	if turboq.Fetch(c, &out) {
		t.Fatal("expected empty immediately after reset")
	}

	// The reclaimed slots must be reusable.
	filled := 0
	for turboq.Enqueue(p, uint64(filled)) {
		filled++
		if filled > 100 {
			t.Fatal("producer never reports full after reset")
		}
	}
	if filled != 8 {
		t.Fatalf("expected all 8 slots reusable after reset, got %d", filled)
	}
}

func TestMPSCCommitSizeOverrun(t *testing.T) {
	q := newMPSC(t, 32, 4)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Prepare(8); err != nil {
		t.Fatalf("prepare should succeed: %v", err)
	}
	if err := p.CommitSize(16); err == nil {
		t.Fatal("expected CommitSize to reject a size larger than prepared")
	}
	if err := p.CommitSize(4); err != nil {
		t.Fatalf("CommitSize within bounds should succeed: %v", err)
	}
}
