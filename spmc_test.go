package turboq_test

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/ksergey/turboq"
	"github.com/ksergey/turboq/memsrc"
)

func newSPMC(t *testing.T, capacity int) *turboq.SPMCQueue {
	t.Helper()
	q, err := turboq.CreateSPMC(memsrc.Anonymous{}, t.Name(), turboq.SPMCOptions{CapacityHint: capacity})
	if err != nil {
		t.Fatalf("CreateSPMC: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

// S3 SPMC broadcast to a single consumer.
func TestSPMCBroadcastSingleConsumer(t *testing.T) {
	q := newSPMC(t, 64*1024)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	c, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	for i := uint64(0); i < 20; i++ {
		if !turboq.Enqueue(p, i) {
			t.Fatalf("enqueue %d: would block", i)
		}
	}
	for i := uint64(0); i < 20; i++ {
		var got uint64
		if !turboq.Dequeue(c, &got) || got != i {
			t.Fatalf("dequeue %d: got %d", i, got)
		}
	}
}

// S4 SPMC broadcast to two independently-paced consumers: each must see
// every message committed after it attached, regardless of the other's
// pace.
func TestSPMCBroadcastTwoConsumers(t *testing.T) {
	q := newSPMC(t, 64*1024)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	c1, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	for i := uint64(0); i < 5; i++ {
		if !turboq.Enqueue(p, i) {
			t.Fatalf("enqueue %d: would block", i)
		}
	}

	// c2 attaches after the first 5 messages; it must not see them.
	c2, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	for i := uint64(5); i < 10; i++ {
		if !turboq.Enqueue(p, i) {
			t.Fatalf("enqueue %d: would block", i)
		}
	}

	var got1, got2 uint64
	for i := uint64(0); i < 10; i++ {
		if !turboq.Dequeue(c1, &got1) || got1 != i {
			t.Fatalf("c1 message %d: got %d", i, got1)
		}
	}
	for i := uint64(5); i < 10; i++ {
		if !turboq.Dequeue(c2, &got2) || got2 != i {
			t.Fatalf("c2 message %d: got %d", i, got2)
		}
	}
	if turboq.Dequeue(c2, &got2) {
		t.Fatal("c2 should not observe messages sent before it attached")
	}
}

func TestSPMCMultipleConcurrentConsumers(t *testing.T) {
	q := newSPMC(t, 256*1024)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}

	const nConsumers = 4
	const nMessages = 500
	payload := bytes.Repeat([]byte{0x7E}, 64)

	consumers := make([]*turboq.SPMCConsumer, nConsumers)
	for i := range consumers {
		c, err := q.CreateConsumer()
		if err != nil {
			t.Fatal(err)
		}
		consumers[i] = c
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *turboq.SPMCConsumer) {
			defer wg.Done()
			seen := 0
			for seen < nMessages {
				buf, err := c.Fetch()
				if err != nil {
					continue
				}
				if !bytes.Equal(buf, payload) {
					t.Errorf("corrupted message at count %d", seen)
				}
				seen++
			}
		}(c)
	}

	for i := 0; i < nMessages; i++ {
		buf, err := p.Prepare(len(payload))
		if err != nil {
			t.Fatalf("prepare %d: %v", i, err)
		}
		copy(buf, payload)
		p.Commit()
	}
	wg.Wait()
}

func TestSPMCSingletonProducer(t *testing.T) {
	q := newSPMC(t, 64*1024)
	p1, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	_ = p1

	if _, err := q.CreateProducer(); err == nil {
		t.Fatal("expected second CreateProducer to fail")
	}
}

// Cross-attach singleton enforcement: two independently-opened Queue
// handles over the same backing file, exercising the real flock path
// rather than the in-process atomic.Bool short-circuit.
func TestSPMCSingletonProducerCrossAttach(t *testing.T) {
	dir := t.TempDir()
	src, err := memsrc.NewDefaultAt(dir, os.Getpagesize())
	if err != nil {
		t.Fatal(err)
	}

	q1, err := turboq.CreateSPMC(src, t.Name(), turboq.SPMCOptions{CapacityHint: 64 * 1024})
	if err != nil {
		t.Fatalf("CreateSPMC (first handle): %v", err)
	}
	defer q1.Close()

	q2, err := turboq.OpenSPMC(src, t.Name())
	if err != nil {
		t.Fatalf("OpenSPMC (second handle): %v", err)
	}
	defer q2.Close()

	p1, err := q1.CreateProducer()
	if err != nil {
		t.Fatalf("first handle's CreateProducer: %v", err)
	}

	if _, err := q2.CreateProducer(); err == nil {
		t.Fatal("second handle's CreateProducer should fail while the first holds the flock")
	}

	if err := p1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := q2.CreateProducer(); err != nil {
		t.Fatalf("CreateProducer on the second handle should succeed after the first closes: %v", err)
	}
}

func TestSPMCInvalidCapacityHint(t *testing.T) {
	if _, err := turboq.CreateSPMC(memsrc.Anonymous{}, t.Name()+"/zero", turboq.SPMCOptions{CapacityHint: 0}); !errors.Is(err, turboq.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption for a zero capacity hint, got %v", err)
	}
	if _, err := turboq.CreateSPMC(memsrc.Anonymous{}, t.Name()+"/undersized", turboq.SPMCOptions{CapacityHint: 1}); !errors.Is(err, turboq.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption for a capacity hint smaller than the header area, got %v", err)
	}
}

func TestSPMCConsumeIsNoop(t *testing.T) {
	q := newSPMC(t, 64*1024)
	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	c, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	if !turboq.Enqueue(p, uint64(1)) {
		t.Fatal("enqueue would block")
	}
	if _, err := c.Fetch(); err != nil {
		t.Fatal("fetch should see the message")
	}
	c.Consume()
	c.Consume()

	var out uint64
	if turboq.Fetch(c, &out) {
		t.Fatal("fetch after the only message should be empty")
	}
}
