package turboq_test

import (
	"testing"

	"github.com/ksergey/turboq"
	"github.com/ksergey/turboq/memsrc"
)

type tradeTick struct {
	Price  float64
	Volume int64
	Side   byte
}

func TestGenericHelpersRoundTripStruct(t *testing.T) {
	q, err := turboq.CreateSPSC(memsrc.Anonymous{}, t.Name(), turboq.SPSCOptions{CapacityHint: 4096})
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	p, err := q.CreateProducer()
	if err != nil {
		t.Fatal(err)
	}
	c, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	want := tradeTick{Price: 101.25, Volume: -42, Side: 'B'}
	if !turboq.Enqueue(p, want) {
		t.Fatal("enqueue would block")
	}

	var peeked tradeTick
	if !turboq.Fetch(c, &peeked) || peeked != want {
		t.Fatalf("fetch: got %+v, want %+v", peeked, want)
	}

	var got tradeTick
	if !turboq.Dequeue(c, &got) || got != want {
		t.Fatalf("dequeue: got %+v, want %+v", got, want)
	}

	var empty tradeTick
	if turboq.Dequeue(c, &empty) {
		t.Fatal("dequeue after drain should report empty")
	}
}

func TestGenericHelpersEmptyQueueIsFalse(t *testing.T) {
	q, err := turboq.CreateSPSC(memsrc.Anonymous{}, t.Name(), turboq.SPSCOptions{CapacityHint: 4096})
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	c, err := q.CreateConsumer()
	if err != nil {
		t.Fatal(err)
	}

	var out uint64
	if turboq.Fetch(c, &out) {
		t.Fatal("fetch on a freshly created queue should be empty")
	}
}
