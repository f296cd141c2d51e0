package turboq

import "unsafe"

// Enqueue writes value as a trivially-copyable bit pattern. Returns false
// if the queue is full (the producer should retry or drop).
func Enqueue[T any](p byteProducer, value T) bool {
	buf, err := p.Prepare(int(unsafe.Sizeof(value)))
	if err != nil {
		return false
	}
	*(*T)(unsafe.Pointer(&buf[0])) = value
	p.Commit()
	return true
}

// Dequeue copies the next message into out and releases it. Returns
// false if the queue is empty.
func Dequeue[T any](c byteConsumer, out *T) bool {
	buf, err := c.Fetch()
	if err != nil {
		return false
	}
	*out = *(*T)(unsafe.Pointer(&buf[0]))
	c.Consume()
	return true
}

// Fetch copies the next message into out without releasing it (a peek).
// Returns false if the queue is empty.
func Fetch[T any](c byteFetcher, out *T) bool {
	buf, err := c.Fetch()
	if err != nil {
		return false
	}
	*out = *(*T)(unsafe.Pointer(&buf[0]))
	return true
}
