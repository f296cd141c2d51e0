package turboq

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a Prepare or Fetch cannot proceed immediately:
// the queue is full (producer) or empty (consumer). It is a control-flow
// signal, not a failure — callers should retry with backoff, yield, or
// drop the message.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates an operation would block.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control-flow signal rather than a
// failure.
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

var (
	// ErrTagMismatch is returned when an attached region's tag does not
	// match the expected queue kind.
	ErrTagMismatch = errors.New("turboq: tag mismatch")

	// ErrSizeMismatch is returned when an existing queue file's size does
	// not equal the size recomputed from the supplied creation options.
	ErrSizeMismatch = errors.New("turboq: size mismatch")

	// ErrInvalidOption is returned when creation options are zero or
	// otherwise invalid (capacityHint <= 0, maxMessageSizeHint <= 0,
	// lengthHint <= 0).
	ErrInvalidOption = errors.New("turboq: invalid creation option")

	// ErrSingletonViolation is returned by CreateProducer/CreateConsumer
	// when the role that must be unique for this queue kind is already
	// held by a live handle.
	ErrSingletonViolation = errors.New("turboq: singleton role already held")

	// ErrCommitOverrun is returned by CommitSize when size exceeds the
	// payload size most recently returned by Prepare. SPSC, SPMC, and
	// MPSC all report this uniformly as an error value rather than
	// panicking or silently truncating.
	ErrCommitOverrun = errors.New("turboq: commit size exceeds prepared size")
)
