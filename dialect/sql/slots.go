package sql

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/syssam/sqlforge"
)

// DefaultMaxReaders is the default number of concurrent reader slots.
const DefaultMaxReaders = 4

// slots enforces the embedded engine's single-writer constraint and caps
// concurrent readers.
type slots struct {
	maxReaders int
	writer     *semaphore.Weighted
	readers    *semaphore.Weighted
}

func newSlots(maxReaders int) *slots {
	return &slots{
		maxReaders: maxReaders,
		writer:     semaphore.NewWeighted(1),
		readers:    semaphore.NewWeighted(int64(maxReaders)),
	}
}

// acquireWriter blocks until the writer slot is free or ctx is done.
func (s *slots) acquireWriter(ctx context.Context) (func(), error) {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, sqlforge.NewCancelledError(err)
	}
	return func() { s.writer.Release(1) }, nil
}

// acquireReader blocks until a reader slot is free or ctx is done.
func (s *slots) acquireReader(ctx context.Context) (func(), error) {
	if err := s.readers.Acquire(ctx, 1); err != nil {
		return nil, sqlforge.NewCancelledError(err)
	}
	return func() { s.readers.Release(1) }, nil
}
