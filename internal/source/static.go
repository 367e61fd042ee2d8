package source

import (
	"context"
	"sync"

	"sleepdebt/internal/domain"
)

// StaticSource replays queued responses in order; once drained it returns empty
// change sets that keep the last cursor. Used for local runs and tests.
type StaticSource struct {
	mu      sync.Mutex
	queue   []staticReply
	cursors []string
	last    string
}

type staticReply struct {
	cs  *domain.ChangeSet
	err error
}

var _ IntervalSource = (*StaticSource)(nil)

func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

// Push queues a change set.
func (s *StaticSource) Push(cs *domain.ChangeSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, staticReply{cs: cs})
}

// PushError queues a failure.
func (s *StaticSource) PushError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, staticReply{err: err})
}

// Cursors every cursor FetchChanges was called with.
func (s *StaticSource) Cursors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cursors...)
}

func (s *StaticSource) FetchChanges(_ context.Context, cursor string) (*domain.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = append(s.cursors, cursor)

	if len(s.queue) == 0 {
		return &domain.ChangeSet{NewCursor: s.last, Full: cursor == ""}, nil
	}
	reply := s.queue[0]
	s.queue = s.queue[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	cs := *reply.cs
	if cursor == "" {
		cs.Full = true
	}
	s.last = cs.NewCursor
	return &cs, nil
}
