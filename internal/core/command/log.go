package command

import "sync"

// Entry is a command together with the tick it was produced in.
type Entry struct {
	Tick    uint32
	Time    int64
	Command Command
}

// Log fans every appended entry out to its subscriptions. Each subscription
// keeps its own FIFO, so readers drain at their own pace and never observe a
// different order than the one entries were appended in.
//
// Append is called from the owning world's goroutine only. Subscribe and
// Close may be called from anywhere.
type Log struct {
	mu   sync.Mutex
	subs []*Subscription
}

func NewLog() *Log {
	return &Log{}
}

// Subscribe attaches a new subscription that receives every entry appended
// from now on.
func (l *Log) Subscribe() *Subscription {
	s := &Subscription{log: l}
	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()
	return s
}

// Append writes e to every live subscription.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	subs := l.subs
	l.mu.Unlock()
	for _, s := range subs {
		s.push(e)
	}
}

// Subscribers returns the number of live subscriptions.
func (l *Log) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *Log) detach(s *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.subs {
		if cur == s {
			// copy on write: Append may be iterating the old slice
			subs := make([]*Subscription, 0, len(l.subs)-1)
			subs = append(subs, l.subs[:i]...)
			l.subs = append(subs, l.subs[i+1:]...)
			return
		}
	}
}

// Subscription is one reader's queue of entries.
type Subscription struct {
	log     *Log
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

func (s *Subscription) push(e Entry) {
	s.mu.Lock()
	if !s.closed {
		s.entries = append(s.entries, e)
	}
	s.mu.Unlock()
}

// Pending returns the number of queued entries.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Drain returns every queued entry in append order and empties the queue.
func (s *Subscription) Drain() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out
}

// Close detaches the subscription and discards whatever it still holds.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.entries = nil
	s.mu.Unlock()
	s.log.detach(s)
}
