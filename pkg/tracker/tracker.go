package tracker

import (
	"sort"
	"sync"
)

// Entry is a status message kept fresh by the Poller.
type Entry struct {
	MessageID string
	ChannelID string
}

// Set is the volatile set of tracked messages, keyed by message id.
type Set struct {
	mu sync.Mutex
	m  map[string]string
}

func NewSet() *Set {
	return &Set{m: make(map[string]string)}
}

func (s *Set) Track(messageID, channelID string) {
	s.mu.Lock()
	s.m[messageID] = channelID
	s.mu.Unlock()
}

// Untrack reports whether the message was tracked.
func (s *Set) Untrack(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[messageID]
	delete(s.m, messageID)
	return ok
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Entries returns a copy ordered by message id.
func (s *Set) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.m))
	for msg, ch := range s.m {
		out = append(out, Entry{MessageID: msg, ChannelID: ch})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}
