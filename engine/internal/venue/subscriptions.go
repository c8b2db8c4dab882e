package venue

import (
	"sort"
	"sync"
)

// tickStream is a ref-counted tick subscription; several consumers may watch one asset
type tickStream struct {
	Asset    string
	StreamID string
	RefCount int
}

type subscriptionSet struct {
	mu      sync.Mutex
	streams map[string]*tickStream
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{streams: make(map[string]*tickStream)}
}

// add increments the asset's ref count and reports whether it is new
func (s *subscriptionSet) add(asset string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, exists := s.streams[asset]; exists {
		info.RefCount++
		return false
	}
	s.streams[asset] = &tickStream{Asset: asset, RefCount: 1}
	return true
}

// remove decrements the ref count; the stream id is returned once the last reference goes
func (s *subscriptionSet) remove(asset string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, exists := s.streams[asset]
	if !exists {
		return false, ""
	}
	info.RefCount--
	if info.RefCount > 0 {
		return false, ""
	}
	delete(s.streams, asset)
	return true, info.StreamID
}

// drop forgets an asset regardless of its ref count
func (s *subscriptionSet) drop(asset string) {
	s.mu.Lock()
	delete(s.streams, asset)
	s.mu.Unlock()
}

func (s *subscriptionSet) setStream(asset, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.streams[asset]; ok && id != "" {
		info.StreamID = id
	}
}

func (s *subscriptionSet) refs(asset string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.streams[asset]; ok {
		return info.RefCount
	}
	return 0
}

func (s *subscriptionSet) assets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.streams))
	for asset := range s.streams {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}
