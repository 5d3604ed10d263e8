package stream

import "sync"

// subscriptionSet tracks which mints the monitor must keep subscribed on the
// transport. Membership is reference-counted: a mint leaves the set only when
// every caller that asked for it has released it.
type subscriptionSet struct {
	mu        sync.Mutex
	refs      map[string]int
	newTokens bool
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{refs: make(map[string]int)}
}

// addRef bumps the reference count for each mint and returns the mints that
// are newly tracked, i.e. the ones that need a subscribe control message.
func (s *subscriptionSet) addRef(mints []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	for _, m := range mints {
		if m == "" {
			continue
		}
		s.refs[m]++
		if s.refs[m] == 1 {
			added = append(added, m)
		}
	}
	return added
}

// release drops one reference per mint and returns the mints whose count
// reached zero, i.e. the ones that need an unsubscribe control message.
func (s *subscriptionSet) release(mints []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for _, m := range mints {
		n, ok := s.refs[m]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(s.refs, m)
			dropped = append(dropped, m)
		} else {
			s.refs[m] = n - 1
		}
	}
	return dropped
}

// active returns all currently tracked mints, for resubscription after a
// reconnect.
func (s *subscriptionSet) active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.refs))
	for m := range s.refs {
		out = append(out, m)
	}
	return out
}

// refCount reports the current count for one mint.
func (s *subscriptionSet) refCount(mint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[mint]
}

// markNewTokens flips the global new-listings flag and reports whether this
// call was the one that set it.
func (s *subscriptionSet) markNewTokens() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.newTokens {
		return false
	}
	s.newTokens = true
	return true
}

func (s *subscriptionSet) wantsNewTokens() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newTokens
}
