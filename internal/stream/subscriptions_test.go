package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefCountedMembership(t *testing.T) {
	s := newSubscriptionSet()

	// Two independent callers subscribe to the same mint.
	added := s.addRef([]string{"mintA"})
	assert.Equal(t, []string{"mintA"}, added, "first reference should need a subscribe")

	added = s.addRef([]string{"mintA"})
	assert.Empty(t, added, "second reference must not resubscribe")
	assert.Equal(t, 2, s.refCount("mintA"))

	// First caller leaves: mint stays subscribed.
	dropped := s.release([]string{"mintA"})
	assert.Empty(t, dropped)
	assert.Equal(t, 1, s.refCount("mintA"))

	// Second caller leaves: now it goes.
	dropped = s.release([]string{"mintA"})
	assert.Equal(t, []string{"mintA"}, dropped)
	assert.Equal(t, 0, s.refCount("mintA"))
}

func TestReleaseUnknownMintIsNoop(t *testing.T) {
	s := newSubscriptionSet()
	assert.Empty(t, s.release([]string{"ghost"}))
}

func TestActiveReturnsLiveSet(t *testing.T) {
	s := newSubscriptionSet()
	s.addRef([]string{"a", "b", "c"})
	s.release([]string{"b"})

	assert.ElementsMatch(t, []string{"a", "c"}, s.active())
}

func TestNewTokensFlagIsIdempotent(t *testing.T) {
	s := newSubscriptionSet()

	assert.True(t, s.markNewTokens(), "first call sets the flag")
	assert.False(t, s.markNewTokens(), "subsequent calls are no-ops")
	assert.True(t, s.wantsNewTokens())
}
