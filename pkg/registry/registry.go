// Package registry implements the ephemeral nickname to chat binding store.
//
// Bindings expire after a fixed TTL and the store is bounded; once full, the
// binding closest to expiry is evicted to make room.  All operations are safe
// for concurrent use by SMTP sessions and the registration bot.
package registry

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/policy"
)

// Registration failures reported to the user.
var (
	// ErrInvalidName indicates the nickname fails the naming grammar.
	ErrInvalidName = errors.New("invalid nickname")

	// ErrNameTaken indicates a live binding already holds the nickname.
	ErrNameTaken = errors.New("nickname already taken")

	// ErrDestinationBound indicates the chat already holds a live binding.
	ErrDestinationBound = errors.New("chat already has a binding")
)

// Binding associates a nickname with a Telegram chat until it expires.
type Binding struct {
	Nickname  string
	ChatID    int64
	ExpiresAt time.Time

	index int // expiry heap position
}

// Registry owns the set of live bindings.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	byName  map[string]*Binding
	byChat  map[int64]*Binding
	expiry  expiryHeap
	nowFunc func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source, used by tests to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.nowFunc = now
	}
}

// New creates an empty registry with the given binding TTL and capacity.
func New(ttl time.Duration, maxEntries int, opts ...Option) *Registry {
	r := &Registry{
		ttl:     ttl,
		max:     maxEntries,
		byName:  make(map[string]*Binding),
		byChat:  make(map[int64]*Binding),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts a new nickname binding for chatID.  The nickname grammar,
// nickname uniqueness and one-binding-per-chat invariants are all checked
// under a single lock hold, so concurrent registrations cannot race each
// other into conflicting bindings.
func (r *Registry) Register(nickname string, chatID int64) error {
	if !policy.ValidNickname(nickname) {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	r.purgeExpired(now)
	if _, ok := r.byName[nickname]; ok {
		return ErrNameTaken
	}
	if _, ok := r.byChat[chatID]; ok {
		return ErrDestinationBound
	}
	if r.max > 0 && len(r.byName) >= r.max {
		// At capacity; evict the binding closest to expiry.
		r.evict(r.expiry[0])
	}
	b := &Binding{
		Nickname:  nickname,
		ChatID:    chatID,
		ExpiresAt: now.Add(r.ttl),
	}
	r.byName[nickname] = b
	r.byChat[chatID] = b
	heap.Push(&r.expiry, b)
	return nil
}

// Lookup returns the chat bound to nickname.  Expired bindings never match.
func (r *Registry) Lookup(nickname string) (chatID int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byName[nickname]
	if !ok {
		return 0, false
	}
	if !r.nowFunc().Before(b.ExpiresAt) {
		r.evict(b)
		return 0, false
	}
	return b.ChatID, true
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpired(r.nowFunc())
	return len(r.byName)
}

// Sweep removes all expired bindings, returning the number removed.  Called
// periodically by the Sweeper; lookups also expire bindings lazily, so the
// sweep only bounds memory.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeExpired(r.nowFunc())
}

// purgeExpired pops expired bindings off the expiry heap.  Caller must hold mu.
func (r *Registry) purgeExpired(now time.Time) int {
	removed := 0
	for len(r.expiry) > 0 && !now.Before(r.expiry[0].ExpiresAt) {
		r.evict(r.expiry[0])
		removed++
	}
	return removed
}

// evict removes a binding from all indexes.  Caller must hold mu.
func (r *Registry) evict(b *Binding) {
	delete(r.byName, b.Nickname)
	delete(r.byChat, b.ChatID)
	heap.Remove(&r.expiry, b.index)
}

// expiryHeap is a min-heap of bindings ordered by expiry time, giving O(log n)
// eviction of the soonest-to-expire binding.
type expiryHeap []*Binding

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool { return h[i].ExpiresAt.Before(h[j].ExpiresAt) }

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	b := x.(*Binding)
	b.index = len(*h)
	*h = append(*h, b)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*h = old[:n-1]
	return b
}
