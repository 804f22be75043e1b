// Package gate tracks per-user timeouts and message quotas.
//
// Each user has at most one AccessState. Entries are created lazily by
// the administrative setters and disappear when cleared, or when an
// expired timeout is observed by CheckAndConsume and no quota remains.
// There is no background sweeper.
package gate

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rcliao/chat-relay/internal/clock"
)

// ErrInvalidArgument is returned for malformed administrative input.
var ErrInvalidArgument = errors.New("invalid argument")

// Kind is the outcome class of an access check.
type Kind int

const (
	Allowed Kind = iota
	DeniedTimedOut
	DeniedQuotaExhausted
)

func (k Kind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case DeniedTimedOut:
		return "timed_out"
	case DeniedQuotaExhausted:
		return "quota_exhausted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is the result of CheckAndConsume. Until is set for DeniedTimedOut.
type Decision struct {
	Kind  Kind
	Until time.Time
}

// Allowed reports whether the user may proceed.
func (d Decision) Allowed() bool { return d.Kind == Allowed }

// AccessState is the restriction state of one user.
type AccessState struct {
	TimeoutExpiry  *time.Time `json:"timeout_expiry,omitempty"`
	QuotaRemaining *int       `json:"quota_remaining,omitempty"`
}

func (s *AccessState) empty() bool {
	return s.TimeoutExpiry == nil && s.QuotaRemaining == nil
}

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]*AccessState
}

// Gate is a concurrency-safe keyed store of AccessState. Every operation
// on a user runs under that user's shard lock, so check-and-decrement is
// atomic.
type Gate struct {
	clock  clock.Clock
	shards [shardCount]shard
}

// New returns an empty Gate.
func New(c clock.Clock) *Gate {
	if c == nil {
		c = clock.Real()
	}
	g := &Gate{clock: c}
	for i := range g.shards {
		g.shards[i].entries = make(map[string]*AccessState)
	}
	return g
}

func (g *Gate) shardFor(user string) *shard {
	h := fnv.New32a()
	h.Write([]byte(user))
	return &g.shards[h.Sum32()%shardCount]
}

// CheckAndConsume decides whether user may interact now, consuming one
// unit of quota when a quota is set.
func (g *Gate) CheckAndConsume(user string) Decision {
	sh := g.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.entries[user]
	if !ok {
		return Decision{Kind: Allowed}
	}

	if st.TimeoutExpiry != nil {
		if g.clock.Now().Before(*st.TimeoutExpiry) {
			return Decision{Kind: DeniedTimedOut, Until: *st.TimeoutExpiry}
		}
		st.TimeoutExpiry = nil
	}

	if st.QuotaRemaining != nil {
		if *st.QuotaRemaining <= 0 {
			return Decision{Kind: DeniedQuotaExhausted}
		}
		*st.QuotaRemaining--
	}

	if st.empty() {
		delete(sh.entries, user)
	}
	return Decision{Kind: Allowed}
}

// SetTimeout denies user until d from now, replacing any earlier timeout.
func (g *Gate) SetTimeout(user string, d time.Duration) (time.Time, error) {
	if user == "" {
		return time.Time{}, fmt.Errorf("timeout: empty user: %w", ErrInvalidArgument)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("timeout: duration must be positive: %w", ErrInvalidArgument)
	}

	sh := g.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	until := g.clock.Now().Add(d)
	g.entry(sh, user).TimeoutExpiry = &until
	return until, nil
}

// ClearTimeout lifts the user's timeout. Reports whether one was set.
func (g *Gate) ClearTimeout(user string) bool {
	sh := g.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.entries[user]
	if !ok || st.TimeoutExpiry == nil {
		return false
	}
	st.TimeoutExpiry = nil
	if st.empty() {
		delete(sh.entries, user)
	}
	return true
}

// SetQuota limits user to n further interactions.
func (g *Gate) SetQuota(user string, n int) error {
	if user == "" {
		return fmt.Errorf("quota: empty user: %w", ErrInvalidArgument)
	}
	if n < 0 {
		return fmt.Errorf("quota: must not be negative: %w", ErrInvalidArgument)
	}

	sh := g.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	g.entry(sh, user).QuotaRemaining = &n
	return nil
}

// ClearQuota removes the user's quota. Reports whether one was set.
func (g *Gate) ClearQuota(user string) bool {
	sh := g.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.entries[user]
	if !ok || st.QuotaRemaining == nil {
		return false
	}
	st.QuotaRemaining = nil
	if st.empty() {
		delete(sh.entries, user)
	}
	return true
}

// State returns a copy of the user's state, if any.
func (g *Gate) State(user string) (AccessState, bool) {
	sh := g.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.entries[user]
	if !ok {
		return AccessState{}, false
	}
	var out AccessState
	if st.TimeoutExpiry != nil {
		t := *st.TimeoutExpiry
		out.TimeoutExpiry = &t
	}
	if st.QuotaRemaining != nil {
		n := *st.QuotaRemaining
		out.QuotaRemaining = &n
	}
	return out, true
}

// entry returns the user's state, creating it. Caller holds sh.mu.
func (g *Gate) entry(sh *shard, user string) *AccessState {
	st, ok := sh.entries[user]
	if !ok {
		st = &AccessState{}
		sh.entries[user] = st
	}
	return st
}
