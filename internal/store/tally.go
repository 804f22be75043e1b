package store

import (
	"maps"
	"sync"
	"time"

	"github.com/rcliao/chat-relay/internal/clock"
	"github.com/rcliao/chat-relay/internal/model"
)

// Statistics is a snapshot of the running tally.
type Statistics struct {
	TotalMessages      int            `json:"totalMessages"`
	MessagesPerUser    map[string]int `json:"messagesPerUser"`
	MessagesPerChannel map[string]int `json:"messagesPerChannel"`
	Uptime             time.Duration  `json:"uptime"`
}

// Tally keeps approximate message counts in memory so dashboard reads
// never scan the store. Counts start at zero on every process start and
// are not reconciled with the database.
type Tally struct {
	clock   clock.Clock
	started time.Time

	mu         sync.Mutex
	total      int
	perUser    map[string]int
	perChannel map[string]int
}

// NewTally returns an empty tally whose uptime starts now.
func NewTally(c clock.Clock) *Tally {
	return &Tally{
		clock:      c,
		started:    c.Now(),
		perUser:    make(map[string]int),
		perChannel: make(map[string]int),
	}
}

// Record counts one user-authored message. Assistant messages are ignored.
func (t *Tally) Record(msg model.Message) {
	if !msg.SentByUser {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	t.perUser[msg.Sender]++
	t.perChannel[msg.Conversation]++
}

// Snapshot returns a copy of the current counts.
func (t *Tally) Snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Statistics{
		TotalMessages:      t.total,
		MessagesPerUser:    maps.Clone(t.perUser),
		MessagesPerChannel: maps.Clone(t.perChannel),
		Uptime:             t.clock.Now().Sub(t.started),
	}
}

// Reset zeroes the counts. Uptime is unaffected.
func (t *Tally) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 0
	t.perUser = make(map[string]int)
	t.perChannel = make(map[string]int)
}
