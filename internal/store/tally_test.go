package store

import (
	"sync"
	"testing"
	"time"

	"github.com/rcliao/chat-relay/internal/clock"
	"github.com/rcliao/chat-relay/internal/model"
)

func TestTallyConcurrentRecord(t *testing.T) {
	tally := NewTally(clock.Fake(testStart))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tally.Record(model.Message{Sender: "Alice", Conversation: "general", SentByUser: true})
		}()
	}
	wg.Wait()

	st := tally.Snapshot()
	if st.TotalMessages != 50 || st.MessagesPerUser["Alice"] != 50 {
		t.Errorf("unexpected snapshot %+v", st)
	}
}

func TestTallyResetKeepsUptime(t *testing.T) {
	c := clock.Fake(testStart)
	tally := NewTally(c)
	tally.Record(model.Message{Sender: "Alice", Conversation: "general", SentByUser: true})

	c.Advance(5 * time.Minute)
	tally.Reset()

	st := tally.Snapshot()
	if st.TotalMessages != 0 || len(st.MessagesPerUser) != 0 || len(st.MessagesPerChannel) != 0 {
		t.Errorf("expected zeroed counts, got %+v", st)
	}
	if st.Uptime != 5*time.Minute {
		t.Errorf("expected uptime 5m, got %v", st.Uptime)
	}
}

func TestTallySnapshotIsCopy(t *testing.T) {
	tally := NewTally(clock.Fake(testStart))
	tally.Record(model.Message{Sender: "Alice", Conversation: "general", SentByUser: true})

	st := tally.Snapshot()
	st.MessagesPerUser["Alice"] = 99

	if tally.Snapshot().MessagesPerUser["Alice"] != 1 {
		t.Error("snapshot mutation leaked into tally")
	}
}
