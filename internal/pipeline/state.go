package pipeline

import (
	"fmt"

	"github.com/rcliao/chat-relay/internal/gate"
)

// State is the stage an inbound message reached.
type State int

const (
	Received State = iota
	GateChecked
	ContextBuilt
	CompletionRequested
	ResponseChunked
	Persisted
	Delivered
	DeniedAtGate
	Failed
)

var stateNames = [...]string{
	Received:            "received",
	GateChecked:         "gate_checked",
	ContextBuilt:        "context_built",
	CompletionRequested: "completion_requested",
	ResponseChunked:     "response_chunked",
	Persisted:           "persisted",
	Delivered:           "delivered",
	DeniedAtGate:        "denied_at_gate",
	Failed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == Delivered || s == DeniedAtGate || s == Failed
}

// Failure reasons reported in Outcome.Reason.
const (
	ReasonCompletion = "completion"
	ReasonDelivery   = "delivery"
)

// Outcome reports how one inbound message was handled.
type Outcome struct {
	State    State
	Reason   string
	Decision gate.Decision
	Chunks   int
}
