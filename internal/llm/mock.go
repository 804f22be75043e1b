package llm

import (
	"context"
	"fmt"

	"github.com/rcliao/chat-relay/internal/model"
)

// Mock is a Completer for local runs without credentials. It echoes the
// last user turn.
type Mock struct{}

// NewMock returns a Mock completer.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) Complete(ctx context.Context, modelName string, turns []model.Turn) (string, error) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == model.RoleUser {
			return fmt.Sprintf("[%s mock, %d turns] %s", modelName, len(turns), turns[i].Content), nil
		}
	}
	return "", ErrEmptyCompletion
}
