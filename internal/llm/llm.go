// Package llm defines the completion collaborator and its implementations.
package llm

import (
	"context"
	"errors"

	"github.com/rcliao/chat-relay/internal/model"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Completer turns an ordered list of turns into a single answer.
type Completer interface {
	Complete(ctx context.Context, modelName string, turns []model.Turn) (string, error)
}
