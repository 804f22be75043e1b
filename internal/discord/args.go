package discord

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rcliao/chat-relay/internal/admin"
)

// Args are the named options of one slash command invocation.
type Args map[string]any

// ParseArgs flattens top-level command options by name.
func ParseArgs(opts []*discordgo.ApplicationCommandInteractionDataOption) Args {
	args := make(Args, len(opts))
	for _, o := range opts {
		if o == nil {
			continue
		}
		args[o.Name] = o.Value
	}
	return args
}

// String returns the named option as trimmed text.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %s", admin.ErrInvalidArgument, name)
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", fmt.Errorf("%w: empty %s", admin.ErrInvalidArgument, name)
		}
		return s, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %s has type %T", admin.ErrInvalidArgument, name, v)
	}
}

// Int returns the named option as an integer. Gateway JSON delivers
// integers as float64.
func (a Args) Int(name string) (int, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: missing %s", admin.ErrInvalidArgument, name)
	}
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt32 || t < math.MinInt32 {
			return 0, fmt.Errorf("%w: %s is not an integer", admin.ErrInvalidArgument, name)
		}
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not an integer", admin.ErrInvalidArgument, name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", admin.ErrInvalidArgument, name, v)
	}
}
