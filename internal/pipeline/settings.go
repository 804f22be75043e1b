package pipeline

import "sync/atomic"

// Settings are the runtime-adjustable values read once per message.
type Settings struct {
	SystemPrompt string `json:"system_prompt"`
	WindowSize   int    `json:"window_size"`
	Model        string `json:"model"`
}

// SettingsHandle publishes Settings as an immutable snapshot. A message
// in flight keeps the snapshot it loaded even if an update lands.
type SettingsHandle struct {
	p atomic.Pointer[Settings]
}

// NewSettingsHandle returns a handle holding initial.
func NewSettingsHandle(initial Settings) *SettingsHandle {
	h := &SettingsHandle{}
	h.p.Store(&initial)
	return h
}

// Load returns the current snapshot.
func (h *SettingsHandle) Load() Settings {
	return *h.p.Load()
}

// Update applies fn to the current snapshot and publishes the result,
// retrying if another update won the race.
func (h *SettingsHandle) Update(fn func(Settings) Settings) Settings {
	for {
		old := h.p.Load()
		next := fn(*old)
		if h.p.CompareAndSwap(old, &next) {
			return next
		}
	}
}
