package snapshot

import (
	"time"

	"github.com/meeplelab/parlor/game/engine"
)

// Default checkpoint cadence and retention.
const (
	DefaultInterval = 10
	DefaultWindow   = 5
)

// Checkpoint is an engine state capture keyed by the action index it was
// taken at: the state after AtActionIndex actions have been applied.
type Checkpoint struct {
	AtActionIndex int
	State         *engine.State
	TakenAt       time.Time
}

// CheckpointManager keeps a rolling window of recent checkpoints so restores
// replay from the nearest capture instead of from the beginning.
// Not internally synchronized; the owning session serializes access.
type CheckpointManager struct {
	interval    int
	window      int
	checkpoints []*Checkpoint
}

// NewCheckpointManager creates a manager. Non-positive arguments fall back
// to the defaults.
func NewCheckpointManager(interval, window int) *CheckpointManager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &CheckpointManager{interval: interval, window: window}
}

// MaybeCapture records a checkpoint when the action index hits the capture
// cadence. Returns true when a checkpoint was taken.
func (m *CheckpointManager) MaybeCapture(g *engine.Game, actionIndex int) bool {
	if actionIndex == 0 || actionIndex%m.interval != 0 {
		return false
	}
	m.Capture(g, actionIndex)
	return true
}

// Capture unconditionally records a checkpoint at the given action index,
// evicting the oldest one beyond the retention window.
func (m *CheckpointManager) Capture(g *engine.Game, actionIndex int) {
	m.checkpoints = append(m.checkpoints, &Checkpoint{
		AtActionIndex: actionIndex,
		State:         g.CaptureState(),
		TakenAt:       time.Now(),
	})
	if len(m.checkpoints) > m.window {
		m.checkpoints = m.checkpoints[len(m.checkpoints)-m.window:]
	}
}

// Nearest returns the most recent checkpoint at or before the target action
// index, or nil when none qualifies.
func (m *CheckpointManager) Nearest(maxIndex int) *Checkpoint {
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].AtActionIndex <= maxIndex {
			return m.checkpoints[i]
		}
	}
	return nil
}

// DiscardAbove drops every checkpoint taken after the given action index.
// Called on undo and rewind: a truncated history invalidates later captures.
func (m *CheckpointManager) DiscardAbove(actionIndex int) {
	kept := m.checkpoints[:0]
	for _, cp := range m.checkpoints {
		if cp.AtActionIndex <= actionIndex {
			kept = append(kept, cp)
		}
	}
	m.checkpoints = kept
}

// Len returns the number of retained checkpoints.
func (m *CheckpointManager) Len() int { return len(m.checkpoints) }

// Reset drops all checkpoints.
func (m *CheckpointManager) Reset() { m.checkpoints = nil }
