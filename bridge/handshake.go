package bridge

import (
	"time"

	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/spark"
)

// Notifier emits messages to the app as one uninterrupted burst
type Notifier interface {
	NotifyBurst(msgs [][]byte, delay time.Duration) error
}

// Handshake answers the app's session bootstrap with canned replies, one
// step per session-initiating message, cycling through the steps.
type Handshake struct {
	state    *State
	notifier Notifier
	delay    time.Duration
}

// NewHandshake creates the sequencer; delay paces consecutive notifications
func NewHandshake(state *State, notifier Notifier, delay time.Duration) *Handshake {
	return &Handshake{state: state, notifier: notifier, delay: delay}
}

// Step advances the cursor and emits that step's messages
func (h *Handshake) Step() (int, error) {
	step := h.state.AdvanceCursor(spark.HandshakeSteps)
	msgs := spark.CannedMessage(step)
	logger.Debug("Handshake", "🤝 step %d (%s): %d message(s)", step, spark.StepName(step), len(msgs))
	if err := h.notifier.NotifyBurst(msgs, h.delay); err != nil {
		logger.Warn("Handshake", "❌ step %d failed: %v", step, err)
		return step, err
	}
	return step, nil
}
